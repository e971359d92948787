package main

import (
	"fmt"
	"os"

	"jarvis-bridge/config"
	"jarvis-bridge/logging"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "jarvis-bridge [port]",
	Short: "Voice and keyboard bridge for the JARVIS face controller",
	Long: `jarvis-bridge connects to the face controller over a serial port and turns
typed commands and spoken requests into expression, LED and speech sequences.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBridge,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file (default "+config.DefaultFile+" when present)")
	flags.Int("baud", 0, "serial baud rate")
	flags.Bool("no-voice", false, "disable the microphone and wake word")
	flags.Bool("no-speech", false, "disable text-to-speech, only echo phrases")
	flags.String("model", "", "whisper model file for speech recognition")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
}

// settings loads the config file and applies command line overrides on top.
// A port given as the first argument wins over the file.
func settings(cmd *cobra.Command, args []string) (*config.Config, zerolog.Logger, error) {
	flags := cmd.Flags()

	path, _ := flags.GetString("config")
	required := path != ""
	if path == "" {
		path = config.DefaultFile
	}

	cfg, err := config.Load(afero.NewOsFs(), path, required)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	overrides := config.Overrides{}
	if len(args) > 0 {
		overrides.Port = args[0]
	}

	overrides.Baud, _ = flags.GetInt("baud")
	overrides.NoVoice, _ = flags.GetBool("no-voice")
	overrides.NoSpeech, _ = flags.GetBool("no-speech")
	overrides.Model, _ = flags.GetString("model")
	overrides.LogLevel, _ = flags.GetString("log-level")

	if err := cfg.Apply(overrides); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid settings: %w", err)
	}

	return cfg, logging.New(cfg.LogLevel, os.Stderr), nil
}
