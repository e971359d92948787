package main

import (
	"fmt"
	"time"

	"jarvis-bridge/interpreter"
	"jarvis-bridge/logging"
	"jarvis-bridge/speech_to_text"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const probeWait = time.Second

var probeCmd = &cobra.Command{
	Use:   "probe [port]",
	Short: "Check the connection: send status and print the reply",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := settings(cmd, args)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()

		client, err := connect(cmd.Context(), cfg, log, out)
		if err != nil {
			return err
		}
		defer client.Disconnect()

		if err := client.Send("status"); err != nil {
			return fmt.Errorf("send status: %w", err)
		}

		fmt.Fprintln(out, "Sent: status")

		if err := interpreter.Sleep(cmd.Context(), probeWait); err != nil {
			return err
		}

		replies := 0

		for {
			line, ok := client.TryReceive()
			if !ok {
				break
			}

			replies++
			fmt.Fprintf(out, "Received: %s\n", line)
		}

		if replies == 0 {
			fmt.Fprintln(out, "No response from the device.")
		}

		return nil
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		printPorts(cmd.OutOrStdout())
	},
}

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file.wav>",
	Short: "Transcribe a 16 kHz WAV file with the configured whisper model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := settings(cmd, nil)
		if err != nil {
			return err
		}

		if cfg.Voice.Model == "" {
			return fmt.Errorf("no whisper model, use --model or voice.model")
		}

		model, err := whisper.New(cfg.Voice.Model)
		if err != nil {
			return fmt.Errorf("load model %s: %w", cfg.Voice.Model, err)
		}
		defer model.Close()

		sttEngine, err := speech_to_text.New(&speech_to_text.Config{
			Model:    model,
			Language: cfg.Voice.Language,
			FileSys:  afero.NewOsFs(),
			Logger:   logging.Component(log, "stt"),
		})
		if err != nil {
			return err
		}

		text, err := sttEngine.TranscribeFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), text)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd, portsCmd, transcribeCmd)
}
