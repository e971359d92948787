package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"jarvis-bridge/clients/device"
	"jarvis-bridge/config"
	"jarvis-bridge/coordinator"
	"jarvis-bridge/expression"
	"jarvis-bridge/interpreter"
	"jarvis-bridge/listener"
	"jarvis-bridge/logging"
	"jarvis-bridge/speech_extraction"
	"jarvis-bridge/speech_synthesis"
	"jarvis-bridge/speech_to_text"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, log, err := settings(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()

	client, err := connect(ctx, cfg, log, out)
	if err != nil {
		return err
	}

	faces, err := expression.New(&expression.Config{
		Sender: client,
		Logger: logging.Component(log, "expression"),
	})
	if err != nil {
		client.Disconnect()

		return err
	}

	speech, err := speech_synthesis.New(&speech_synthesis.Config{
		Disabled: !cfg.Speech.Enabled,
		Command:  cfg.Speech.Command,
		Voice:    cfg.Speech.Voice,
		Rate:     cfg.Speech.Rate,
		Out:      out,
		Logger:   logging.Component(log, "speech"),
	})
	if err != nil {
		client.Disconnect()

		return err
	}

	interp, err := interpreter.New(&interpreter.Config{
		Expression: faces,
		Device:     client,
		Speech:     speech,
		Delays: interpreter.Delays{
			Clock:       cfg.Delays.Clock,
			LightsOn:    cfg.Delays.LightsOn,
			StatusQuery: cfg.Delays.StatusQuery,
			Status:      cfg.Delays.Status,
			Emotion:     cfg.Delays.Emotion,
			Scan:        cfg.Delays.Scan,
			TestStep:    cfg.Delays.TestStep,
			TestLED:     cfg.Delays.TestLED,
		},
		Logger: logging.Component(log, "interpreter"),
	})
	if err != nil {
		client.Disconnect()

		return err
	}

	// from here on the bridge owns the voice source and closes it once the
	// voice task has stopped
	voice := openVoice(cfg, logging.Component(log, "voice"))

	bridge, err := coordinator.New(&coordinator.Config{
		Device:         client,
		Faces:          faces,
		Interpreter:    interp,
		Speech:         speech,
		Voice:          voice,
		In:             cmd.InOrStdin(),
		Out:            out,
		PortName:       cfg.Port,
		PollInterval:   cfg.PollInterval,
		WakeTimeout:    cfg.Voice.WakeTimeout,
		CommandTimeout: cfg.Voice.CommandTimeout,
		VoiceIdleDelay: cfg.Delays.VoiceIdle,
		StartupDelay:   cfg.StartupDelay,
		Logger:         logging.Component(log, "bridge"),
	})
	if err != nil {
		_ = voice.Close()
		client.Disconnect()

		return err
	}

	return bridge.Run(ctx)
}

// connect opens the device. On failure the ports the system can see are
// listed to help pick the right one.
func connect(ctx context.Context, cfg *config.Config, log zerolog.Logger, out io.Writer) (device.Interface, error) {
	client, err := device.NewClient(&device.Config{
		ReadTimeout: cfg.ReadTimeout,
		SettleDelay: cfg.SettleDelay,
		Logger:      logging.Component(log, "device"),
	})
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "Connecting to %s at %d baud...\n", cfg.Port, cfg.Baud)

	if err := client.Connect(ctx, cfg.Port, cfg.Baud); err != nil {
		if ctx.Err() == nil {
			printPorts(out)
		}

		return nil, fmt.Errorf("could not connect to %s: %w", cfg.Port, err)
	}

	return client, nil
}

// voiceStack ties the whisper model to the listener built on it so both are
// released together.
type voiceStack struct {
	listener.Interface
	model whisper.Model
}

func (v *voiceStack) Close() error {
	return errors.Join(v.Interface.Close(), v.model.Close())
}

// openVoice builds the microphone, whisper and wake word stack. Any missing
// piece leaves voice off rather than failing the bridge.
func openVoice(cfg *config.Config, log zerolog.Logger) listener.Interface {
	if !cfg.Voice.Enabled {
		log.Info().Msg("voice disabled")

		return listener.NewNoop()
	}

	if cfg.Voice.Model == "" {
		log.Warn().Msg("no whisper model configured, voice disabled")

		return listener.NewNoop()
	}

	model, err := whisper.New(cfg.Voice.Model)
	if err != nil {
		log.Warn().Err(err).Str("model", cfg.Voice.Model).Msg("could not load whisper model, voice disabled")

		return listener.NewNoop()
	}

	fileSys := afero.NewOsFs()

	capturer, err := speech_extraction.New(&speech_extraction.Config{
		FileSys:   fileSys,
		RecordDir: cfg.Voice.RecordDir,
		Logger:    log,
	})
	if err != nil {
		log.Warn().Err(err).Msg("no audio input, voice disabled")
		_ = model.Close()

		return listener.NewNoop()
	}

	sttEngine, err := speech_to_text.New(&speech_to_text.Config{
		Model:    model,
		Language: cfg.Voice.Language,
		FileSys:  fileSys,
		Logger:   log,
	})
	if err != nil {
		log.Warn().Err(err).Msg("voice disabled")
		_ = errors.Join(capturer.Close(), model.Close())

		return listener.NewNoop()
	}

	voice, err := listener.New(&listener.Config{
		Capturer:           capturer,
		STTEngine:          sttEngine,
		WakeWord:           cfg.Voice.WakeWord,
		WakePhraseLimit:    cfg.Voice.WakePhraseLimit,
		CommandPhraseLimit: cfg.Voice.CommandPhraseLimit,
		Logger:             log,
	})
	if err != nil {
		log.Warn().Err(err).Msg("voice disabled")
		_ = errors.Join(capturer.Close(), model.Close())

		return listener.NewNoop()
	}

	log.Info().Str("wake_word", cfg.Voice.WakeWord).Msg("voice enabled")

	return &voiceStack{Interface: voice, model: model}
}

func printPorts(out io.Writer) {
	ports, err := device.ListPorts()
	if err != nil || len(ports) == 0 {
		fmt.Fprintln(out, "No serial ports found.")

		return
	}

	fmt.Fprintln(out, "Available ports:")

	for _, p := range ports {
		fmt.Fprintf(out, "  %s\n", p)
	}
}
