package speech_synthesis

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/rs/zerolog"
)

// Interface is the spoken-output sink. Speak blocks until the phrase has been
// rendered and never fails from the caller's point of view.
type Interface interface {
	Speak(ctx context.Context, text string)
	Available() bool
}

// Runner executes a TTS command.
type Runner func(ctx context.Context, name string, args ...string) error

type Config struct {
	Disabled bool
	// Command overrides the platform TTS binary.
	Command string
	Voice   string
	Rate    int
	// Out receives a "JARVIS: <text>" echo of every phrase.
	Out    io.Writer
	Logger zerolog.Logger

	LookPath func(file string) (string, error)
	Run      Runner
}

type commandImpl struct {
	path  string
	voice string
	rate  int
	out   io.Writer
	run   Runner
	log   zerolog.Logger
}

type noopImpl struct {
	out io.Writer
	log zerolog.Logger
}

// New resolves the TTS capability once. When no usable command is found the
// returned sink only echoes.
func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	if cfg.Disabled {
		return &noopImpl{out: out, log: cfg.Logger}, nil
	}

	lookPath := cfg.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	run := cfg.Run
	if run == nil {
		run = runCommand
	}

	candidates := defaultCommands()
	if cfg.Command != "" {
		candidates = []string{cfg.Command}
	}

	for _, name := range candidates {
		path, err := lookPath(name)
		if err != nil {
			continue
		}

		cfg.Logger.Info().Str("command", path).Msg("text-to-speech enabled")

		return &commandImpl{
			path:  path,
			voice: cfg.Voice,
			rate:  cfg.Rate,
			out:   out,
			run:   run,
			log:   cfg.Logger,
		}, nil
	}

	cfg.Logger.Warn().Strs("tried", candidates).Msg("no text-to-speech command found, speech disabled")

	return &noopImpl{out: out, log: cfg.Logger}, nil
}

func defaultCommands() []string {
	if runtime.GOOS == "darwin" {
		return []string{"say"}
	}

	return []string{"espeak-ng", "espeak"}
}

func (s *commandImpl) Speak(ctx context.Context, text string) {
	fmt.Fprintf(s.out, "JARVIS: %s\n", text)

	err := s.run(ctx, s.path, s.args(text)...)
	if err != nil {
		s.log.Warn().Err(err).Str("text", text).Msg("tts error")
	}
}

func (s *commandImpl) Available() bool { return true }

// args follows the flag dialect of the binary: macOS say takes -r words per
// minute, espeak takes -s.
func (s *commandImpl) args(text string) []string {
	rateFlag := "-s"
	if filepath.Base(s.path) == "say" {
		rateFlag = "-r"
	}

	var args []string

	if s.voice != "" {
		args = append(args, "-v", s.voice)
	}

	if s.rate > 0 {
		args = append(args, rateFlag, strconv.Itoa(s.rate))
	}

	// text that starts with "-" must not be read as a flag
	return append(args, "--", text)
}

func (s *noopImpl) Speak(_ context.Context, text string) {
	fmt.Fprintf(s.out, "JARVIS: %s\n", text)
	s.log.Debug().Str("text", text).Msg("speech disabled")
}

func (s *noopImpl) Available() bool { return false }

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}

	return nil
}
