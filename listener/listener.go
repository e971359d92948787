package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"jarvis-bridge/speech_extraction/vad"

	"github.com/rs/zerolog"
)

const (
	defaultWakePhraseLimit    = 3 * time.Second
	defaultCommandPhraseLimit = 5 * time.Second
)

type voiceImpl struct {
	capturer           Capturer
	sttEngine          Transcriber
	wakeWord           string
	wakePhraseLimit    time.Duration
	commandPhraseLimit time.Duration
	log                zerolog.Logger
}

type Config struct {
	Capturer           Capturer
	STTEngine          Transcriber
	WakeWord           string
	WakePhraseLimit    time.Duration
	CommandPhraseLimit time.Duration
	Logger             zerolog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Capturer == nil {
		return nil, fmt.Errorf("capturer is nil")
	}

	if cfg.STTEngine == nil {
		return nil, fmt.Errorf("sttEngine is nil")
	}

	wakeWord := normalize(cfg.WakeWord)
	if wakeWord == "" {
		return nil, fmt.Errorf("wake word is empty")
	}

	v := &voiceImpl{
		capturer:           cfg.Capturer,
		sttEngine:          cfg.STTEngine,
		wakeWord:           wakeWord,
		wakePhraseLimit:    cfg.WakePhraseLimit,
		commandPhraseLimit: cfg.CommandPhraseLimit,
		log:                cfg.Logger,
	}

	if v.wakePhraseLimit <= 0 {
		v.wakePhraseLimit = defaultWakePhraseLimit
	}

	if v.commandPhraseLimit <= 0 {
		v.commandPhraseLimit = defaultCommandPhraseLimit
	}

	return v, nil
}

// ListenForWakeWord reports whether the next phrase heard within timeout
// contains the wake word. Silence is not an error.
func (v *voiceImpl) ListenForWakeWord(ctx context.Context, timeout time.Duration) (bool, error) {
	waveBuffer, err := v.capturer.Capture(ctx, timeout, v.wakePhraseLimit)
	if errors.Is(err, vad.ErrNoSpeech) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	text, err := v.sttEngine.Transcribe(ctx, waveBuffer)
	if err != nil {
		return false, err
	}

	if !strings.Contains(normalize(text), v.wakeWord) {
		if text != "" {
			v.log.Debug().Str("heard", text).Msg("not the wake word")
		}

		return false, nil
	}

	v.log.Info().Str("heard", text).Msg("wake word detected")

	return true, nil
}

func (v *voiceImpl) ListenForUtterance(ctx context.Context, timeout time.Duration) (string, error) {
	waveBuffer, err := v.capturer.Capture(ctx, timeout, v.commandPhraseLimit)
	if errors.Is(err, vad.ErrNoSpeech) {
		return "", ErrTimeout
	}

	if err != nil {
		return "", err
	}

	text, err := v.sttEngine.Transcribe(ctx, waveBuffer)
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if normalize(text) == "" {
		return "", ErrUnclear
	}

	v.log.Info().Str("text", text).Msg("command heard")

	return text, nil
}

func (v *voiceImpl) Available() bool { return true }

func (v *voiceImpl) Close() error {
	return v.capturer.Close()
}

// normalize lower-cases text and keeps only letters and digits, so "Jarvis!"
// and "jarvis" match.
func normalize(text string) string {
	var b strings.Builder

	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b.WriteRune(r)

			continue
		}

		b.WriteRune(' ')
	}

	return strings.Join(strings.Fields(b.String()), " ")
}
