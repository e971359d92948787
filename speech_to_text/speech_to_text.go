package speech_to_text

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const sampleRate = whisper.SampleRate

type sttImpl struct {
	model    whisper.Model
	language string
	fileSys  afero.Fs
	log      zerolog.Logger

	// whisper contexts are not safe to run in parallel on one model
	mu sync.Mutex
}

type Config struct {
	Model    whisper.Model
	Language string
	FileSys  afero.Fs
	Logger   zerolog.Logger
}

func New(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Model == nil {
		return nil, fmt.Errorf("model is nil")
	}

	fileSys := cfg.FileSys
	if fileSys == nil {
		fileSys = afero.NewOsFs()
	}

	return &sttImpl{
		model:    cfg.Model,
		language: cfg.Language,
		fileSys:  fileSys,
		log:      cfg.Logger,
	}, nil
}

func (stt *sttImpl) Transcribe(ctx context.Context, wavBuffer *audio.IntBuffer) (string, error) {
	if wavBuffer == nil || len(wavBuffer.Data) == 0 {
		return "", nil
	}

	if wavBuffer.Format != nil && wavBuffer.Format.SampleRate != sampleRate {
		return "", fmt.Errorf("sample rate %d not supported, need %d", wavBuffer.Format.SampleRate, sampleRate)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	stt.mu.Lock()
	defer stt.mu.Unlock()

	// Create processing context
	context, err := stt.model.NewContext()
	if err != nil {
		return "", err
	}

	if stt.language != "" {
		if err := context.SetLanguage(stt.language); err != nil {
			stt.log.Warn().Err(err).Str("language", stt.language).Msg("language not supported by model")
		}
	}

	started := time.Now()

	err = context.Process(normalize(wavBuffer), nil)
	if err != nil {
		return "", err
	}

	segments, err := outputSegments(context)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(strings.Join(segments, " "))

	stt.log.Debug().Dur("took", time.Since(started)).Str("text", text).Msg("transcribed")

	return text, nil
}

// TranscribeFile decodes a 16 kHz mono PCM WAV file and transcribes it.
func (stt *sttImpl) TranscribeFile(ctx context.Context, path string) (string, error) {
	f, err := stt.fileSys.Open(path)
	if err != nil {
		return "", err
	}

	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return "", fmt.Errorf("%s: not a valid wav file", path)
	}

	if decoder.NumChans != 1 {
		return "", fmt.Errorf("%s: %d channels, need mono", path, decoder.NumChans)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}

	return stt.Transcribe(ctx, buf)
}

// normalize scales 16-bit samples into the [-1, 1] range whisper expects.
func normalize(buf *audio.IntBuffer) []float32 {
	data := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		data[i] = float32(s) / 32768
	}

	return data
}

// segmentSource is the part of a whisper context that yields results.
type segmentSource interface {
	NextSegment() (whisper.Segment, error)
}

func outputSegments(context segmentSource) ([]string, error) {
	seenText := make(map[string]bool)

	segments := make([]string, 0)

	for {
		segment, err := context.NextSegment()
		if err == io.EOF {
			return segments, nil
		} else if err != nil {
			return nil, err
		}

		text := strings.TrimSpace(segment.Text)

		// whisper marks non-speech as [BLANK_AUDIO], (music) and the like
		if len(text) == 0 || text[0] == '(' || text[0] == '[' ||
			text[len(text)-1] == ')' || text[len(text)-1] == ']' {
			continue
		}

		// if we've already seen this text, then ignore it
		if seenText[text] {
			continue
		}

		seenText[text] = true

		segments = append(segments, text)
	}
}
