package speech_to_text

import (
	"context"

	"github.com/go-audio/audio"
)

type Interface interface {
	// Transcribe returns the recognised text of a mono 16 kHz buffer, or ""
	// when nothing intelligible was said.
	Transcribe(ctx context.Context, wavBuffer *audio.IntBuffer) (string, error)
	TranscribeFile(ctx context.Context, path string) (string, error)
}
