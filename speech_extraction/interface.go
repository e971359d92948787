package speech_extraction

import (
	"context"
	"time"

	"jarvis-bridge/speech_extraction/vad"

	"github.com/go-audio/audio"
)

// ErrNoSpeech is returned when nothing was said within the wait time.
var ErrNoSpeech = vad.ErrNoSpeech

type Interface interface {
	// Capture records one utterance from the default input device. It waits
	// up to wait for speech to begin and then records at most limit.
	Capture(ctx context.Context, wait, limit time.Duration) (*audio.IntBuffer, error)
	Close() error
}
