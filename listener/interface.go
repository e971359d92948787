package listener

import (
	"context"
	"errors"
	"time"

	"github.com/go-audio/audio"
)

var (
	// ErrTimeout means nothing was said before the listen timed out.
	ErrTimeout = errors.New("recognition timeout")
	// ErrUnclear means speech was heard but not recognised.
	ErrUnclear = errors.New("recognition unclear")
)

// Interface is the voice source: a wake word detector plus one-shot command
// capture. Both calls return within roughly their timeout plus the phrase
// limit.
type Interface interface {
	ListenForWakeWord(ctx context.Context, timeout time.Duration) (bool, error)
	ListenForUtterance(ctx context.Context, timeout time.Duration) (string, error)
	Available() bool
	Close() error
}

// Capturer records a single utterance.
type Capturer interface {
	Capture(ctx context.Context, wait, limit time.Duration) (*audio.IntBuffer, error)
	Close() error
}

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavBuffer *audio.IntBuffer) (string, error)
}
