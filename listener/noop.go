package listener

import (
	"context"
	"time"
)

type noopImpl struct{}

// NewNoop returns a voice source for when no microphone or model is
// available. It never hears anything.
func NewNoop() Interface { return noopImpl{} }

func (noopImpl) ListenForWakeWord(ctx context.Context, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return false, nil
	}
}

func (noopImpl) ListenForUtterance(context.Context, time.Duration) (string, error) {
	return "", ErrTimeout
}

func (noopImpl) Available() bool { return false }

func (noopImpl) Close() error { return nil }
