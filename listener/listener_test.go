package listener

import (
	"context"
	"errors"
	"testing"
	"time"

	"jarvis-bridge/speech_extraction/vad"

	"github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	wait, limit time.Duration
}

type fakeCapturer struct {
	err    error
	calls  []capture
	closed bool
}

func (f *fakeCapturer) Capture(_ context.Context, wait, limit time.Duration) (*audio.IntBuffer, error) {
	f.calls = append(f.calls, capture{wait: wait, limit: limit})

	if f.err != nil {
		return nil, f.err
	}

	return &audio.IntBuffer{Data: []int{1, 2, 3}}, nil
}

func (f *fakeCapturer) Close() error {
	f.closed = true

	return nil
}

type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Transcribe(context.Context, *audio.IntBuffer) (string, error) {
	return f.text, f.err
}

func newVoice(t *testing.T, capturer *fakeCapturer, stt *fakeSTT) Interface {
	t.Helper()

	v, err := New(&Config{
		Capturer:           capturer,
		STTEngine:          stt,
		WakeWord:           "Jarvis",
		WakePhraseLimit:    3 * time.Second,
		CommandPhraseLimit: 5 * time.Second,
	})
	require.NoError(t, err)

	return v
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{STTEngine: &fakeSTT{}, WakeWord: "jarvis"})
	assert.Error(t, err)

	_, err = New(&Config{Capturer: &fakeCapturer{}, WakeWord: "jarvis"})
	assert.Error(t, err)

	_, err = New(&Config{Capturer: &fakeCapturer{}, STTEngine: &fakeSTT{}, WakeWord: " ?! "})
	assert.Error(t, err)
}

func TestListenForWakeWord(t *testing.T) {
	tests := []struct {
		name     string
		heard    string
		captured error
		want     bool
		wantErr  bool
	}{
		{name: "plain wake word", heard: "Jarvis", want: true},
		{name: "wake word inside a sentence with punctuation", heard: "Hey, Jarvis!", want: true},
		{name: "other speech", heard: "hello there", want: false},
		{name: "nothing transcribed", heard: "", want: false},
		{name: "silence is not an error", captured: vad.ErrNoSpeech, want: false},
		{name: "capture failure is reported", captured: errors.New("no input device"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			capturer := &fakeCapturer{err: tt.captured}
			v := newVoice(t, capturer, &fakeSTT{text: tt.heard})

			got, err := v.ListenForWakeWord(context.Background(), time.Second)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []capture{{wait: time.Second, limit: 3 * time.Second}}, capturer.calls)
		})
	}
}

func TestListenForUtterance(t *testing.T) {
	t.Run("returns the recognised text", func(t *testing.T) {
		capturer := &fakeCapturer{}
		v := newVoice(t, capturer, &fakeSTT{text: " What time is it? "})

		text, err := v.ListenForUtterance(context.Background(), 5*time.Second)

		require.NoError(t, err)
		assert.Equal(t, "What time is it?", text)
		assert.Equal(t, []capture{{wait: 5 * time.Second, limit: 5 * time.Second}}, capturer.calls)
	})

	t.Run("silence is a timeout", func(t *testing.T) {
		v := newVoice(t, &fakeCapturer{err: vad.ErrNoSpeech}, &fakeSTT{})

		_, err := v.ListenForUtterance(context.Background(), 5*time.Second)

		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("noise without words is unclear", func(t *testing.T) {
		v := newVoice(t, &fakeCapturer{}, &fakeSTT{text: " ... "})

		_, err := v.ListenForUtterance(context.Background(), 5*time.Second)

		assert.ErrorIs(t, err, ErrUnclear)
	})

	t.Run("transcription errors pass through", func(t *testing.T) {
		boom := errors.New("model crashed")
		v := newVoice(t, &fakeCapturer{}, &fakeSTT{err: boom})

		_, err := v.ListenForUtterance(context.Background(), 5*time.Second)

		assert.ErrorIs(t, err, boom)
	})
}

func TestClose(t *testing.T) {
	capturer := &fakeCapturer{}
	v := newVoice(t, capturer, &fakeSTT{})

	require.NoError(t, v.Close())
	assert.True(t, capturer.closed)
	assert.True(t, v.Available())
}

func TestNoop(t *testing.T) {
	v := NewNoop()
	assert.False(t, v.Available())

	heard, err := v.ListenForWakeWord(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, heard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = v.ListenForWakeWord(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = v.ListenForUtterance(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrTimeout)
}
