package coordinator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"jarvis-bridge/clients/device"
	"jarvis-bridge/expression"
	"jarvis-bridge/interpreter"
	"jarvis-bridge/listener"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	mu           sync.Mutex
	sends        []string
	incoming     []string
	failSends    bool
	disconnected bool
}

func (d *fakeDevice) Connect(context.Context, string, int) error { return nil }

func (d *fakeDevice) Send(line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failSends || d.disconnected {
		return device.ErrNotConnected
	}

	d.sends = append(d.sends, line)

	return nil
}

func (d *fakeDevice) TryReceive() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.incoming) == 0 {
		return "", false
	}

	line := d.incoming[0]
	d.incoming = d.incoming[1:]

	return line, true
}

func (d *fakeDevice) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.disconnected = true
}

func (d *fakeDevice) State() device.State {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disconnected {
		return device.StateClosed
	}

	return device.StateOpen
}

func (d *fakeDevice) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.sends...)
}

func (d *fakeDevice) isDisconnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.disconnected
}

type fakeSpeech struct {
	mu      sync.Mutex
	phrases []string
}

func (s *fakeSpeech) Speak(_ context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phrases = append(s.phrases, text)
}

func (s *fakeSpeech) Available() bool { return true }

func (s *fakeSpeech) said() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.phrases...)
}

type utterance struct {
	text string
	err  error
}

// fakeVoice hears the wake word `wakes` times, then nothing. Each wake
// consumes one scripted utterance.
type fakeVoice struct {
	mu         sync.Mutex
	wakes      int
	utterances []utterance
	wakeCalls  int
	closed     bool
}

func (v *fakeVoice) ListenForWakeWord(ctx context.Context, _ time.Duration) (bool, error) {
	v.mu.Lock()
	v.wakeCalls++

	if v.wakes > 0 {
		v.wakes--
		v.mu.Unlock()

		return true, nil
	}
	v.mu.Unlock()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return false, nil
	}
}

func (v *fakeVoice) ListenForUtterance(context.Context, time.Duration) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.utterances) == 0 {
		return "", listener.ErrTimeout
	}

	u := v.utterances[0]
	v.utterances = v.utterances[1:]

	return u.text, u.err
}

func (v *fakeVoice) Available() bool { return true }

func (v *fakeVoice) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.closed = true

	return nil
}

func (v *fakeVoice) calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.wakeCalls
}

func (v *fakeVoice) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.closed
}

// busyVoice hears the wake word once, then blocks in the utterance capture
// until released, ignoring ctx like a capture stuck in the audio driver.
type busyVoice struct {
	fakeVoice
	capturing chan struct{}
	release   chan struct{}
}

func newBusyVoice() *busyVoice {
	return &busyVoice{
		fakeVoice: fakeVoice{wakes: 1},
		capturing: make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (v *busyVoice) ListenForUtterance(context.Context, time.Duration) (string, error) {
	close(v.capturing)
	<-v.release

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return "", errors.New("capture on a closed voice source")
	}

	return "", listener.ErrTimeout
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type harness struct {
	dev    *fakeDevice
	speech *fakeSpeech
	out    *bytes.Buffer
	bridge *Bridge

	mu    sync.Mutex
	lines []string
}

func newHarness(t *testing.T, dev *fakeDevice, voice listener.Interface, in io.Reader, opts ...func(*Config)) *harness {
	t.Helper()

	h := &harness{dev: dev, speech: &fakeSpeech{}, out: &bytes.Buffer{}}

	faces, err := expression.New(&expression.Config{Sender: dev})
	require.NoError(t, err)

	i, err := interpreter.New(&interpreter.Config{
		Expression: faces,
		Device:     dev,
		Speech:     h.speech,
		Now:        func() time.Time { return time.Date(2024, time.March, 5, 14, 30, 0, 0, time.UTC) },
		Sleep:      noSleep,
	})
	require.NoError(t, err)

	cfg := &Config{
		Device:       dev,
		Faces:        faces,
		Interpreter:  i,
		Speech:       h.speech,
		Voice:        voice,
		In:           in,
		Out:          h.out,
		PortName:     "/dev/ttyTEST",
		OnLine:       h.observe,
		PollInterval: 5 * time.Millisecond,
		Sleep:        noSleep,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	h.bridge, err = New(cfg)
	require.NoError(t, err)

	return h
}

func (h *harness) observe(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lines = append(h.lines, line)
}

func (h *harness) observed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.lines...)
}

func (h *harness) start(ctx context.Context) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- h.bridge.Run(ctx)
	}()

	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)
}

func TestRun_QuitStopsEveryTask(t *testing.T) {
	dev := &fakeDevice{incoming: []string{"audio level: 3", "face ok"}}
	voice := &fakeVoice{}
	in, typed := io.Pipe()
	defer typed.Close()

	h := newHarness(t, dev, voice, in)
	done := h.start(context.Background())

	require.Eventually(t, func() bool {
		return voice.calls() > 1 && len(h.observed()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, h.bridge.Running())

	_, err := typed.Write([]byte("quit\n"))
	require.NoError(t, err)

	waitDone(t, done)

	assert.Equal(t, []string{"face:idle", "face:idle"}, dev.sent())
	assert.Equal(t, []string{"audio level: 3", "face ok"}, h.observed())
	assert.True(t, dev.isDisconnected())
	assert.True(t, voice.isClosed())
	assert.False(t, h.bridge.Running())
	assert.Contains(t, h.out.String(), "JARVIS Brain is online")
	assert.Contains(t, h.out.String(), "JARVIS Brain shutting down...")
}

func TestRun_InterruptStopsEveryTask(t *testing.T) {
	dev := &fakeDevice{}
	voice := &fakeVoice{}
	in, typed := io.Pipe()
	defer typed.Close()

	h := newHarness(t, dev, voice, in)

	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)

	require.Eventually(t, func() bool { return voice.calls() > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	waitDone(t, done)

	assert.Equal(t, []string{"face:idle", "face:idle"}, dev.sent())
	assert.True(t, dev.isDisconnected())
}

func TestRun_EndOfInputStops(t *testing.T) {
	dev := &fakeDevice{}
	h := newHarness(t, dev, nil, strings.NewReader("led on\n"))

	waitDone(t, h.start(context.Background()))

	assert.Equal(t, []string{"face:idle", "led on", "face:idle"}, dev.sent())
	assert.Contains(t, h.out.String(), "voice:  off")
}

func TestRun_ConsoleCommands(t *testing.T) {
	dev := &fakeDevice{}
	input := strings.Join([]string{
		"help",
		"face dancing",
		"face HAPPY",
		"say Hello Tony",
		"LED ON",
		"led dim",
		"status",
		"",
		"lights off",
		"quit",
		"led on",
	}, "\n")

	h := newHarness(t, dev, listener.NewNoop(), strings.NewReader(input))

	waitDone(t, h.start(context.Background()))

	assert.Equal(t, []string{
		"face:idle",
		"face:happy",
		"led on",
		"status",
		"led off",
		"face:idle",
		"face:idle",
	}, dev.sent())
	assert.Equal(t, []string{"Hello Tony", "I'm not sure how to help with that", "Lights off"}, h.speech.said())

	out := h.out.String()
	assert.Contains(t, out, "Commands:")
	assert.Contains(t, out, "Invalid expression. Use: idle, happy")
	assert.Contains(t, out, "Face set to: happy")
	assert.Contains(t, out, "voice:  off")
}

func TestRun_SendFailuresKeepTheConsoleAlive(t *testing.T) {
	dev := &fakeDevice{failSends: true}
	h := newHarness(t, dev, nil, strings.NewReader("led on\nsay still here\nquit\n"))

	waitDone(t, h.start(context.Background()))

	assert.Empty(t, dev.sent())
	assert.Equal(t, []string{"still here"}, h.speech.said())
	assert.Contains(t, h.out.String(), "Not connected, command not sent")
	assert.True(t, dev.isDisconnected())
}

func TestRun_Voice(t *testing.T) {
	tests := []struct {
		name      string
		utterance utterance
		wantSent  []string
		wantSaid  []string
	}{
		{
			name:      "nothing said after the wake word",
			utterance: utterance{err: listener.ErrTimeout},
			wantSent:  []string{"face:idle", "face:listening", "face:idle", "face:idle"},
			wantSaid:  []string{"Yes sir?", "I didn't hear anything"},
		},
		{
			name:      "speech that could not be recognised",
			utterance: utterance{err: listener.ErrUnclear},
			wantSent:  []string{"face:idle", "face:listening", "face:idle", "face:idle"},
			wantSaid:  []string{"Yes sir?", "I didn't understand that"},
		},
		{
			name:      "a request that ends on idle",
			utterance: utterance{text: "what's the date"},
			wantSent: []string{
				"face:idle",
				"face:listening",
				"face:thinking",
				"face:speaking",
				"face:idle",
				"face:idle",
			},
			wantSaid: []string{"Yes sir?", "Today is March 05, 2024"},
		},
		{
			name:      "an unknown request is brought back to idle",
			utterance: utterance{text: "make me a sandwich"},
			wantSent: []string{
				"face:idle",
				"face:listening",
				"face:thinking",
				"face:idle",
				"face:idle",
			},
			wantSaid: []string{"Yes sir?", "I'm not sure how to help with that"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{}
			voice := &fakeVoice{wakes: 1, utterances: []utterance{tt.utterance}}
			in, typed := io.Pipe()
			defer typed.Close()

			h := newHarness(t, dev, voice, in)
			done := h.start(context.Background())

			want := tt.wantSaid[len(tt.wantSaid)-1]
			require.Eventually(t, func() bool {
				said := h.speech.said()

				return len(said) > 0 && said[len(said)-1] == want && voice.calls() > 1
			}, time.Second, 5*time.Millisecond)

			_, err := typed.Write([]byte("quit\n"))
			require.NoError(t, err)

			waitDone(t, done)

			assert.Equal(t, tt.wantSent, dev.sent())
			assert.Equal(t, tt.wantSaid, h.speech.said())
		})
	}
}

func TestRun_BusyVoiceIsNotClosedUnderneathItsTask(t *testing.T) {
	dev := &fakeDevice{}
	voice := newBusyVoice()
	in, typed := io.Pipe()
	defer typed.Close()

	h := newHarness(t, dev, voice, in, func(cfg *Config) {
		cfg.ShutdownGrace = 20 * time.Millisecond
	})
	done := h.start(context.Background())

	select {
	case <-voice.capturing:
	case <-time.After(time.Second):
		t.Fatal("voice task never started capturing")
	}

	_, err := typed.Write([]byte("quit\n"))
	require.NoError(t, err)

	waitDone(t, done)

	assert.False(t, voice.isClosed(), "voice source closed while its capture was still running")
	assert.True(t, dev.isDisconnected())
	assert.Equal(t, []string{"face:idle", "face:listening", "face:idle"}, dev.sent())

	close(voice.release)
}

func TestRun_VoiceClosedAfterItsTaskStops(t *testing.T) {
	dev := &fakeDevice{}
	voice := newBusyVoice()
	in, typed := io.Pipe()
	defer typed.Close()

	h := newHarness(t, dev, voice, in)
	done := h.start(context.Background())

	select {
	case <-voice.capturing:
	case <-time.After(time.Second):
		t.Fatal("voice task never started capturing")
	}

	_, err := typed.Write([]byte("quit\n"))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	close(voice.release)

	waitDone(t, done)

	assert.True(t, voice.isClosed())
	assert.Equal(t, []string{"I didn't hear anything"}, h.speech.said()[1:])
}
