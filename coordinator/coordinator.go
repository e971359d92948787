// Package coordinator runs the bridge: a serial reader, an optional voice
// listener and the interactive console, all sharing one device channel.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"jarvis-bridge/clients/device"
	"jarvis-bridge/expression"
	"jarvis-bridge/interpreter"
	"jarvis-bridge/listener"
	"jarvis-bridge/speech_synthesis"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval   = 100 * time.Millisecond
	defaultWakeTimeout    = time.Second
	defaultCommandTimeout = 5 * time.Second
	defaultShutdownGrace  = 2 * time.Second
)

// Faces is the expression controller as seen by the coordinator.
type Faces interface {
	SetExpression(e expression.Expression) error
	Current() expression.Expression
}

// Executor runs interpreted and direct commands.
type Executor interface {
	Handle(ctx context.Context, text string) error
	Execute(ctx context.Context, cmd interpreter.Command) error
	RunTestSequence(ctx context.Context) error
}

// Bridge is the shared context of the three input tasks. The running flag is
// the only cross-task signal; everything else goes through the device
// channel, which serialises its own calls.
type Bridge struct {
	device      device.Interface
	faces       Faces
	interpreter Executor
	speech      speech_synthesis.Interface
	voice       listener.Interface

	in       io.Reader
	out      io.Writer
	portName string
	onLine   func(line string)

	pollInterval   time.Duration
	wakeTimeout    time.Duration
	commandTimeout time.Duration
	voiceIdleDelay time.Duration
	startupDelay   time.Duration
	shutdownGrace  time.Duration
	sleep          interpreter.Sleeper
	log            zerolog.Logger

	running atomic.Bool
}

type Config struct {
	Device      device.Interface
	Faces       Faces
	Interpreter Executor
	Speech      speech_synthesis.Interface
	// Voice is optional. Without it, or when it reports itself unavailable,
	// no voice task is started.
	Voice listener.Interface

	In       io.Reader
	Out      io.Writer
	PortName string
	// OnLine, when set, sees every line the device sends.
	OnLine func(line string)

	PollInterval   time.Duration
	WakeTimeout    time.Duration
	CommandTimeout time.Duration
	VoiceIdleDelay time.Duration
	StartupDelay   time.Duration
	ShutdownGrace  time.Duration
	Sleep          interpreter.Sleeper
	Logger         zerolog.Logger
}

func New(cfg *Config) (*Bridge, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	switch {
	case cfg.Device == nil:
		return nil, fmt.Errorf("device is nil")
	case cfg.Faces == nil:
		return nil, fmt.Errorf("faces is nil")
	case cfg.Interpreter == nil:
		return nil, fmt.Errorf("interpreter is nil")
	case cfg.Speech == nil:
		return nil, fmt.Errorf("speech is nil")
	}

	b := &Bridge{
		device:         cfg.Device,
		faces:          cfg.Faces,
		interpreter:    cfg.Interpreter,
		speech:         cfg.Speech,
		voice:          cfg.Voice,
		in:             cfg.In,
		out:            cfg.Out,
		portName:       cfg.PortName,
		onLine:         cfg.OnLine,
		pollInterval:   cfg.PollInterval,
		wakeTimeout:    cfg.WakeTimeout,
		commandTimeout: cfg.CommandTimeout,
		voiceIdleDelay: cfg.VoiceIdleDelay,
		startupDelay:   cfg.StartupDelay,
		shutdownGrace:  cfg.ShutdownGrace,
		sleep:          cfg.Sleep,
		log:            cfg.Logger,
	}

	if b.in == nil {
		b.in = os.Stdin
	}

	if b.out == nil {
		b.out = os.Stdout
	}

	if b.pollInterval <= 0 {
		b.pollInterval = defaultPollInterval
	}

	if b.wakeTimeout <= 0 {
		b.wakeTimeout = defaultWakeTimeout
	}

	if b.commandTimeout <= 0 {
		b.commandTimeout = defaultCommandTimeout
	}

	if b.shutdownGrace <= 0 {
		b.shutdownGrace = defaultShutdownGrace
	}

	if b.sleep == nil {
		b.sleep = interpreter.Sleep
	}

	return b, nil
}

// Running reports whether the tasks should keep going.
func (b *Bridge) Running() bool {
	return b.running.Load()
}

// Run expects the device to be connected already. It returns when the console
// ends (quit, end of input or ctx cancelled) and always leaves the device on
// the idle face and disconnected.
func (b *Bridge) Run(ctx context.Context) error {
	b.running.Store(true)

	tasksCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(tasksCtx)

	g.Go(func() error {
		b.readSerial(gctx)

		return nil
	})

	b.startup(tasksCtx)

	voiceOn := b.voice != nil && b.voice.Available()
	if voiceOn {
		g.Go(func() error {
			b.listenVoice(gctx)

			return nil
		})
	}

	b.banner(voiceOn)

	b.console(tasksCtx)

	b.running.Store(false)
	stop()

	stopped := b.waitTasks(g)
	b.shutdown(stopped)

	return nil
}

func (b *Bridge) startup(ctx context.Context) {
	if err := b.sleep(ctx, b.startupDelay); err != nil {
		return
	}

	b.setFace(expression.Idle)
}

// waitTasks reports whether the background tasks stopped within the grace
// period.
func (b *Bridge) waitTasks(g *errgroup.Group) bool {
	done := make(chan struct{})

	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(b.shutdownGrace):
		b.log.Warn().Dur("grace", b.shutdownGrace).Msg("background tasks still busy, shutting down anyway")

		return false
	}
}

// shutdown leaves the device neutral. It runs on every exit path of Run. The
// voice source is only closed once its task has returned.
func (b *Bridge) shutdown(tasksStopped bool) {
	b.setFace(expression.Idle)
	b.device.Disconnect()

	if b.voice != nil {
		if tasksStopped {
			if err := b.voice.Close(); err != nil {
				b.log.Warn().Err(err).Msg("close voice source")
			}
		} else {
			b.log.Warn().Msg("voice source still in use, left open")
		}
	}

	fmt.Fprintln(b.out, "JARVIS Brain shutting down...")
}

// readSerial drains and logs whatever the device sends. Telemetry is only
// observed, never acted on.
func (b *Bridge) readSerial(ctx context.Context) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for b.running.Load() {
		for {
			line, ok := b.device.TryReceive()
			if !ok {
				break
			}

			b.log.Info().Str("line", line).Msg("device")

			if b.onLine != nil {
				b.onLine(line)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Bridge) setFace(e expression.Expression) {
	if err := b.faces.SetExpression(e); err != nil {
		b.log.Warn().Err(err).Str("expression", string(e)).Msg("could not set face")
	}
}
