package interpreter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jarvis-bridge/clients/device"
	"jarvis-bridge/expression"
	"jarvis-bridge/speech_synthesis"

	"github.com/rs/zerolog"
)

const (
	timeLayout = "03:04 PM"
	dateLayout = "January 02, 2006"

	apology = "I'm not sure how to help with that"
)

var ErrBadArgument = errors.New("bad argument")

// ExpressionSetter is the part of the expression controller scripts use.
type ExpressionSetter interface {
	Set(name string) error
	SetExpression(e expression.Expression) error
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Delays are the settle pauses after a spoken phrase, before the face goes
// back to idle.
type Delays struct {
	Clock       time.Duration
	LightsOn    time.Duration
	StatusQuery time.Duration
	Status      time.Duration
	Emotion     time.Duration
	Scan        time.Duration
	TestStep    time.Duration
	TestLED     time.Duration
}

type Interpreter struct {
	expression ExpressionSetter
	device     device.Sender
	speech     speech_synthesis.Interface
	delays     Delays
	now        func() time.Time
	sleep      Sleeper
	log        zerolog.Logger
}

type Config struct {
	Expression ExpressionSetter
	Device     device.Sender
	Speech     speech_synthesis.Interface
	Delays     Delays
	Now        func() time.Time
	Sleep      Sleeper
	Logger     zerolog.Logger
}

func New(cfg *Config) (*Interpreter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Expression == nil {
		return nil, fmt.Errorf("expression is nil")
	}

	if cfg.Device == nil {
		return nil, fmt.Errorf("device is nil")
	}

	if cfg.Speech == nil {
		return nil, fmt.Errorf("speech is nil")
	}

	i := &Interpreter{
		expression: cfg.Expression,
		device:     cfg.Device,
		speech:     cfg.Speech,
		delays:     cfg.Delays,
		now:        cfg.Now,
		sleep:      cfg.Sleep,
		log:        cfg.Logger,
	}

	if i.now == nil {
		i.now = time.Now
	}

	if i.sleep == nil {
		i.sleep = Sleep
	}

	return i, nil
}

// Handle interprets text and runs the matching script.
func (i *Interpreter) Handle(ctx context.Context, text string) error {
	intent := Interpret(text)

	i.log.Debug().Str("text", text).Stringer("intent", intent).Msg("interpreted")

	return i.Execute(ctx, Command{Intent: intent})
}

// Execute runs the scripted interaction for cmd. If a step fails the face is
// put back to idle before the error is returned.
func (i *Interpreter) Execute(ctx context.Context, cmd Command) error {
	i.log.Info().Stringer("intent", cmd.Intent).Msg("executing")

	err := i.execute(ctx, cmd)
	if err == nil {
		return nil
	}

	if ctx.Err() == nil && !errors.Is(err, expression.ErrInvalidExpression) && !errors.Is(err, ErrBadArgument) {
		i.resetFace()
	}

	return fmt.Errorf("%s: %w", cmd.Intent, err)
}

func (i *Interpreter) execute(ctx context.Context, cmd Command) error {
	switch cmd.Intent {
	case ReportTime:
		return i.express(ctx, expression.Speaking, "It's "+i.now().Format(timeLayout), i.delays.Clock)
	case ReportDate:
		return i.express(ctx, expression.Speaking, "Today is "+i.now().Format(dateLayout), i.delays.Clock)
	case LightsOn:
		return i.run(ctx,
			i.send("led on"),
			i.face(expression.Happy),
			i.say("Lights on"),
			i.pause(i.delays.LightsOn),
			i.face(expression.Idle),
		)
	case LightsOff:
		return i.run(ctx,
			i.send("led off"),
			i.face(expression.Idle),
			i.say("Lights off"),
		)
	case ReportStatus:
		return i.run(ctx,
			i.send("status"),
			i.pause(i.delays.StatusQuery),
			func(ctx context.Context) error {
				return i.express(ctx, expression.Speaking, "All systems operational", i.delays.Status)
			},
		)
	case ExpressHappy:
		return i.express(ctx, expression.Happy, "Feeling happy!", i.delays.Emotion)
	case ExpressExcited:
		return i.express(ctx, expression.Excited, "I'm excited!", i.delays.Emotion)
	case Scan:
		return i.express(ctx, expression.Scanning, "Scanning environment", i.delays.Scan)
	case RawLED:
		if cmd.Arg != "on" && cmd.Arg != "off" {
			return fmt.Errorf("%w: led %q", ErrBadArgument, cmd.Arg)
		}

		return i.device.Send("led " + cmd.Arg)
	case RawFace:
		return i.expression.Set(cmd.Arg)
	case Speak:
		i.speech.Speak(ctx, cmd.Arg)

		return nil
	default:
		i.speech.Speak(ctx, apology)

		return nil
	}
}

// RunTestSequence shows every expression in turn, then blinks the LED.
func (i *Interpreter) RunTestSequence(ctx context.Context) error {
	var steps []step

	for _, e := range expression.Vocabulary {
		steps = append(steps,
			i.face(e),
			i.say(fmt.Sprintf("Testing %s face", e)),
			i.pause(i.delays.TestStep),
		)
	}

	steps = append(steps,
		i.send("led on"),
		i.pause(i.delays.TestLED),
		i.send("led off"),
		i.face(expression.Idle),
	)

	err := i.run(ctx, steps...)
	if err != nil && ctx.Err() == nil {
		i.resetFace()
	}

	return err
}

type step func(ctx context.Context) error

func (i *Interpreter) run(ctx context.Context, steps ...step) error {
	for _, s := range steps {
		if err := s(ctx); err != nil {
			return err
		}
	}

	return nil
}

// express is the face -> phrase -> settle -> idle bracket shared by most
// scripts.
func (i *Interpreter) express(ctx context.Context, e expression.Expression, phrase string, settle time.Duration) error {
	return i.run(ctx,
		i.face(e),
		i.say(phrase),
		i.pause(settle),
		i.face(expression.Idle),
	)
}

func (i *Interpreter) face(e expression.Expression) step {
	return func(context.Context) error {
		return i.expression.SetExpression(e)
	}
}

func (i *Interpreter) send(line string) step {
	return func(context.Context) error {
		return i.device.Send(line)
	}
}

func (i *Interpreter) say(text string) step {
	return func(ctx context.Context) error {
		i.speech.Speak(ctx, text)

		return nil
	}
}

func (i *Interpreter) pause(d time.Duration) step {
	return func(ctx context.Context) error {
		return i.sleep(ctx, d)
	}
}

func (i *Interpreter) resetFace() {
	err := i.expression.SetExpression(expression.Idle)
	if err != nil {
		i.log.Warn().Err(err).Msg("could not reset face to idle")
	}
}

// Sleep waits for d unless ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
