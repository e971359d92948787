package coordinator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"jarvis-bridge/clients/device"
	"jarvis-bridge/expression"
	"jarvis-bridge/interpreter"
)

const prompt = "JARVIS> "

const help = `Commands:
  say <text>     speak text
  face <name>    set expression (%s)
  led on|off     switch the LED
  status         ask the device for status
  test all       run every expression and blink the LED
  help           show this help
  quit           exit
Anything else is interpreted, e.g. "what time is it" or "lights on".
`

func (b *Bridge) banner(voiceOn bool) {
	fmt.Fprintln(b.out, "JARVIS Brain is online")
	fmt.Fprintf(b.out, "  device: %s\n", b.portName)
	fmt.Fprintf(b.out, "  voice:  %s\n", onOff(voiceOn))
	fmt.Fprintf(b.out, "  speech: %s\n", onOff(b.speech.Available()))
	fmt.Fprintln(b.out, "Type 'help' for commands.")
}

func onOff(v bool) string {
	if v {
		return "on"
	}

	return "off"
}

// console reads commands until quit, end of input or ctx is done. The reader
// runs in its own goroutine so a blocked read never holds up shutdown.
func (b *Bridge) console(ctx context.Context) {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(b.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			b.log.Warn().Err(err).Msg("console input")
		}
	}()

	for {
		fmt.Fprint(b.out, prompt)

		select {
		case <-ctx.Done():
			fmt.Fprintln(b.out)

			return
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(b.out)

				return
			}

			if !b.dispatch(ctx, line) {
				return
			}
		}
	}
}

// dispatch runs one console line and reports whether to keep going.
func (b *Bridge) dispatch(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	cmd := strings.ToLower(input)

	switch {
	case cmd == "":
	case cmd == "quit" || cmd == "exit" || cmd == "q":
		return false
	case cmd == "help":
		fmt.Fprintf(b.out, help, expression.Names())
	case strings.HasPrefix(cmd, "say "):
		b.execute(ctx, interpreter.Command{Intent: interpreter.Speak, Arg: strings.TrimSpace(input[len("say "):])})
	case strings.HasPrefix(cmd, "face "):
		name := strings.TrimSpace(cmd[len("face "):])
		if b.execute(ctx, interpreter.Command{Intent: interpreter.RawFace, Arg: name}) {
			fmt.Fprintf(b.out, "Face set to: %s\n", name)
		}
	case cmd == "led on" || cmd == "led off":
		b.execute(ctx, interpreter.Command{Intent: interpreter.RawLED, Arg: strings.TrimPrefix(cmd, "led ")})
	case cmd == "status":
		b.report(b.device.Send("status"))
	case cmd == "test all":
		b.report(b.interpreter.RunTestSequence(ctx))
	default:
		b.report(b.interpreter.Handle(ctx, input))
	}

	return true
}

func (b *Bridge) execute(ctx context.Context, cmd interpreter.Command) bool {
	return b.report(b.interpreter.Execute(ctx, cmd))
}

// report prints a short reason for a failed command. None of them end the
// console.
func (b *Bridge) report(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, expression.ErrInvalidExpression):
		fmt.Fprintf(b.out, "Invalid expression. Use: %s\n", expression.Names())
	case errors.Is(err, device.ErrNotConnected):
		fmt.Fprintln(b.out, "Not connected, command not sent")
	case errors.Is(err, context.Canceled):
	default:
		fmt.Fprintf(b.out, "Command failed: %v\n", err)
	}

	b.log.Debug().Err(err).Msg("console command")

	return false
}
