package coordinator

import (
	"context"
	"errors"

	"jarvis-bridge/expression"
	"jarvis-bridge/listener"
)

const (
	wakeReply     = "Yes sir?"
	heardNothing  = "I didn't hear anything"
	notUnderstood = "I didn't understand that"
)

// listenVoice waits for the wake word and hands each recognised request to
// the interpreter. Failures in one cycle are logged and the loop goes on.
func (b *Bridge) listenVoice(ctx context.Context) {
	for b.running.Load() && ctx.Err() == nil {
		heard, err := b.voice.ListenForWakeWord(ctx, b.wakeTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			b.log.Warn().Err(err).Msg("wake word listen failed")

			if b.sleep(ctx, b.pollInterval) != nil {
				return
			}

			continue
		}

		if !heard || !b.running.Load() {
			continue
		}

		b.handleWake(ctx)
	}
}

func (b *Bridge) handleWake(ctx context.Context) {
	b.log.Info().Msg("wake word detected")

	b.setFace(expression.Listening)
	b.speech.Speak(ctx, wakeReply)

	text, err := b.voice.ListenForUtterance(ctx, b.commandTimeout)

	switch {
	case errors.Is(err, listener.ErrTimeout):
		b.apologise(ctx, heardNothing)

		return
	case errors.Is(err, listener.ErrUnclear):
		b.apologise(ctx, notUnderstood)

		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}

		b.log.Error().Err(err).Msg("speech recognition failed")
		b.setFace(expression.Idle)

		return
	}

	b.log.Info().Str("text", text).Msg("heard")

	b.setFace(expression.Thinking)

	if err := b.interpreter.Handle(ctx, text); err != nil {
		b.log.Error().Err(err).Msg("voice command failed")
	}

	if ctx.Err() != nil || b.faces.Current() == expression.Idle {
		return
	}

	if b.sleep(ctx, b.voiceIdleDelay) != nil {
		return
	}

	b.setFace(expression.Idle)
}

func (b *Bridge) apologise(ctx context.Context, phrase string) {
	b.speech.Speak(ctx, phrase)
	b.setFace(expression.Idle)
}
