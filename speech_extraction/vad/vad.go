// Package vad detects the start and end of speech from the spectral flux of
// consecutive audio frames.
package vad

import (
	"errors"
	"math/cmplx"
	"time"

	"github.com/mjibson/go-dsp/fft"
)

// ErrNoSpeech is returned by capturers when nothing was said in time.
var ErrNoSpeech = errors.New("no speech detected")

// DefaultRatio is how much the flux has to jump (or fall) between frames to
// count as speech starting (or stopping).
const DefaultRatio = 1.75

type Detector struct {
	frameSize int
	previous  []float64
}

func New(frameSize int) *Detector {
	return &Detector{frameSize: frameSize}
}

// Flux returns the positive spectral change of samples against the frame
// passed on the previous call.
func (d *Detector) Flux(samples []int16) float64 {
	in := make([]float64, d.frameSize)
	for i := 0; i < len(samples) && i < d.frameSize; i++ {
		in[i] = float64(samples[i]) / 32768
	}

	spectrum := fft.FFTReal(in)

	magnitudes := make([]float64, len(spectrum)/2+1)
	for i := range magnitudes {
		magnitudes[i] = cmplx.Abs(spectrum[i])
	}

	var flux float64

	for i, m := range magnitudes {
		var prev float64
		if i < len(d.previous) {
			prev = d.previous[i]
		}

		if diff := m - prev; diff > 0 {
			flux += diff
		}
	}

	d.previous = magnitudes

	return flux
}

type Event int

const (
	None Event = iota
	SpeechStart
	SpeechEnd
)

// Gate turns a stream of flux values into start and end events. Speech ends
// once the flux has stayed low for longer than the quiet time.
type Gate struct {
	ratio     float64
	quietTime time.Duration

	heard      bool
	quiet      bool
	quietStart time.Time
	lastFlux   float64
}

func NewGate(ratio float64, quietTime time.Duration) *Gate {
	if ratio <= 1 {
		ratio = DefaultRatio
	}

	return &Gate{ratio: ratio, quietTime: quietTime}
}

func (g *Gate) Heard() bool {
	return g.heard
}

func (g *Gate) Update(flux float64, now time.Time) Event {
	if g.lastFlux == 0 {
		g.lastFlux = flux

		return None
	}

	if !g.heard {
		event := None
		if flux >= g.lastFlux*g.ratio {
			g.heard = true
			event = SpeechStart
		}

		g.lastFlux = flux

		return event
	}

	if flux*g.ratio > g.lastFlux {
		g.quiet = false
		g.lastFlux = flux

		return None
	}

	if !g.quiet {
		g.quiet = true
		g.quietStart = now

		return None
	}

	if now.Sub(g.quietStart) > g.quietTime {
		return SpeechEnd
	}

	return None
}
