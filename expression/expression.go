// Package expression validates face expressions and sends them to the device.
package expression

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"jarvis-bridge/clients/device"

	"github.com/rs/zerolog"
)

var ErrInvalidExpression = errors.New("invalid expression")

type Expression string

const (
	Idle      Expression = "idle"
	Happy     Expression = "happy"
	Excited   Expression = "excited"
	Thinking  Expression = "thinking"
	Listening Expression = "listening"
	Speaking  Expression = "speaking"
	Scanning  Expression = "scanning"
)

// Vocabulary lists every expression the firmware can render, in display order.
var Vocabulary = []Expression{Idle, Happy, Excited, Thinking, Listening, Speaking, Scanning}

// Parse checks name against the vocabulary.
func Parse(name string) (Expression, error) {
	for _, e := range Vocabulary {
		if string(e) == name {
			return e, nil
		}
	}

	return "", fmt.Errorf("%w: %q (use %s)", ErrInvalidExpression, name, Names())
}

// Names is the vocabulary joined for help and error text.
func Names() string {
	names := make([]string, len(Vocabulary))
	for i, e := range Vocabulary {
		names[i] = string(e)
	}

	return strings.Join(names, ", ")
}

func (e Expression) Directive() string {
	return "face:" + string(e)
}

// Controller mirrors the last expression it sent. The device is never asked,
// so Current is a best-effort view.
type Controller struct {
	sender device.Sender
	log    zerolog.Logger

	mu      sync.Mutex
	current Expression
}

type Config struct {
	Sender device.Sender
	Logger zerolog.Logger
}

func New(cfg *Config) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Sender == nil {
		return nil, fmt.Errorf("sender is nil")
	}

	return &Controller{
		sender: cfg.Sender,
		log:    cfg.Logger,
	}, nil
}

// Set validates name and sends face:<name>. Nothing is sent for an unknown
// name. Send errors are returned unchanged.
func (c *Controller) Set(name string) error {
	expr, err := Parse(name)
	if err != nil {
		c.log.Warn().Str("expression", name).Msg("rejected expression")

		return err
	}

	err = c.sender.Send(expr.Directive())
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.current = expr
	c.mu.Unlock()

	return nil
}

func (c *Controller) SetExpression(expr Expression) error {
	return c.Set(string(expr))
}

// Current returns the last expression sent successfully, or "" before the
// first one.
func (c *Controller) Current() Expression {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current
}
