package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

const (
	defaultReadTimeout = time.Second
	defaultLineBuffer  = 64
	maxPendingBytes    = 4096
)

var errAlreadyConnected = errors.New("already connected")

type clientImpl struct {
	opener      Opener
	readTimeout time.Duration
	settleDelay time.Duration
	lineBuffer  int
	log         zerolog.Logger

	mu    sync.Mutex
	state State
	name  string
	port  Port
	lines chan string
	done  chan struct{}
}

type Config struct {
	// Opener defaults to the system serial driver.
	Opener      Opener
	ReadTimeout time.Duration
	// SettleDelay is waited after opening, before the port is reported
	// open. USB-serial adapters reset the board when the port opens.
	SettleDelay time.Duration
	LineBuffer  int
	Logger      zerolog.Logger
}

func NewClient(cfg *Config) (Interface, error) {
	if cfg == nil {
		return nil, errors.New("missing parameter: cfg")
	}

	if cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("negative settle delay: %s", cfg.SettleDelay)
	}

	client := &clientImpl{
		opener:      cfg.Opener,
		readTimeout: cfg.ReadTimeout,
		settleDelay: cfg.SettleDelay,
		lineBuffer:  cfg.LineBuffer,
		log:         cfg.Logger,
	}

	if client.opener == nil {
		client.opener = OpenSerial
	}

	if client.readTimeout <= 0 {
		client.readTimeout = defaultReadTimeout
	}

	if client.lineBuffer <= 0 {
		client.lineBuffer = defaultLineBuffer
	}

	return client, nil
}

func (c *clientImpl) Connect(ctx context.Context, name string, baud int) error {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()

		return fmt.Errorf("connect %s: %w", name, errAlreadyConnected)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	port, err := c.open(ctx, name, baud)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()

		return err
	}

	c.mu.Lock()
	c.state = StateOpen
	c.name = name
	c.port = port
	c.lines = make(chan string, c.lineBuffer)
	c.done = make(chan struct{})
	go c.readLoop(port, c.lines, c.done)
	c.mu.Unlock()

	c.log.Info().Str("port", name).Int("baud", baud).Msg("connected")

	return nil
}

func (c *clientImpl) open(ctx context.Context, name string, baud int) (Port, error) {
	port, err := c.opener(name, baud)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}

	err = port.SetReadTimeout(c.readTimeout)
	if err != nil {
		_ = port.Close()

		return nil, fmt.Errorf("connect %s: %w: %w", name, ErrIOFailure, err)
	}

	if c.settleDelay > 0 {
		c.log.Debug().Dur("delay", c.settleDelay).Msg("waiting for device reset")

		timer := time.NewTimer(c.settleDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			_ = port.Close()

			return nil, fmt.Errorf("connect %s: %w", name, ctx.Err())
		case <-timer.C:
		}
	}

	return port, nil
}

func (c *clientImpl) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen || c.port == nil {
		return fmt.Errorf("send %q: %w", line, ErrNotConnected)
	}

	_, err := c.port.Write([]byte(line + "\n"))
	if err != nil {
		return fmt.Errorf("send %q: %w: %w", line, ErrIOFailure, err)
	}

	c.log.Info().Str("line", line).Msg("sent")

	return nil
}

func (c *clientImpl) TryReceive() (string, bool) {
	c.mu.Lock()
	lines := c.lines
	c.mu.Unlock()

	if lines == nil {
		return "", false
	}

	select {
	case line := <-lines:
		return line, true
	default:
		return "", false
	}
}

func (c *clientImpl) Disconnect() {
	c.mu.Lock()
	if c.port == nil {
		c.mu.Unlock()

		return
	}

	port, done, name := c.port, c.done, c.name
	c.port = nil
	c.lines = nil
	c.state = StateClosed
	c.mu.Unlock()

	err := port.Close()
	if err != nil {
		c.log.Warn().Err(err).Msg("close port")
	}

	select {
	case <-done:
	case <-time.After(c.readTimeout + time.Second):
		c.log.Warn().Msg("reader did not stop")
	}

	c.log.Info().Str("port", name).Msg("disconnected")
}

func (c *clientImpl) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// readLoop is the only reader of port. It splits the byte stream into lines
// and hands them to TryReceive through the buffered lines channel.
func (c *clientImpl) readLoop(port Port, lines chan<- string, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 256)

	var pending []byte

	for {
		n, err := port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)

			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}

				c.deliver(pending[:i], lines)
				pending = pending[i+1:]
			}

			if len(pending) > maxPendingBytes {
				c.log.Warn().Int("bytes", len(pending)).Msg("discarding unterminated input")
				pending = nil
			}
		}

		if err != nil {
			c.lost(port, err)

			return
		}
	}
}

func (c *clientImpl) deliver(raw []byte, lines chan<- string) {
	if !utf8.Valid(raw) {
		c.log.Debug().Int("bytes", len(raw)).Msg("discarding undecodable line")

		return
	}

	line := strings.TrimRightFunc(string(raw), unicode.IsSpace)
	if line == "" {
		return
	}

	select {
	case lines <- line:
	default:
		c.log.Warn().Str("line", line).Msg("receive buffer full, dropping line")
	}
}

// lost tears the connection down after a read failure, unless Disconnect got
// there first.
func (c *clientImpl) lost(port Port, err error) {
	c.mu.Lock()
	if c.port != port {
		c.mu.Unlock()

		return
	}

	c.port = nil
	c.lines = nil
	c.state = StateClosed
	c.mu.Unlock()

	_ = port.Close()

	c.log.Error().Err(err).Msg("connection lost")
}

// OpenSerial opens a system serial port in 8N1 mode.
func OpenSerial(name string, baud int) (Port, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, classify(err)
	}

	return port, nil
}

// ListPorts returns the serial ports the system knows about.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

func classify(err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.InvalidSerialPort:
			return fmt.Errorf("%w: %w", ErrPortNotFound, err)
		case serial.PermissionDenied:
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		case serial.PortBusy:
			return fmt.Errorf("%w: %w", ErrDeviceBusy, err)
		}
	}

	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrPortNotFound, err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	return err
}
