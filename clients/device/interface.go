package device

import (
	"context"
	"errors"
	"io"
	"time"
)

// Connection errors. Connect wraps one of the first three.
var (
	ErrPortNotFound     = errors.New("port not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrDeviceBusy       = errors.New("device busy")
)

// Send errors.
var (
	ErrNotConnected = errors.New("not connected")
	ErrIOFailure    = errors.New("i/o failure")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sender is the write half of the channel.
type Sender interface {
	Send(line string) error
}

// Interface is the single serial channel to the device. All methods are safe
// for concurrent use.
type Interface interface {
	Sender
	Connect(ctx context.Context, port string, baud int) error
	TryReceive() (string, bool)
	Disconnect()
	State() State
}

// Port is the part of a serial port the channel needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a port by name at the given baud rate.
type Opener func(name string, baud int) (Port, error)
