// Package serialport opens a UART as a protocol byte channel.
package serialport

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/danmuck/kdlink/internal/channel"
)

// Options describes the line settings used when opening a real serial port.
type Options struct {
	BaudRate int    `toml:"baud_rate"`
	DataBits int    `toml:"data_bits"`
	StopBits int    `toml:"stop_bits"`
	Parity   string `toml:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o Options) Normalize() (Options, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	if parity == "" {
		parity = "N"
	}
	switch parity {
	case "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	opts.Parity = parity
	return opts, nil
}

// Mode converts the options into the go.bug.st/serial mode structure.
func (o Options) Mode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// Opener opens a serial port; replaced in tests.
type Opener func(path string, mode *serial.Mode) (serial.Port, error)

var open Opener = serial.Open

// Open opens path and wraps it as a channel whose reads wait at most byteTimeout.
func Open(path string, opts Options, byteTimeout time.Duration) (*channel.Stream, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("serialport: path required")
	}
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", path, err)
	}
	return channel.NewStream(port, byteTimeout), nil
}

// List returns the serial ports present on this machine.
func List() ([]string, error) {
	return serial.GetPortsList()
}
