// Package channel defines the byte link the debugger protocol runs over.
//
// A Channel is unbuffered and unreliable from the protocol's point of view:
// bytes may be dropped or corrupted, and reads only ever wait a bounded time.
package channel

import (
	"errors"
	"io"
)

var (
	ErrTimeout = errors.New("channel: read timeout")
	ErrClosed  = errors.New("channel: closed")
)

// Channel is the byte transport consumed by the protocol engine.
type Channel interface {
	// ReadByte waits a bounded time for one byte. It returns ErrTimeout when none arrived.
	ReadByte() (byte, error)
	// WriteByte queues or writes one byte.
	WriteByte(b byte) error
	// PollByte returns a byte only if one is immediately available.
	PollByte() (byte, bool)
}

// Flusher is implemented by channels that batch writes.
type Flusher interface {
	Flush() error
}

// Conn is a Channel that owns an underlying transport.
type Conn interface {
	Channel
	io.Closer
}

// Flush flushes ch when it batches writes.
func Flush(ch Channel) error {
	if f, ok := ch.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// Write writes every byte of b to ch.
func Write(ch Channel, b []byte) error {
	for _, v := range b {
		if err := ch.WriteByte(v); err != nil {
			return err
		}
	}
	return nil
}
