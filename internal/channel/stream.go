package channel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

const (
	DefaultByteTimeout = 250 * time.Millisecond
	pollTimeout        = time.Millisecond
	streamBufferSize   = 512
)

// Port is a raw byte stream whose reads can be bounded in time.
// A timed-out Read returns (0, nil) or an error reporting Timeout().
type Port interface {
	io.ReadWriter
	SetReadTimeout(d time.Duration) error
}

// Stream adapts a Port to Channel. Reads are buffered, writes are batched
// until Flush.
type Stream struct {
	port        Port
	byteTimeout time.Duration
	in          []byte
	r, n        int
	out         *bufio.Writer
}

func NewStream(port Port, byteTimeout time.Duration) *Stream {
	if byteTimeout <= 0 {
		byteTimeout = DefaultByteTimeout
	}
	return &Stream{
		port:        port,
		byteTimeout: byteTimeout,
		in:          make([]byte, streamBufferSize),
		out:         bufio.NewWriterSize(port, streamBufferSize),
	}
}

func (s *Stream) ReadByte() (byte, error) {
	if s.r == s.n {
		if err := s.fill(s.byteTimeout); err != nil {
			return 0, err
		}
	}
	b := s.in[s.r]
	s.r++
	return b, nil
}

func (s *Stream) PollByte() (byte, bool) {
	if s.r == s.n {
		if err := s.fill(pollTimeout); err != nil {
			return 0, false
		}
	}
	b := s.in[s.r]
	s.r++
	return b, true
}

func (s *Stream) WriteByte(b byte) error {
	return s.out.WriteByte(b)
}

func (s *Stream) Flush() error {
	return s.out.Flush()
}

func (s *Stream) Close() error {
	flushErr := s.out.Flush()
	if c, ok := s.port.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	if flushErr != nil && !isClosed(flushErr) {
		return flushErr
	}
	return nil
}

func (s *Stream) fill(d time.Duration) error {
	if err := s.port.SetReadTimeout(d); err != nil {
		if isClosed(err) {
			return fmt.Errorf("%w: %v", ErrClosed, err)
		}
		return fmt.Errorf("channel: set read timeout: %w", err)
	}
	n, err := s.port.Read(s.in)
	if n > 0 {
		s.r, s.n = 0, n
		return nil
	}
	switch {
	case err == nil, isTimeout(err):
		return ErrTimeout
	case isClosed(err):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	default:
		return err
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
