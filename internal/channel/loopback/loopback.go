// Package loopback connects two protocol endpoints in memory.
package loopback

import (
	"sync"
	"time"

	"github.com/danmuck/kdlink/internal/channel"
)

const bufferSize = 64 * 1024

type link struct {
	done      chan struct{}
	closeOnce sync.Once
}

func (l *link) close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// End is one side of a loopback pair.
type End struct {
	in          <-chan byte
	out         chan<- byte
	link        *link
	byteTimeout time.Duration
}

// Pair returns two connected ends. Bytes written on one are read on the other.
func Pair(byteTimeout time.Duration) (*End, *End) {
	if byteTimeout <= 0 {
		byteTimeout = channel.DefaultByteTimeout
	}
	ab := make(chan byte, bufferSize)
	ba := make(chan byte, bufferSize)
	l := &link{done: make(chan struct{})}
	a := &End{in: ba, out: ab, link: l, byteTimeout: byteTimeout}
	b := &End{in: ab, out: ba, link: l, byteTimeout: byteTimeout}
	return a, b
}

func (e *End) ReadByte() (byte, error) {
	select {
	case b := <-e.in:
		return b, nil
	default:
	}
	timer := time.NewTimer(e.byteTimeout)
	defer timer.Stop()
	select {
	case b := <-e.in:
		return b, nil
	case <-e.link.done:
		return 0, channel.ErrClosed
	case <-timer.C:
		return 0, channel.ErrTimeout
	}
}

func (e *End) PollByte() (byte, bool) {
	select {
	case b := <-e.in:
		return b, true
	default:
		return 0, false
	}
}

func (e *End) WriteByte(b byte) error {
	select {
	case <-e.link.done:
		return channel.ErrClosed
	default:
	}
	select {
	case e.out <- b:
		return nil
	case <-e.link.done:
		return channel.ErrClosed
	}
}

// Close closes both ends.
func (e *End) Close() error {
	e.link.close()
	return nil
}
