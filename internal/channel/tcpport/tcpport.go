// Package tcpport carries the protocol over a TCP stream, such as a virtual
// machine's serial port exported as a socket.
package tcpport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/danmuck/kdlink/internal/channel"
)

type conn struct {
	net.Conn
}

func (c conn) SetReadTimeout(d time.Duration) error {
	return c.SetReadDeadline(time.Now().Add(d))
}

// Dial connects to addr and returns the connection as a channel.
func Dial(ctx context.Context, addr string, byteTimeout time.Duration) (*channel.Stream, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpport: dial %s: %w", addr, err)
	}
	return Wrap(c, byteTimeout), nil
}

// Wrap adapts an established connection.
func Wrap(c net.Conn, byteTimeout time.Duration) *channel.Stream {
	return channel.NewStream(conn{Conn: c}, byteTimeout)
}

// Accept listens on addr and returns the first connection, for peers such as
// an emulator serial port that dial out.
func Accept(ctx context.Context, addr string, byteTimeout time.Duration) (*channel.Stream, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcpport: listen %s: %w", addr, err)
	}
	defer ln.Close()

	type accepted struct {
		c   net.Conn
		err error
	}
	ch := make(chan accepted, 1)
	go func() {
		c, err := ln.Accept()
		ch <- accepted{c, err}
	}()
	select {
	case <-ctx.Done():
		ln.Close()
		if a := <-ch; a.c != nil {
			a.c.Close()
		}
		return nil, ctx.Err()
	case a := <-ch:
		if a.err != nil {
			return nil, fmt.Errorf("tcpport: accept %s: %w", addr, a.err)
		}
		return Wrap(a.c, byteTimeout), nil
	}
}
