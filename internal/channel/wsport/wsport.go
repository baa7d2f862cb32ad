// Package wsport carries the protocol over a WebSocket bridge. Each flushed
// packet travels as one binary message; inbound messages are split back into
// bytes.
package wsport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danmuck/kdlink/internal/channel"
)

const writeWait = 5 * time.Second

// Conn is a channel.Conn backed by a WebSocket connection.
type Conn struct {
	ws          *websocket.Conn
	byteTimeout time.Duration

	rx      chan []byte
	readErr error
	errMu   sync.Mutex

	cur []byte
	out []byte

	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens a WebSocket to url.
func Dial(ctx context.Context, url string, header http.Header, byteTimeout time.Duration) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("wsport: dial %s: %w", url, err)
	}
	return New(ws, byteTimeout), nil
}

// New wraps an established WebSocket and starts its reader.
func New(ws *websocket.Conn, byteTimeout time.Duration) *Conn {
	if byteTimeout <= 0 {
		byteTimeout = channel.DefaultByteTimeout
	}
	c := &Conn{
		ws:          ws,
		byteTimeout: byteTimeout,
		rx:          make(chan []byte, 64),
		done:        make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *Conn) pump() {
	defer close(c.rx)
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.errMu.Lock()
			c.readErr = err
			c.errMu.Unlock()
			return
		}
		if mt != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case c.rx <- data:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) ReadByte() (byte, error) {
	if len(c.cur) == 0 {
		timer := time.NewTimer(c.byteTimeout)
		defer timer.Stop()
		select {
		case msg, ok := <-c.rx:
			if !ok {
				return 0, c.closedErr()
			}
			c.cur = msg
		case <-timer.C:
			return 0, channel.ErrTimeout
		}
	}
	b := c.cur[0]
	c.cur = c.cur[1:]
	return b, nil
}

func (c *Conn) PollByte() (byte, bool) {
	if len(c.cur) == 0 {
		select {
		case msg, ok := <-c.rx:
			if !ok {
				return 0, false
			}
			c.cur = msg
		default:
			return 0, false
		}
	}
	b := c.cur[0]
	c.cur = c.cur[1:]
	return b, true
}

func (c *Conn) WriteByte(b byte) error {
	c.out = append(c.out, b)
	return nil
}

// Flush sends the queued bytes as one binary message.
func (c *Conn) Flush() error {
	if len(c.out) == 0 {
		return nil
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.ws.WriteMessage(websocket.BinaryMessage, c.out)
	c.out = c.out[:0]
	if err != nil {
		return fmt.Errorf("wsport: write: %w", err)
	}
	return nil
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) closedErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr != nil {
		return fmt.Errorf("%w: %v", channel.ErrClosed, c.readErr)
	}
	return channel.ErrClosed
}
