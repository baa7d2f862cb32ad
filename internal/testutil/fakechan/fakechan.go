// Package fakechan provides a scripted channel for protocol tests.
package fakechan

import (
	"bytes"
	"sync"

	"github.com/danmuck/kdlink/internal/channel"
	"github.com/danmuck/kdlink/internal/protocol/packet"
)

// Chan serves queued input bytes and records everything written. Reads on an
// empty queue time out immediately.
//
// Each Flush parses the bytes written since the previous flush. Complete
// packets are recorded and passed to OnPacket; whatever OnPacket returns is
// queued as input. Bytes that do not parse as a packet are recorded in Raw.
type Chan struct {
	mu       sync.Mutex
	in       []byte
	pending  []byte
	written  bytes.Buffer
	packets  []packet.Packet
	raw      []byte
	timeouts int

	OnPacket func(p packet.Packet) []byte
}

func New() *Chan {
	return &Chan{}
}

// Feed queues bytes for the reader.
func (c *Chan) Feed(b ...[]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range b {
		c.in = append(c.in, v...)
	}
}

func (c *Chan) ReadByte() (byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.in) == 0 {
		c.timeouts++
		return 0, channel.ErrTimeout
	}
	b := c.in[0]
	c.in = c.in[1:]
	return b, nil
}

func (c *Chan) PollByte() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.in) == 0 {
		return 0, false
	}
	b := c.in[0]
	c.in = c.in[1:]
	return b, true
}

func (c *Chan) WriteByte(b byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, b)
	c.written.WriteByte(b)
	return nil
}

func (c *Chan) Flush() error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	var parsed []packet.Packet
	for len(pending) > 0 {
		if _, ok := packet.ClassOf(pending[0]); ok {
			r := bytes.NewReader(pending)
			p, err := packet.ReadPacket(r, packet.MaxPacketSize)
			if err == nil {
				parsed = append(parsed, p)
				pending = pending[len(pending)-r.Len():]
				continue
			}
		}
		c.raw = append(c.raw, pending[0])
		pending = pending[1:]
	}
	c.packets = append(c.packets, parsed...)
	respond := c.OnPacket
	c.mu.Unlock()

	if respond == nil {
		return nil
	}
	for _, p := range parsed {
		if reply := respond(p); len(reply) > 0 {
			c.Feed(reply)
		}
	}
	return nil
}

// Packets returns every packet flushed so far.
func (c *Chan) Packets() []packet.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]packet.Packet(nil), c.packets...)
}

// Raw returns flushed bytes that were not part of a packet.
func (c *Chan) Raw() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.raw...)
}

// Written returns every byte written.
func (c *Chan) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written.Bytes()...)
}

// Remaining reports how many queued input bytes are unread.
func (c *Chan) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.in)
}

// Timeouts reports how many reads found the queue empty.
func (c *Chan) Timeouts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeouts
}

// Ack returns the wire form of an ACK for id.
func Ack(id uint32) []byte {
	return packet.Append(nil, packet.NewControl(packet.TypeAcknowledge, id), nil, nil)
}

// Control returns the wire form of a RESEND or RESET.
func Control(kind packet.Type) []byte {
	return packet.Append(nil, packet.NewControl(kind, 0), nil, nil)
}

// Data returns the wire form of a data packet. It panics on oversized input.
func Data(kind packet.Type, id uint32, header, data []byte) []byte {
	h, err := packet.NewData(kind, id, header, data, packet.MaxPacketSize)
	if err != nil {
		panic(err)
	}
	return packet.Append(nil, h, header, data)
}

// AckEverything replies to each data packet with an ACK of its id.
func AckEverything(p packet.Packet) []byte {
	if p.Header.Class() != packet.ClassData {
		return nil
	}
	return Ack(p.Header.ID)
}
