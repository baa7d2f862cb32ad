// Package capture records link traffic as a pcap file. Each record is one
// direction byte (0 out, 1 in) followed by the packet as it appears on the wire.
package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/danmuck/kdlink/internal/protocol/packet"
	"github.com/danmuck/kdlink/internal/protocol/session"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// LinkType is LINKTYPE_USER0, reserved for private use.
const LinkType = layers.LinkType(147)

const snapLen = packet.HeaderLen + packet.MaxPacketSize + 2

// Writer is a session.Observer that appends every packet to a pcap stream.
type Writer struct {
	mu    sync.Mutex
	w     *pcapgo.Writer
	buf   *bufio.Writer
	c     io.Closer
	rec   []byte
	now   func() time.Time
	count int
	err   error
}

var _ session.Observer = (*Writer)(nil)

// New writes a pcap file header to w.
func New(w io.Writer) (*Writer, error) {
	buf := bufio.NewWriter(w)
	pw := pcapgo.NewWriter(buf)
	if err := pw.WriteFileHeader(snapLen, LinkType); err != nil {
		return nil, fmt.Errorf("capture: write header: %w", err)
	}
	cw := &Writer{w: pw, buf: buf, now: time.Now, rec: make([]byte, 0, snapLen)}
	if c, ok := w.(io.Closer); ok {
		cw.c = c
	}
	return cw, nil
}

// Create opens path for writing and starts a capture.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	w, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (c *Writer) ObservePacket(dir session.Direction, h packet.Header, header, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.rec = append(c.rec[:0], byte(dir))
	c.rec = packet.Append(c.rec, h, header, data)
	ci := gopacket.CaptureInfo{
		Timestamp:     c.now(),
		CaptureLength: len(c.rec),
		Length:        len(c.rec),
	}
	if err := c.w.WritePacket(ci, c.rec); err != nil {
		c.err = fmt.Errorf("capture: write packet: %w", err)
		return
	}
	c.count++
}

// Count reports how many packets were recorded.
func (c *Writer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Err returns the first write error, after which recording stops.
func (c *Writer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Writer) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Flush()
}

// Close flushes and closes the underlying writer when it is closable.
func (c *Writer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.buf.Flush(); err != nil {
		return err
	}
	if c.c != nil {
		if err := c.c.Close(); err != nil {
			return err
		}
	}
	return c.err
}

// Record is one captured packet.
type Record struct {
	Dir       session.Direction
	Timestamp time.Time
	Packet    packet.Packet
}

// ReadAll decodes every record of a capture written by Writer.
func ReadAll(r io.Reader) ([]Record, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	if pr.LinkType() != LinkType {
		return nil, fmt.Errorf("capture: unexpected link type %v", pr.LinkType())
	}
	var out []Record
	for {
		data, ci, err := pr.ReadPacketData()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("capture: %w", err)
		}
		if len(data) < 1 {
			return out, fmt.Errorf("capture: empty record")
		}
		p, err := packet.ReadPacket(bytes.NewReader(data[1:]), packet.MaxPacketSize)
		if err != nil {
			return out, fmt.Errorf("capture: record %d: %w", len(out), err)
		}
		out = append(out, Record{Dir: session.Direction(data[0]), Timestamp: ci.Timestamp, Packet: p})
	}
}
