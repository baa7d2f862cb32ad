package packet

import (
	"errors"
	"io"
)

// Packet is one complete packet as it appears on the wire, leader aligned.
type Packet struct {
	Header Header
	Body   []byte
}

// Append appends the full wire form (header, body, trailing byte) to dst.
func Append(dst []byte, h Header, header, data []byte) []byte {
	fixed := h.Encode()
	dst = append(dst, fixed[:]...)
	dst = append(dst, header...)
	dst = append(dst, data...)
	return append(dst, TrailingByte)
}

// Bytes is Append into a fresh slice.
func (p Packet) Bytes() []byte {
	return Append(make([]byte, 0, HeaderLen+len(p.Body)+1), p.Header, p.Body, nil)
}

// ReadPacket reads one leader-aligned packet from r. It does not hunt for leaders.
func ReadPacket(r io.Reader, maxSize int) (Packet, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, ErrShortHeader
		}
		return Packet{}, err
	}
	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Packet{}, err
	}
	if maxSize <= 0 {
		maxSize = MaxPacketSize
	}
	if int(h.ByteCount) > maxSize {
		return Packet{}, ErrPacketTooLarge
	}

	body := make([]byte, h.ByteCount)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Packet{}, err
		}
	}
	var trailer [1]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return Packet{}, err
	}
	if trailer[0] != TrailingByte {
		return Packet{}, ErrBadTrailer
	}
	return Packet{Header: h, Body: body}, nil
}
