package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	DataLeader    uint32 = 0x30303030
	ControlLeader uint32 = 0x69696969

	DataLeaderByte    byte = 0x30
	ControlLeaderByte byte = 0x69
	BreakinByte       byte = 0x62
	TrailingByte      byte = 0xAA

	// LeaderRun is the number of repeated leader bytes that open a packet.
	LeaderRun = 4
	// HeaderLen is the fixed wire header: leader, kind, byte count, id, checksum.
	HeaderLen = 16

	InitialID uint32 = 0x00800000
	SyncBit   uint32 = 1 << 31

	MaxPacketSize = 4000
)

var (
	ErrShortHeader    = errors.New("packet: short fixed header")
	ErrInvalidLeader  = errors.New("packet: invalid leader")
	ErrPacketTooLarge = errors.New("packet: packet too large")
	ErrBadTrailer     = errors.New("packet: missing trailing byte")
)

// Type is the kind field of the wire header.
type Type uint16

const (
	// TypeAny is never sent; receiving with it accepts any data kind.
	TypeAny             Type = 0
	TypeStateChange32   Type = 1
	TypeStateManipulate Type = 2
	TypeDebugIO         Type = 3
	TypeAcknowledge     Type = 4
	TypeResend          Type = 5
	TypeReset           Type = 6
	TypeStateChange64   Type = 7
	TypePollBreakin     Type = 8
	TypeTraceIO         Type = 9
	TypeControlRequest  Type = 10
	TypeFileIO          Type = 11
)

var typeNames = map[Type]string{
	TypeAny:             "any",
	TypeStateChange32:   "state_change32",
	TypeStateManipulate: "state_manipulate",
	TypeDebugIO:         "debug_io",
	TypeAcknowledge:     "ack",
	TypeResend:          "resend",
	TypeReset:           "reset",
	TypeStateChange64:   "state_change64",
	TypePollBreakin:     "poll_breakin",
	TypeTraceIO:         "trace_io",
	TypeControlRequest:  "control_request",
	TypeFileIO:          "file_io",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint16(t))
}

// IsControl reports whether t travels behind the control leader.
func (t Type) IsControl() bool {
	switch t {
	case TypeAcknowledge, TypeResend, TypeReset:
		return true
	default:
		return false
	}
}

// IsCritical reports whether exhausting retries on t marks the debugger absent.
func (t Type) IsCritical() bool {
	switch t {
	case TypeStateChange32, TypeStateChange64, TypeDebugIO:
		return true
	default:
		return false
	}
}

// Class is the leader class of a packet.
type Class uint8

const (
	ClassData Class = iota
	ClassControl
)

func (c Class) String() string {
	if c == ClassControl {
		return "control"
	}
	return "data"
}

// Leader returns the 32-bit leader for the class.
func (c Class) Leader() uint32 {
	if c == ClassControl {
		return ControlLeader
	}
	return DataLeader
}

// ClassOf maps a leader byte to its class.
func ClassOf(b byte) (Class, bool) {
	switch b {
	case DataLeaderByte:
		return ClassData, true
	case ControlLeaderByte:
		return ClassControl, true
	default:
		return 0, false
	}
}

// Header is the fixed wire header.
type Header struct {
	Leader    uint32
	Kind      Type
	ByteCount uint16
	ID        uint32
	Checksum  uint32
}

func (h Header) Class() Class {
	if h.Leader == ControlLeader {
		return ClassControl
	}
	return ClassData
}

// NewData builds the header for a data packet carrying header+data.
func NewData(kind Type, id uint32, header, data []byte, maxSize int) (Header, error) {
	n := len(header) + len(data)
	if maxSize <= 0 || maxSize > MaxPacketSize {
		maxSize = MaxPacketSize
	}
	if n > maxSize {
		return Header{}, fmt.Errorf("%w: %d bytes (max %d)", ErrPacketTooLarge, n, maxSize)
	}
	return Header{
		Leader:    DataLeader,
		Kind:      kind,
		ByteCount: uint16(n),
		ID:        id,
		Checksum:  Accumulate(Checksum(header), data),
	}, nil
}

// NewControl builds a zero-length control packet header.
func NewControl(kind Type, id uint32) Header {
	return Header{Leader: ControlLeader, Kind: kind, ID: id}
}

// Encode returns the little-endian wire form of h.
func (h Header) Encode() [HeaderLen]byte {
	var buf [HeaderLen]byte
	binary.LittleEndian.PutUint32(buf[0:4], h.Leader)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(h.Kind))
	binary.LittleEndian.PutUint16(buf[6:8], h.ByteCount)
	binary.LittleEndian.PutUint32(buf[8:12], h.ID)
	binary.LittleEndian.PutUint32(buf[12:16], h.Checksum)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Leader:    binary.LittleEndian.Uint32(b[0:4]),
		Kind:      Type(binary.LittleEndian.Uint16(b[4:6])),
		ByteCount: binary.LittleEndian.Uint16(b[6:8]),
		ID:        binary.LittleEndian.Uint32(b[8:12]),
		Checksum:  binary.LittleEndian.Uint32(b[12:16]),
	}
	if h.Leader != DataLeader && h.Leader != ControlLeader {
		return Header{}, fmt.Errorf("%w: 0x%08x", ErrInvalidLeader, h.Leader)
	}
	return h, nil
}

// StripSync clears the sync flag from a packet id.
func StripSync(id uint32) uint32 {
	return id &^ SyncBit
}

// IsLegalID reports whether id, ignoring the sync flag, is one of the two parity values.
func IsLegalID(id uint32) bool {
	id = StripSync(id)
	return id == InitialID || id == InitialID^1
}
