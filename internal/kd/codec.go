// Package kd implements the two debugger roles on top of a session link: the
// target that reports prints and state changes, and the host that consumes
// them and resumes the target.
package kd

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	DebugIOSize     = 16
	StateChangeSize = 32
	ManipulateSize  = 16
)

// Debug I/O api numbers.
const (
	ApiPrintString uint32 = 0x3230
	ApiGetString   uint32 = 0x3231
)

// State change kinds.
const (
	StateException   uint32 = 0x3030
	StateLoadSymbols uint32 = 0x3031
)

// Manipulate api numbers.
const (
	ApiReadVirtualMemory uint32 = 0x3130
	ApiGetContext        uint32 = 0x3132
	ApiContinue          uint32 = 0x3136
	ApiGetVersion        uint32 = 0x3146
)

// Status values carried in manipulate replies and continue requests.
const (
	StatusSuccess        uint32 = 0x00000000
	StatusContinue       uint32 = 0x00010002
	StatusUnsuccessful   uint32 = 0xC0000001
	StatusNotImplemented uint32 = 0xC0000002
)

var ErrShortHeader = errors.New("kd: short header")

// DebugIO prefixes every debug I/O packet.
type DebugIO struct {
	ApiNumber      uint32
	ProcessorLevel uint16
	Processor      uint16
	Length         uint32
	Reserved       uint32
}

// StateChange announces that the target stopped.
type StateChange struct {
	NewState         uint32
	ProcessorLevel   uint16
	Processor        uint16
	NumberProcessors uint32
	Reserved         uint32
	Thread           uint64
	ProgramCounter   uint64
}

// Manipulate carries host requests and target replies.
type Manipulate struct {
	ApiNumber      uint32
	ProcessorLevel uint16
	Processor      uint16
	ReturnStatus   uint32
	Reserved       uint32
}

func EncodeDebugIO(d DebugIO) []byte {
	buf := make([]byte, DebugIOSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.ApiNumber)
	binary.LittleEndian.PutUint16(buf[4:6], d.ProcessorLevel)
	binary.LittleEndian.PutUint16(buf[6:8], d.Processor)
	binary.LittleEndian.PutUint32(buf[8:12], d.Length)
	binary.LittleEndian.PutUint32(buf[12:16], d.Reserved)
	return buf
}

func DecodeDebugIO(b []byte) (DebugIO, error) {
	if len(b) < DebugIOSize {
		return DebugIO{}, fmt.Errorf("%w: debug io %d bytes", ErrShortHeader, len(b))
	}
	return DebugIO{
		ApiNumber:      binary.LittleEndian.Uint32(b[0:4]),
		ProcessorLevel: binary.LittleEndian.Uint16(b[4:6]),
		Processor:      binary.LittleEndian.Uint16(b[6:8]),
		Length:         binary.LittleEndian.Uint32(b[8:12]),
		Reserved:       binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

func EncodeStateChange(s StateChange) []byte {
	buf := make([]byte, StateChangeSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.NewState)
	binary.LittleEndian.PutUint16(buf[4:6], s.ProcessorLevel)
	binary.LittleEndian.PutUint16(buf[6:8], s.Processor)
	binary.LittleEndian.PutUint32(buf[8:12], s.NumberProcessors)
	binary.LittleEndian.PutUint32(buf[12:16], s.Reserved)
	binary.LittleEndian.PutUint64(buf[16:24], s.Thread)
	binary.LittleEndian.PutUint64(buf[24:32], s.ProgramCounter)
	return buf
}

func DecodeStateChange(b []byte) (StateChange, error) {
	if len(b) < StateChangeSize {
		return StateChange{}, fmt.Errorf("%w: state change %d bytes", ErrShortHeader, len(b))
	}
	return StateChange{
		NewState:         binary.LittleEndian.Uint32(b[0:4]),
		ProcessorLevel:   binary.LittleEndian.Uint16(b[4:6]),
		Processor:        binary.LittleEndian.Uint16(b[6:8]),
		NumberProcessors: binary.LittleEndian.Uint32(b[8:12]),
		Reserved:         binary.LittleEndian.Uint32(b[12:16]),
		Thread:           binary.LittleEndian.Uint64(b[16:24]),
		ProgramCounter:   binary.LittleEndian.Uint64(b[24:32]),
	}, nil
}

func EncodeManipulate(m Manipulate) []byte {
	buf := make([]byte, ManipulateSize)
	binary.LittleEndian.PutUint32(buf[0:4], m.ApiNumber)
	binary.LittleEndian.PutUint16(buf[4:6], m.ProcessorLevel)
	binary.LittleEndian.PutUint16(buf[6:8], m.Processor)
	binary.LittleEndian.PutUint32(buf[8:12], m.ReturnStatus)
	binary.LittleEndian.PutUint32(buf[12:16], m.Reserved)
	return buf
}

func DecodeManipulate(b []byte) (Manipulate, error) {
	if len(b) < ManipulateSize {
		return Manipulate{}, fmt.Errorf("%w: manipulate %d bytes", ErrShortHeader, len(b))
	}
	return Manipulate{
		ApiNumber:      binary.LittleEndian.Uint32(b[0:4]),
		ProcessorLevel: binary.LittleEndian.Uint16(b[4:6]),
		Processor:      binary.LittleEndian.Uint16(b[6:8]),
		ReturnStatus:   binary.LittleEndian.Uint32(b[8:12]),
		Reserved:       binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}
