package session

import (
	"errors"
	"fmt"

	"github.com/danmuck/kdlink/internal/channel"
	"github.com/danmuck/kdlink/internal/protocol/packet"
)

type huntResult uint8

const (
	huntFound huntResult = iota
	huntTimeout
	huntResendPending
)

type headerResult uint8

const (
	headerOK headerResult = iota
	headerTimeout
	headerPartial
)

// huntLeader discards bytes until four identical leader bytes arrive.
// A break-in byte is remembered until the next byte; if that "byte" is a
// channel timeout the break-in flag is raised.
func (e *Engine) huntLeader() (packet.Class, huntResult, error) {
	var (
		prev        byte
		run         int
		breakinSeen bool
	)
	for n := 0; n < e.cfg.HuntBudget; n++ {
		b, err := e.ch.ReadByte()
		if err != nil {
			if !errors.Is(err, channel.ErrTimeout) {
				return 0, 0, fmt.Errorf("session: hunt leader: %w", err)
			}
			if breakinSeen {
				e.raiseBreakin()
				return 0, huntResendPending, nil
			}
			return 0, huntTimeout, nil
		}

		if class, ok := packet.ClassOf(b); ok {
			breakinSeen = false
			if run > 0 && b == prev {
				run++
			} else {
				prev, run = b, 1
			}
			if run == packet.LeaderRun {
				e.state.DebuggerPresent = true
				return class, huntFound, nil
			}
			continue
		}

		e.stats.BytesDiscarded.Add(uint64(run) + 1)
		run = 0
		breakinSeen = b == packet.BreakinByte
	}
	return 0, huntTimeout, nil
}

// readHeader reads the twelve header bytes that follow a leader.
func (e *Engine) readHeader(class packet.Class) (packet.Header, headerResult, error) {
	var buf [packet.HeaderLen]byte
	for i := 0; i < packet.LeaderRun; i++ {
		buf[i] = leaderByte(class)
	}
	for i := packet.LeaderRun; i < packet.HeaderLen; i++ {
		b, err := e.ch.ReadByte()
		if err != nil {
			if !errors.Is(err, channel.ErrTimeout) {
				return packet.Header{}, 0, fmt.Errorf("session: read header: %w", err)
			}
			if i == packet.LeaderRun {
				return packet.Header{}, headerTimeout, nil
			}
			return packet.Header{}, headerPartial, nil
		}
		buf[i] = b
	}
	h, err := packet.DecodeHeader(buf[:])
	if err != nil {
		return packet.Header{}, 0, err
	}
	return h, headerOK, nil
}

// readFull fills b from the channel. It reports false on a timeout.
func (e *Engine) readFull(b []byte) (bool, error) {
	for i := range b {
		v, err := e.ch.ReadByte()
		if err != nil {
			if errors.Is(err, channel.ErrTimeout) {
				return false, nil
			}
			return false, fmt.Errorf("session: read payload: %w", err)
		}
		b[i] = v
	}
	return true, nil
}

func leaderByte(c packet.Class) byte {
	if c == packet.ClassControl {
		return packet.ControlLeaderByte
	}
	return packet.DataLeaderByte
}
