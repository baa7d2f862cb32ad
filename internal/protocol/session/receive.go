package session

import (
	"context"

	"github.com/danmuck/kdlink/internal/protocol/packet"
)

type recvResult uint8

const (
	recvOK recvResult = iota
	recvTimeout
	recvResend
	recvReset
)

type recvStep uint8

const (
	stepHunt recvStep = iota
	stepHeader
	stepDispatch
	stepPayload
	stepValidate
)

// receive is the receiver state machine. Recoverable faults restart it at
// stepHunt; only timeouts, resend requests, resets, accepted packets, context
// cancellation and hard channel errors leave it.
func (e *Engine) receive(ctx context.Context, expected packet.Type, header, data []byte) (Message, recvResult, error) {
	var (
		step  = stepHunt
		class packet.Class
		h     packet.Header
		body  int
	)
	for {
		switch step {
		case stepHunt:
			if err := ctx.Err(); err != nil {
				return Message{}, 0, err
			}
			c, res, err := e.huntLeader()
			if err != nil {
				return Message{}, 0, err
			}
			switch res {
			case huntTimeout:
				return Message{}, recvTimeout, nil
			case huntResendPending:
				return Message{}, recvResend, nil
			}
			class = c
			step = stepHeader

		case stepHeader:
			hh, res, err := e.readHeader(class)
			if err != nil {
				return Message{}, 0, err
			}
			switch res {
			case headerTimeout:
				return Message{}, recvTimeout, nil
			case headerPartial:
				e.stats.PartialReads.Add(1)
				if class == packet.ClassData {
					if err := e.sendControl(packet.TypeResend, 0); err != nil {
						return Message{}, 0, err
					}
				}
				step = stepHunt
				continue
			}
			h = hh
			step = stepDispatch

		case stepDispatch:
			if h.Class() == packet.ClassControl {
				res, done, err := e.dispatchControl(h, expected)
				if err != nil || done {
					return Message{}, res, err
				}
				step = stepHunt
				continue
			}
			switch expected {
			case packet.TypeAcknowledge:
				if packet.StripSync(h.ID) == e.state.ExpectedIncomingID {
					// The peer moved on to its own packet, so ours arrived and
					// its ACK was lost. Ask for this one again later.
					if err := e.sendControl(packet.TypeResend, 0); err != nil {
						return Message{}, 0, err
					}
					e.state.NextOutgoingID ^= 1
					return Message{}, recvOK, nil
				}
				if err := e.sendControl(packet.TypeAcknowledge, packet.StripSync(h.ID)); err != nil {
					return Message{}, 0, err
				}
				step = stepHunt
				continue
			case packet.TypeReset:
				step = stepHunt
				continue
			}
			n := int(h.ByteCount)
			if n < len(header) || n > e.cfg.MaxPacketSize || n-len(header) > len(data) {
				e.log.Debug().Uint16("byte_count", h.ByteCount).Msg("packet length out of bounds")
				if err := e.sendControl(packet.TypeResend, 0); err != nil {
					return Message{}, 0, err
				}
				step = stepHunt
				continue
			}
			body = n - len(header)
			step = stepPayload

		case stepPayload:
			ok, err := e.readPayload(header, data[:body])
			if err != nil {
				return Message{}, 0, err
			}
			if !ok {
				e.stats.PartialReads.Add(1)
				if err := e.sendControl(packet.TypeResend, 0); err != nil {
					return Message{}, 0, err
				}
				step = stepHunt
				continue
			}
			step = stepValidate

		case stepValidate:
			msg, accepted, err := e.validate(h, expected, header, data[:body])
			if err != nil {
				return Message{}, 0, err
			}
			if !accepted {
				step = stepHunt
				continue
			}
			return msg, recvOK, nil
		}
	}
}

// dispatchControl handles a control packet. done reports whether receive returns.
func (e *Engine) dispatchControl(h packet.Header, expected packet.Type) (recvResult, bool, error) {
	e.stats.PacketsReceived.Add(1)
	if e.cfg.Observer != nil {
		e.cfg.Observer.ObservePacket(Inbound, h, nil, nil)
	}
	switch h.Kind {
	case packet.TypeAcknowledge:
		if expected != packet.TypeAcknowledge ||
			packet.StripSync(h.ID) != packet.StripSync(e.state.NextOutgoingID) {
			return 0, false, nil
		}
		e.state.NextOutgoingID ^= 1
		e.state.DebuggerPresent = true
		return recvOK, true, nil

	case packet.TypeReset:
		e.stats.Resets.Add(1)
		e.state.resetIDs()
		if !e.resetPending && !e.cfg.Initiator {
			if err := e.sendControl(packet.TypeReset, 0); err != nil {
				return 0, true, err
			}
		}
		e.resetPending = false
		e.log.Debug().Msg("reset by peer")
		return recvReset, true, nil

	case packet.TypeResend:
		e.stats.ResendsReceived.Add(1)
		return recvResend, true, nil

	default:
		return 0, false, nil
	}
}

// readPayload reads the packet body and its trailing byte.
func (e *Engine) readPayload(header, data []byte) (bool, error) {
	if ok, err := e.readFull(header); !ok || err != nil {
		return false, err
	}
	if ok, err := e.readFull(data); !ok || err != nil {
		return false, err
	}
	var trailer [1]byte
	if ok, err := e.readFull(trailer[:]); !ok || err != nil {
		return false, err
	}
	return trailer[0] == packet.TrailingByte, nil
}

// validate applies the kind, id and checksum checks to a fully read data packet.
func (e *Engine) validate(h packet.Header, expected packet.Type, header, data []byte) (Message, bool, error) {
	id := packet.StripSync(h.ID)
	sync := h.ID&packet.SyncBit != 0

	if expected != packet.TypeAny && h.Kind != expected {
		e.log.Debug().Str("kind", h.Kind.String()).Str("expected", expected.String()).Msg("unexpected kind")
		return Message{}, false, e.sendControl(packet.TypeAcknowledge, id)
	}
	if !packet.IsLegalID(h.ID) {
		return Message{}, false, e.sendControl(packet.TypeResend, 0)
	}
	if sync {
		if e.state.LastDeliveredSync && id == e.state.ExpectedIncomingID^1 {
			e.stats.Duplicates.Add(1)
			return Message{}, false, e.sendControl(packet.TypeAcknowledge, id)
		}
		e.state.ExpectedIncomingID = id
	}
	if id != e.state.ExpectedIncomingID {
		e.stats.Duplicates.Add(1)
		return Message{}, false, e.sendControl(packet.TypeAcknowledge, id)
	}
	if packet.Accumulate(packet.Checksum(header), data) != h.Checksum {
		e.stats.ChecksumErrors.Add(1)
		return Message{}, false, e.sendControl(packet.TypeResend, 0)
	}

	if err := e.sendControl(packet.TypeAcknowledge, id); err != nil {
		return Message{}, false, err
	}
	e.state.ExpectedIncomingID ^= 1
	e.state.LastDeliveredSync = sync
	e.stats.PacketsReceived.Add(1)
	if e.cfg.Observer != nil {
		e.cfg.Observer.ObservePacket(Inbound, h, header, data)
	}
	return Message{Kind: h.Kind, ID: h.ID, Header: header, Data: data}, true, nil
}
