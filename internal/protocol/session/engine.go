package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/danmuck/kdlink/internal/channel"
	"github.com/danmuck/kdlink/internal/logging"
	"github.com/danmuck/kdlink/internal/protocol/packet"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrTimeout         = errors.New("session: timeout")
	ErrResendRequested = errors.New("session: resend requested")
	ErrDebuggerAbsent  = errors.New("session: debugger absent")
)

// Direction tells an Observer which way a packet travelled.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "in"
	}
	return "out"
}

// Observer sees complete packets. header and data are only valid during the call.
type Observer interface {
	ObservePacket(dir Direction, h packet.Header, header, data []byte)
}

// Message is an accepted data packet. Header and Data alias the caller's buffers.
type Message struct {
	Kind   packet.Type
	ID     uint32
	Header []byte
	Data   []byte
}

// Engine is one end of a debugger link.
type Engine struct {
	ch     channel.Channel
	cfg    Config
	state  State
	stats  Stats
	linkID string
	log    zerolog.Logger

	breakin      atomic.Bool
	resetPending bool
	wbuf         []byte
}

func New(ch channel.Channel, cfg Config) *Engine {
	cfg = cfg.WithDefaults()
	id := uuid.NewString()
	return &Engine{
		ch:     ch,
		cfg:    cfg,
		state:  newState(cfg.RetryBudget),
		linkID: id,
		log:    logging.For("session").With().Str("link", id).Logger(),
		wbuf:   make([]byte, 0, packet.HeaderLen+cfg.MaxPacketSize+1),
	}
}

// LinkID identifies this engine in logs and captures.
func (e *Engine) LinkID() string { return e.linkID }

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// State returns a copy of the session state. Not safe during an exchange.
func (e *Engine) State() State { return e.state }

func (e *Engine) Stats() *Stats { return &e.stats }

// Send transmits one data packet and waits for its acknowledgment.
//
// Unacknowledged attempts consume the retry budget. When a critical kind
// exhausts it the debugger is marked absent, ids restart with the sync bit and
// ErrDebuggerAbsent is returned. Other kinds keep retrying until ctx ends.
// While the debugger is absent a send gets a single attempt.
func (e *Engine) Send(ctx context.Context, kind packet.Type, header, data []byte) error {
	if kind.IsControl() || kind == packet.TypeAny {
		return fmt.Errorf("session: send: %s is not a data kind", kind)
	}
	if n := len(header) + len(data); n > e.cfg.MaxPacketSize {
		return fmt.Errorf("%w: %d bytes (max %d)", packet.ErrPacketTooLarge, n, e.cfg.MaxPacketSize)
	}
	e.state.RetriesRemaining = e.state.RetryBudget
	if !e.state.DebuggerPresent {
		e.state.RetriesRemaining = 1
	}

	for attempt := 1; ; attempt++ {
		if e.state.RetriesRemaining == 0 && kind.IsCritical() {
			e.markAbsent(kind)
			return ErrDebuggerAbsent
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 1 {
			e.stats.Retries.Add(1)
		}

		h, err := packet.NewData(kind, e.state.NextOutgoingID, header, data, e.cfg.MaxPacketSize)
		if err != nil {
			return err
		}
		e.log.Trace().Str("kind", kind.String()).Uint32("id", h.ID).Int("attempt", attempt).Msg("send")
		if err := e.writePacket(h, header, data); err != nil {
			return err
		}

		_, res, err := e.receive(ctx, packet.TypeAcknowledge, nil, nil)
		if err != nil {
			return err
		}
		switch res {
		case recvOK:
			e.state.NextOutgoingID &^= packet.SyncBit
			e.state.RetriesRemaining = e.state.RetryBudget
			return nil
		case recvTimeout:
			if e.state.RetriesRemaining > 0 {
				e.state.RetriesRemaining--
			}
		default:
			e.log.Debug().Str("kind", kind.String()).Int("attempt", attempt).Msg("resend requested")
		}
	}
}

// Receive waits for one data packet of kind, or any data kind for TypeAny.
// The first len(header) payload bytes land in header and the rest in data.
// It returns ErrTimeout when nothing valid arrived and ErrResendRequested when
// the peer asked for a resend, reset the link, or a break-in arrived.
func (e *Engine) Receive(ctx context.Context, kind packet.Type, header, data []byte) (Message, error) {
	msg, res, err := e.receive(ctx, kind, header, data)
	if err != nil {
		return Message{}, err
	}
	switch res {
	case recvOK:
		return msg, nil
	case recvTimeout:
		return Message{}, ErrTimeout
	default:
		return Message{}, ErrResendRequested
	}
}

// Reset performs the RESET handshake: send RESET and wait for the peer's
// RESET. Both ends finish with ids at INITIAL and no sync bit.
func (e *Engine) Reset(ctx context.Context) error {
	e.resetPending = true
	defer func() { e.resetPending = false }()

	e.state.resetIDs()
	for attempt := 1; attempt <= e.state.RetryBudget; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.sendControl(packet.TypeReset, 0); err != nil {
			return err
		}
		_, res, err := e.receive(ctx, packet.TypeReset, nil, nil)
		if err != nil {
			return err
		}
		if res == recvReset {
			e.state.DebuggerPresent = true
			e.state.RetriesRemaining = e.state.RetryBudget
			e.log.Debug().Int("attempt", attempt).Msg("link reset")
			return nil
		}
	}
	return ErrTimeout
}

// PollForBreakin reads at most one byte without waiting and reports whether
// it was a break-in request. Any other byte is discarded.
func (e *Engine) PollForBreakin() bool {
	b, ok := e.ch.PollByte()
	if !ok {
		return false
	}
	if b != packet.BreakinByte {
		e.stats.BytesDiscarded.Add(1)
		return false
	}
	e.raiseBreakin()
	return true
}

// SendBreakin asks the peer to stop by writing the lone break-in byte.
func (e *Engine) SendBreakin() error {
	if err := e.ch.WriteByte(packet.BreakinByte); err != nil {
		return fmt.Errorf("session: send breakin: %w", err)
	}
	if err := channel.Flush(e.ch); err != nil {
		return fmt.Errorf("session: send breakin: %w", err)
	}
	return nil
}

// Breakin reports whether a break-in request is pending.
func (e *Engine) Breakin() bool { return e.breakin.Load() }

// ClearBreakin consumes a pending break-in request.
func (e *Engine) ClearBreakin() bool { return e.breakin.Swap(false) }

func (e *Engine) raiseBreakin() {
	e.breakin.Store(true)
	e.stats.Breakins.Add(1)
	e.log.Debug().Msg("breakin")
}

func (e *Engine) markAbsent(kind packet.Type) {
	e.state.DebuggerPresent = false
	e.state.reinitialize()
	e.stats.DebuggerAbsent.Add(1)
	e.log.Debug().Str("kind", kind.String()).Msg("debugger absent")
}

func (e *Engine) writePacket(h packet.Header, header, data []byte) error {
	e.wbuf = packet.Append(e.wbuf[:0], h, header, data)
	if err := channel.Write(e.ch, e.wbuf); err != nil {
		return fmt.Errorf("session: write %s: %w", h.Kind, err)
	}
	if err := channel.Flush(e.ch); err != nil {
		return fmt.Errorf("session: flush %s: %w", h.Kind, err)
	}
	e.stats.PacketsSent.Add(1)
	if e.cfg.Observer != nil {
		e.cfg.Observer.ObservePacket(Outbound, h, header, data)
	}
	return nil
}

func (e *Engine) sendControl(kind packet.Type, id uint32) error {
	if kind == packet.TypeResend {
		e.stats.ResendsSent.Add(1)
	}
	return e.writePacket(packet.NewControl(kind, id), nil, nil)
}
