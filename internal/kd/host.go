package kd

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/danmuck/kdlink/internal/channel"
	"github.com/danmuck/kdlink/internal/logging"
	"github.com/danmuck/kdlink/internal/protocol/packet"
	"github.com/danmuck/kdlink/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Event is one data packet from the target.
type Event struct {
	Kind packet.Type
	ID   uint32
	// Print is set for print string requests.
	Print string
	IO    *DebugIO
	// State is set for state change reports.
	State      *StateChange
	Manipulate *Manipulate
	Payload    []byte
}

// Status is a snapshot of the host side, safe to read from any goroutine.
type Status struct {
	LinkID          string                `json:"link_id"`
	Attached        bool                  `json:"attached"`
	Stopped         bool                  `json:"stopped"`
	DebuggerPresent bool                  `json:"debugger_present"`
	NextOutgoingID  uint32                `json:"next_outgoing_id"`
	ExpectedID      uint32                `json:"expected_incoming_id"`
	LastState       *StateChange          `json:"last_state,omitempty"`
	Stats           session.StatsSnapshot `json:"stats"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// Host is the debugger side of a link. Next, Attach and Continue must be
// called from one goroutine; Breakin and Status may be called from any.
type Host struct {
	engine  *session.Engine
	log     zerolog.Logger
	rng     *rand.Rand
	buf     []byte
	breakin atomic.Bool
	resume  atomic.Pointer[uint32]
	status  atomic.Pointer[Status]

	attached  bool
	stopped   bool
	lastState *StateChange
}

func NewHost(ch channel.Channel, cfg session.Config) *Host {
	cfg.Initiator = true
	e := session.New(ch, cfg)
	h := &Host{
		engine: e,
		log:    logging.For("kd.host").With().Str("link", e.LinkID()).Logger(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		buf:    make([]byte, e.Config().MaxPacketSize),
	}
	h.publish()
	return h
}

func (h *Host) Engine() *session.Engine { return h.engine }

// Attach resets the link, retrying with backoff until the target answers or
// ctx ends.
func (h *Host) Attach(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := h.engine.Reset(ctx)
		if err == nil {
			h.attached = true
			h.log.Info().Int("attempt", attempt).Msg("attached")
			h.publish()
			return nil
		}
		if !errors.Is(err, session.ErrTimeout) {
			return err
		}
		delay := h.engine.Config().Backoff.Delay(attempt, h.rng)
		h.log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("target silent; retrying reset")
		h.publish()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Next waits for the next data packet from the target. Pending break-in and
// continue requests are sent while waiting.
func (h *Host) Next(ctx context.Context) (Event, error) {
	for {
		if h.breakin.Swap(false) {
			if err := h.engine.SendBreakin(); err != nil {
				return Event{}, err
			}
			h.log.Info().Msg("breakin sent")
		}
		if status := h.resume.Swap(nil); status != nil && h.stopped {
			if err := h.Continue(ctx, *status); err != nil {
				return Event{}, err
			}
			h.log.Info().Uint32("status", *status).Msg("continue sent")
		}
		msg, err := h.engine.Receive(ctx, packet.TypeAny, nil, h.buf)
		h.publish()
		if errors.Is(err, session.ErrTimeout) || errors.Is(err, session.ErrResendRequested) {
			continue
		}
		if err != nil {
			return Event{}, err
		}
		ev := h.decode(msg)
		h.publish()
		return ev, nil
	}
}

// Continue resumes a stopped target with status.
func (h *Host) Continue(ctx context.Context, status uint32) error {
	m := Manipulate{ApiNumber: ApiContinue, ReturnStatus: status}
	if h.lastState != nil {
		m.Processor = h.lastState.Processor
	}
	if err := h.engine.Send(ctx, packet.TypeStateManipulate, EncodeManipulate(m), nil); err != nil {
		return err
	}
	h.stopped = false
	h.publish()
	return nil
}

// Breakin asks the target to stop. The byte goes out from the Next loop.
func (h *Host) Breakin() {
	h.breakin.Store(true)
}

// RequestContinue queues a continue for the Next loop. It is dropped if the
// target is running when the loop gets to it.
func (h *Host) RequestContinue(status uint32) {
	h.resume.Store(&status)
}

func (h *Host) Status() Status {
	return *h.status.Load()
}

func (h *Host) decode(msg session.Message) Event {
	ev := Event{Kind: msg.Kind, ID: msg.ID, Payload: append([]byte(nil), msg.Data...)}
	switch msg.Kind {
	case packet.TypeDebugIO:
		dio, err := DecodeDebugIO(msg.Data)
		if err != nil {
			h.log.Warn().Err(err).Msg("malformed debug io")
			return ev
		}
		ev.IO = &dio
		if dio.ApiNumber == ApiPrintString {
			text := msg.Data[DebugIOSize:]
			if int(dio.Length) < len(text) {
				text = text[:dio.Length]
			}
			ev.Print = string(text)
		}
	case packet.TypeStateChange32, packet.TypeStateChange64:
		sc, err := DecodeStateChange(msg.Data)
		if err != nil {
			h.log.Warn().Err(err).Msg("malformed state change")
			return ev
		}
		ev.State = &sc
		h.stopped = true
		h.lastState = &sc
	case packet.TypeStateManipulate:
		m, err := DecodeManipulate(msg.Data)
		if err != nil {
			h.log.Warn().Err(err).Msg("malformed manipulate")
			return ev
		}
		ev.Manipulate = &m
	}
	return ev
}

func (h *Host) publish() {
	st := h.engine.State()
	h.status.Store(&Status{
		LinkID:          h.engine.LinkID(),
		Attached:        h.attached,
		Stopped:         h.stopped,
		DebuggerPresent: st.DebuggerPresent,
		NextOutgoingID:  st.NextOutgoingID,
		ExpectedID:      st.ExpectedIncomingID,
		LastState:       h.lastState,
		Stats:           h.engine.Stats().Snapshot(),
		UpdatedAt:       time.Now(),
	})
}
