package kd

import (
	"context"
	"errors"

	"github.com/danmuck/kdlink/internal/channel"
	"github.com/danmuck/kdlink/internal/logging"
	"github.com/danmuck/kdlink/internal/protocol/packet"
	"github.com/danmuck/kdlink/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Target is the debuggee side of a link.
type Target struct {
	engine     *session.Engine
	processor  uint16
	processors uint32
	log        zerolog.Logger
	hdr        []byte
	data       []byte
}

func NewTarget(ch channel.Channel, cfg session.Config) *Target {
	cfg.Initiator = false
	e := session.New(ch, cfg)
	return &Target{
		engine:     e,
		processors: 1,
		log:        logging.For("kd.target").With().Str("link", e.LinkID()).Logger(),
		hdr:        make([]byte, ManipulateSize),
		data:       make([]byte, e.Config().MaxPacketSize),
	}
}

func (t *Target) Engine() *session.Engine { return t.engine }

// PrintString sends s to the debugger. Text beyond one packet is truncated.
// It reports false without error when no debugger is listening.
func (t *Target) PrintString(ctx context.Context, s string) (bool, error) {
	b := []byte(s)
	if limit := t.engine.Config().MaxPacketSize - DebugIOSize; len(b) > limit {
		b = b[:limit]
	}
	hdr := EncodeDebugIO(DebugIO{
		ApiNumber: ApiPrintString,
		Processor: t.processor,
		Length:    uint32(len(b)),
	})
	err := t.engine.Send(ctx, packet.TypeDebugIO, hdr, b)
	if errors.Is(err, session.ErrDebuggerAbsent) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ReportStateChange announces a stop and services manipulate requests until
// the debugger continues. It returns the continue request.
func (t *Target) ReportStateChange(ctx context.Context, sc StateChange) (Manipulate, error) {
	if sc.NumberProcessors == 0 {
		sc.NumberProcessors = t.processors
	}
	hdr := EncodeStateChange(sc)
	for {
		if err := t.engine.Send(ctx, packet.TypeStateChange64, hdr, nil); err != nil {
			return Manipulate{}, err
		}
		t.log.Debug().Uint32("state", sc.NewState).Uint64("pc", sc.ProgramCounter).Msg("state change reported")

		m, err := t.awaitContinue(ctx)
		if errors.Is(err, session.ErrResendRequested) {
			continue
		}
		return m, err
	}
}

func (t *Target) awaitContinue(ctx context.Context) (Manipulate, error) {
	for {
		msg, err := t.engine.Receive(ctx, packet.TypeStateManipulate, t.hdr, t.data)
		if errors.Is(err, session.ErrTimeout) {
			continue
		}
		if err != nil {
			return Manipulate{}, err
		}
		m, err := DecodeManipulate(msg.Header)
		if err != nil {
			return Manipulate{}, err
		}
		if m.ApiNumber == ApiContinue {
			return m, nil
		}

		reply := m
		reply.ReturnStatus = StatusNotImplemented
		t.log.Debug().Uint32("api", m.ApiNumber).Msg("manipulate not implemented")
		if err := t.engine.Send(ctx, packet.TypeStateManipulate, EncodeManipulate(reply), nil); err != nil {
			return Manipulate{}, err
		}
	}
}

// PollBreakin reports and consumes a pending break-in request.
func (t *Target) PollBreakin() bool {
	if t.engine.PollForBreakin() || t.engine.Breakin() {
		t.engine.ClearBreakin()
		return true
	}
	return false
}
