package session

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/kdlink/internal/protocol/packet"
	"github.com/danmuck/kdlink/internal/testutil/fakechan"
	"github.com/danmuck/kdlink/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func TestBackoffDelay(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
	}
	for n, want := range map[int]time.Duration{
		1: 250 * time.Millisecond,
		2: 500 * time.Millisecond,
		3: time.Second,
		6: 5 * time.Second,
	} {
		if got := cfg.Delay(n, nil); got != want {
			t.Fatalf("attempt %d got=%v want=%v", n, got, want)
		}
	}

	cfg.Jitter = true
	rng := rand.New(rand.NewSource(7))
	for n := 1; n <= 10; n++ {
		if got := cfg.Delay(n, rng); got > cfg.MaxDelay {
			t.Fatalf("attempt %d jittered past max: %v", n, got)
		}
	}
	if got := (BackoffConfig{}).Delay(3, nil); got != 0 {
		t.Fatalf("zero config got=%v", got)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	got := Config{RetryBudget: 3, MaxPacketSize: 1 << 20}.WithDefaults()
	if got.RetryBudget != 3 {
		t.Fatalf("retry budget overwritten: %d", got.RetryBudget)
	}
	if got.MaxPacketSize != packet.MaxPacketSize || got.HuntBudget != DefaultHuntBudget {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestSendStateChangeWithSyncIsAcknowledged(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	ch.OnPacket = func(p packet.Packet) []byte {
		if p.Header.Class() != packet.ClassData {
			return nil
		}
		return fakechan.Ack(packet.StripSync(p.Header.ID))
	}
	e := New(ch, Config{RetryBudget: 4})
	h := bytes.Repeat([]byte{0x5A}, 32)

	if err := e.Send(context.Background(), packet.TypeStateChange64, h, nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	sent := ch.Packets()
	if len(sent) != 1 {
		t.Fatalf("expected one packet on the wire, got %d", len(sent))
	}
	want := packet.Header{
		Leader:    packet.DataLeader,
		Kind:      packet.TypeStateChange64,
		ByteCount: 32,
		ID:        packet.InitialID | packet.SyncBit,
		Checksum:  packet.Checksum(h),
	}
	if diff := cmp.Diff(want, sent[0].Header); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
	st := e.State()
	if st.NextOutgoingID != packet.InitialID^1 {
		t.Fatalf("expected sync cleared and parity toggled, got 0x%08x", st.NextOutgoingID)
	}
	if st.RetriesRemaining != st.RetryBudget || !st.DebuggerPresent {
		t.Fatalf("unexpected state after success: %+v", st)
	}
}

func TestReceiveAcceptsAndAcknowledges(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	hdr := []byte{1, 2, 3, 4}
	ch.Feed(fakechan.Data(packet.TypeDebugIO, packet.InitialID, hdr, []byte("hi")))
	e := New(ch, Config{})

	hbuf := make([]byte, 4)
	dbuf := make([]byte, 16)
	msg, err := e.Receive(context.Background(), packet.TypeDebugIO, hbuf, dbuf)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !bytes.Equal(msg.Header, hdr) || string(msg.Data) != "hi" || msg.Kind != packet.TypeDebugIO {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if e.State().ExpectedIncomingID != packet.InitialID^1 {
		t.Fatalf("expected incoming parity toggled")
	}
	sent := ch.Packets()
	if len(sent) != 1 || sent[0].Header.Kind != packet.TypeAcknowledge || sent[0].Header.ID != packet.InitialID {
		t.Fatalf("expected ACK of INITIAL, got %+v", sent)
	}
}

func TestReceiveAcknowledgesDuplicateWithoutDelivering(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	raw := fakechan.Data(packet.TypeStateManipulate, packet.InitialID, []byte{9, 9}, nil)
	ch.Feed(raw, raw)
	e := New(ch, Config{})
	hbuf := make([]byte, 2)

	if _, err := e.Receive(context.Background(), packet.TypeStateManipulate, hbuf, nil); err != nil {
		t.Fatalf("first receive: %v", err)
	}
	if _, err := e.Receive(context.Background(), packet.TypeStateManipulate, hbuf, nil); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected duplicate to be dropped then timeout, got %v", err)
	}
	acks := 0
	for _, p := range ch.Packets() {
		if p.Header.Kind == packet.TypeAcknowledge && p.Header.ID == packet.InitialID {
			acks++
		}
	}
	if acks != 2 {
		t.Fatalf("expected both copies acknowledged, got %d", acks)
	}
	if got := e.Stats().Duplicates.Load(); got != 1 {
		t.Fatalf("duplicates=%d", got)
	}
}

func TestReceiveAlternatesExpectedID(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	ch.Feed(
		fakechan.Data(packet.TypeDebugIO, packet.InitialID|packet.SyncBit, nil, []byte("a")),
		fakechan.Data(packet.TypeDebugIO, packet.InitialID^1, nil, []byte("b")),
		fakechan.Data(packet.TypeDebugIO, packet.InitialID, nil, []byte("c")),
	)
	e := New(ch, Config{})
	buf := make([]byte, 8)
	var got []string
	for i := 0; i < 3; i++ {
		msg, err := e.Receive(context.Background(), packet.TypeDebugIO, nil, buf)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		got = append(got, string(msg.Data))
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestReceiveResyncsOnSyncBit(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	e := New(ch, Config{})
	e.state.ExpectedIncomingID = packet.InitialID ^ 1

	ch.Feed(fakechan.Data(packet.TypeDebugIO, packet.InitialID|packet.SyncBit, nil, []byte("x")))
	if _, err := e.Receive(context.Background(), packet.TypeDebugIO, nil, make([]byte, 4)); err != nil {
		t.Fatalf("sync packet must be accepted after peer restart: %v", err)
	}

	// A retransmission of the same sync packet is a duplicate.
	ch.Feed(fakechan.Data(packet.TypeDebugIO, packet.InitialID|packet.SyncBit, nil, []byte("x")))
	if _, err := e.Receive(context.Background(), packet.TypeDebugIO, nil, make([]byte, 4)); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected duplicate sync packet to be dropped, got %v", err)
	}
}

func TestReceiveRequestsResendOnChecksumMismatch(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	bad := fakechan.Data(packet.TypeDebugIO, packet.InitialID, nil, []byte("hello"))
	bad[packet.HeaderLen] ^= 0x01
	good := fakechan.Data(packet.TypeDebugIO, packet.InitialID, nil, []byte("hello"))
	ch.Feed(bad, good)
	e := New(ch, Config{})

	msg, err := e.Receive(context.Background(), packet.TypeDebugIO, nil, make([]byte, 8))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(msg.Data) != "hello" {
		t.Fatalf("unexpected data %q", msg.Data)
	}
	var kinds []packet.Type
	for _, p := range ch.Packets() {
		kinds = append(kinds, p.Header.Kind)
	}
	if diff := cmp.Diff([]packet.Type{packet.TypeResend, packet.TypeAcknowledge}, kinds); diff != "" {
		t.Fatalf("control replies mismatch (-want +got):\n%s", diff)
	}
	if e.Stats().ChecksumErrors.Load() != 1 {
		t.Fatalf("expected one checksum error")
	}
}

func TestReceiveRejectsOutOfBoundsLength(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	// Two bytes cannot hold the four byte kind header.
	ch.Feed(fakechan.Data(packet.TypeStateManipulate, packet.InitialID, []byte{1, 2}, nil))
	e := New(ch, Config{})

	_, err := e.Receive(context.Background(), packet.TypeStateManipulate, make([]byte, 4), nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout after rejecting packet, got %v", err)
	}
	sent := ch.Packets()
	if len(sent) == 0 || sent[0].Header.Kind != packet.TypeResend {
		t.Fatalf("expected RESEND, got %+v", sent)
	}
}

func TestReceiveAcknowledgesUnexpectedKind(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	ch.Feed(fakechan.Data(packet.TypeDebugIO, packet.InitialID, nil, []byte("p")))
	e := New(ch, Config{})

	if _, err := e.Receive(context.Background(), packet.TypeStateManipulate, nil, make([]byte, 4)); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	sent := ch.Packets()
	if len(sent) != 1 || sent[0].Header.Kind != packet.TypeAcknowledge {
		t.Fatalf("expected ACK for mismatched kind, got %+v", sent)
	}
	if e.State().ExpectedIncomingID != packet.InitialID {
		t.Fatalf("mismatched kind must not advance the expected id")
	}
}

func TestFramerResyncsThroughNoise(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	ch.Feed(
		[]byte{0x00, 0x30, 0x30, 0x30, 0x41, 0x69, 0x69, 0x30, 0x30, 0x69, 0x69, 0x69, 0xFF},
		fakechan.Data(packet.TypeDebugIO, packet.InitialID, nil, []byte("ok")),
	)
	e := New(ch, Config{})
	msg, err := e.Receive(context.Background(), packet.TypeDebugIO, nil, make([]byte, 4))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(msg.Data) != "ok" {
		t.Fatalf("unexpected data %q", msg.Data)
	}
	if e.Stats().BytesDiscarded.Load() == 0 {
		t.Fatalf("expected noise to be counted")
	}
}

func TestPartialHeaderHandling(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	e := New(ch, Config{})

	ch.Feed([]byte{0x69, 0x69, 0x69, 0x69, 0x04})
	if _, err := e.Receive(context.Background(), packet.TypeDebugIO, nil, nil); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if len(ch.Packets()) != 0 {
		t.Fatalf("partial control header must not trigger a reply")
	}

	ch.Feed([]byte{0x30, 0x30, 0x30, 0x30, 0x03, 0x00})
	if _, err := e.Receive(context.Background(), packet.TypeDebugIO, nil, nil); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	sent := ch.Packets()
	if len(sent) != 1 || sent[0].Header.Kind != packet.TypeResend {
		t.Fatalf("partial data header must trigger RESEND, got %+v", sent)
	}
	if e.Stats().PartialReads.Load() != 2 {
		t.Fatalf("partial reads=%d", e.Stats().PartialReads.Load())
	}
}

func TestCriticalSendExhaustsRetriesThenMarksAbsent(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	e := New(ch, Config{RetryBudget: 3})

	err := e.Send(context.Background(), packet.TypeDebugIO, make([]byte, 16), []byte("lost"))
	if !errors.Is(err, ErrDebuggerAbsent) {
		t.Fatalf("expected ErrDebuggerAbsent, got %v", err)
	}
	if got := len(ch.Packets()); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	st := e.State()
	if st.DebuggerPresent {
		t.Fatalf("debugger must be marked absent")
	}
	if st.NextOutgoingID != packet.InitialID|packet.SyncBit || st.ExpectedIncomingID != packet.InitialID {
		t.Fatalf("ids not reinitialized: %+v", st)
	}

	// Once absent, a send is a single low-effort attempt.
	err = e.Send(context.Background(), packet.TypeStateChange64, make([]byte, 32), nil)
	if !errors.Is(err, ErrDebuggerAbsent) {
		t.Fatalf("expected ErrDebuggerAbsent, got %v", err)
	}
	if got := len(ch.Packets()); got != 4 {
		t.Fatalf("expected one more attempt, got %d total", got)
	}
	if e.Stats().DebuggerAbsent.Load() != 2 {
		t.Fatalf("absent events=%d", e.Stats().DebuggerAbsent.Load())
	}
}

func TestNonCriticalSendRetriesUntilCancelled(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sent := 0
	ch.OnPacket = func(p packet.Packet) []byte {
		sent++
		if sent == 5 {
			cancel()
		}
		return nil
	}
	e := New(ch, Config{RetryBudget: 2})

	err := e.Send(ctx, packet.TypeStateManipulate, make([]byte, 16), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sent != 5 {
		t.Fatalf("expected retries past the budget, got %d attempts", sent)
	}
	if !e.State().DebuggerPresent {
		t.Fatalf("non-critical kinds never mark the debugger absent")
	}
}

func TestSendResendsWithoutConsumingBudget(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	data := 0
	ch.OnPacket = func(p packet.Packet) []byte {
		if p.Header.Class() != packet.ClassData {
			return nil
		}
		data++
		if data < 3 {
			return fakechan.Control(packet.TypeResend)
		}
		return fakechan.Ack(p.Header.ID)
	}
	e := New(ch, Config{RetryBudget: 1})

	if err := e.Send(context.Background(), packet.TypeDebugIO, nil, []byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if data != 3 {
		t.Fatalf("expected 3 transmissions, got %d", data)
	}
	if e.Stats().ResendsReceived.Load() != 2 {
		t.Fatalf("resends received=%d", e.Stats().ResendsReceived.Load())
	}
}

func TestSendTreatsPeerDataAsSurrogateAck(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	ch.OnPacket = func(p packet.Packet) []byte {
		if p.Header.Class() != packet.ClassData {
			return nil
		}
		return fakechan.Data(packet.TypeStateManipulate, packet.InitialID, make([]byte, 16), nil)
	}
	e := New(ch, Config{RetryBudget: 2})

	if err := e.Send(context.Background(), packet.TypeStateChange64, make([]byte, 32), nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	sent := ch.Packets()
	if len(sent) != 2 || sent[1].Header.Kind != packet.TypeResend {
		t.Fatalf("expected data packet then RESEND, got %+v", sent)
	}
	if e.State().NextOutgoingID != packet.InitialID^1 {
		t.Fatalf("outgoing id not advanced: 0x%08x", e.State().NextOutgoingID)
	}
}

func TestSendIgnoresStaleAck(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	ch.OnPacket = func(p packet.Packet) []byte {
		if p.Header.Class() != packet.ClassData {
			return nil
		}
		return append(fakechan.Ack(p.Header.ID^1), fakechan.Ack(p.Header.ID)...)
	}
	e := New(ch, Config{RetryBudget: 1})
	if err := e.Send(context.Background(), packet.TypeDebugIO, nil, []byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(ch.Packets()) != 1 {
		t.Fatalf("stale ACK must not cause a retry")
	}
}

func TestSendRejectsOversizedAndControlKinds(t *testing.T) {
	testlog.Start(t)
	e := New(fakechan.New(), Config{MaxPacketSize: 64})
	err := e.Send(context.Background(), packet.TypeDebugIO, make([]byte, 16), make([]byte, 64))
	if !errors.Is(err, packet.ErrPacketTooLarge) {
		t.Fatalf("expected ErrPacketTooLarge, got %v", err)
	}
	if err := e.Send(context.Background(), packet.TypeAcknowledge, nil, nil); err == nil {
		t.Fatalf("expected control kind to be rejected")
	}
}

func TestBreakinIsolation(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	payload := []byte{packet.BreakinByte, 'a', packet.BreakinByte}
	ch.Feed(fakechan.Data(packet.TypeDebugIO, packet.InitialID, nil, payload))
	e := New(ch, Config{})

	if _, err := e.Receive(context.Background(), packet.TypeDebugIO, nil, make([]byte, 8)); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if e.Breakin() {
		t.Fatalf("break-in byte inside a payload must not raise the flag")
	}

	ch.Feed([]byte{packet.BreakinByte, 'x'})
	if _, err := e.Receive(context.Background(), packet.TypeDebugIO, nil, nil); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if e.Breakin() {
		t.Fatalf("break-in followed by another byte must not raise the flag")
	}

	ch.Feed([]byte{packet.BreakinByte})
	if _, err := e.Receive(context.Background(), packet.TypeDebugIO, nil, nil); !errors.Is(err, ErrResendRequested) {
		t.Fatalf("expected ErrResendRequested, got %v", err)
	}
	if !e.ClearBreakin() {
		t.Fatalf("expected break-in flag")
	}
	if e.Breakin() {
		t.Fatalf("flag must be consumed by ClearBreakin")
	}
}

func TestPollForBreakin(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	e := New(ch, Config{})
	if e.PollForBreakin() {
		t.Fatalf("empty channel must not report break-in")
	}
	ch.Feed([]byte{'z', packet.BreakinByte})
	if e.PollForBreakin() {
		t.Fatalf("non break-in byte reported")
	}
	if !e.PollForBreakin() || !e.Breakin() {
		t.Fatalf("expected break-in")
	}
	if e.Stats().Breakins.Load() != 1 {
		t.Fatalf("breakins=%d", e.Stats().Breakins.Load())
	}
}

func TestSendBreakinWritesLoneByte(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	e := New(ch, Config{})
	if err := e.SendBreakin(); err != nil {
		t.Fatalf("send breakin: %v", err)
	}
	if !bytes.Equal(ch.Raw(), []byte{packet.BreakinByte}) {
		t.Fatalf("unexpected bytes %x", ch.Written())
	}
}

func TestResetFromPeerRestartsIDsAndReplies(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	e := New(ch, Config{})
	e.state.NextOutgoingID = packet.InitialID ^ 1
	e.state.ExpectedIncomingID = packet.InitialID ^ 1

	ch.Feed(fakechan.Control(packet.TypeReset))
	if _, err := e.Receive(context.Background(), packet.TypeAny, nil, nil); !errors.Is(err, ErrResendRequested) {
		t.Fatalf("expected ErrResendRequested, got %v", err)
	}
	st := e.State()
	if st.NextOutgoingID != packet.InitialID || st.ExpectedIncomingID != packet.InitialID {
		t.Fatalf("ids not reset: %+v", st)
	}
	sent := ch.Packets()
	if len(sent) != 1 || sent[0].Header.Kind != packet.TypeReset {
		t.Fatalf("expected RESET reply, got %+v", sent)
	}
}

func TestInitiatorDoesNotAnswerReset(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	e := New(ch, Config{Initiator: true})
	ch.Feed(fakechan.Control(packet.TypeReset))
	if _, err := e.Receive(context.Background(), packet.TypeAny, nil, nil); !errors.Is(err, ErrResendRequested) {
		t.Fatalf("expected ErrResendRequested, got %v", err)
	}
	if len(ch.Packets()) != 0 {
		t.Fatalf("initiator must not echo RESET")
	}
}

type recordingObserver struct {
	dirs  []Direction
	kinds []packet.Type
}

func (r *recordingObserver) ObservePacket(dir Direction, h packet.Header, header, data []byte) {
	r.dirs = append(r.dirs, dir)
	r.kinds = append(r.kinds, h.Kind)
}

func TestObserverSeesBothDirections(t *testing.T) {
	testlog.Start(t)
	ch := fakechan.New()
	ch.OnPacket = fakechan.AckEverything
	obs := &recordingObserver{}
	e := New(ch, Config{Observer: obs})

	if err := e.Send(context.Background(), packet.TypeDebugIO, nil, []byte("o")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if diff := cmp.Diff([]Direction{Outbound, Inbound}, obs.dirs); diff != "" {
		t.Fatalf("directions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]packet.Type{packet.TypeDebugIO, packet.TypeAcknowledge}, obs.kinds); diff != "" {
		t.Fatalf("kinds mismatch (-want +got):\n%s", diff)
	}
}
