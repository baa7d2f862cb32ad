package loopback

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/kdlink/internal/channel"
)

func TestPairCarriesBytesBothWays(t *testing.T) {
	a, b := Pair(20 * time.Millisecond)
	if err := channel.Write(a, []byte{1, 2}); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := b.WriteByte(9); err != nil {
		t.Fatalf("write b: %v", err)
	}
	for _, want := range []byte{1, 2} {
		got, err := b.ReadByte()
		if err != nil || got != want {
			t.Fatalf("read b got=%d err=%v want=%d", got, err, want)
		}
	}
	if got, ok := a.PollByte(); !ok || got != 9 {
		t.Fatalf("poll a got=%d ok=%v", got, ok)
	}
	if _, ok := a.PollByte(); ok {
		t.Fatalf("expected empty poll")
	}
	if _, err := a.ReadByte(); !errors.Is(err, channel.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestCloseUnblocksBothEnds(t *testing.T) {
	a, b := Pair(time.Second)
	_ = a.Close()
	if _, err := b.ReadByte(); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
	if err := b.WriteByte(1); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("expected closed on write, got %v", err)
	}
}
