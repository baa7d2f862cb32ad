package channel

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedPort struct {
	chunks   [][]byte
	readErr  error
	written  bytes.Buffer
	timeouts []time.Duration
	closed   bool
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	if len(p.chunks) == 0 {
		return 0, p.readErr
	}
	n := copy(b, p.chunks[0])
	p.chunks = p.chunks[1:]
	return n, nil
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	return p.written.Write(b)
}

func (p *scriptedPort) SetReadTimeout(d time.Duration) error {
	p.timeouts = append(p.timeouts, d)
	return nil
}

func (p *scriptedPort) Close() error {
	p.closed = true
	return nil
}

func TestStreamReadsBufferedBytesThenTimesOut(t *testing.T) {
	port := &scriptedPort{chunks: [][]byte{{0x30, 0x31}, {0x32}}}
	s := NewStream(port, 40*time.Millisecond)

	for _, want := range []byte{0x30, 0x31, 0x32} {
		got, err := s.ReadByte()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := s.ReadByte()
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, []time.Duration{40 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond}, port.timeouts)
}

func TestStreamPollNeverReportsTimeoutAsByte(t *testing.T) {
	port := &scriptedPort{}
	s := NewStream(port, 0)
	_, ok := s.PollByte()
	assert.False(t, ok)

	port.chunks = [][]byte{{0x62}}
	b, ok := s.PollByte()
	require.True(t, ok)
	assert.Equal(t, byte(0x62), b)
	assert.Equal(t, pollTimeout, port.timeouts[len(port.timeouts)-1])
}

func TestStreamWritesAreBatchedUntilFlush(t *testing.T) {
	port := &scriptedPort{}
	s := NewStream(port, 0)
	require.NoError(t, Write(s, []byte{1, 2, 3}))
	assert.Zero(t, port.written.Len())
	require.NoError(t, Flush(s))
	assert.Equal(t, []byte{1, 2, 3}, port.written.Bytes())
}

func TestStreamMapsEOFToClosed(t *testing.T) {
	port := &scriptedPort{readErr: io.EOF}
	s := NewStream(port, 0)
	_, err := s.ReadByte()
	require.True(t, errors.Is(err, ErrClosed), "got %v", err)
	require.NoError(t, s.Close())
	assert.True(t, port.closed)
}
