// Package lossy injects byte loss and corruption into a channel's output.
package lossy

import (
	"math/rand"

	"github.com/danmuck/kdlink/internal/channel"
)

// Options controls fault injection. Rates are probabilities in [0,1].
type Options struct {
	DropRate    float64
	CorruptRate float64
	Seed        int64
}

// Stats counts injected faults.
type Stats struct {
	Dropped   int
	Corrupted int
}

// Channel wraps another channel and damages outbound bytes.
type Channel struct {
	inner channel.Channel
	opts  Options
	rng   *rand.Rand
	stats Stats
}

func Wrap(inner channel.Channel, opts Options) *Channel {
	return &Channel{
		inner: inner,
		opts:  opts,
		rng:   rand.New(rand.NewSource(opts.Seed)),
	}
}

func (c *Channel) ReadByte() (byte, error) {
	return c.inner.ReadByte()
}

func (c *Channel) PollByte() (byte, bool) {
	return c.inner.PollByte()
}

func (c *Channel) WriteByte(b byte) error {
	if c.opts.DropRate > 0 && c.rng.Float64() < c.opts.DropRate {
		c.stats.Dropped++
		return nil
	}
	if c.opts.CorruptRate > 0 && c.rng.Float64() < c.opts.CorruptRate {
		b ^= 1 << uint(c.rng.Intn(8))
		c.stats.Corrupted++
	}
	return c.inner.WriteByte(b)
}

func (c *Channel) Flush() error {
	return channel.Flush(c.inner)
}

// Stats returns the faults injected so far. Not safe for concurrent use with WriteByte.
func (c *Channel) Stats() Stats {
	return c.stats
}
