package session

import (
	"time"

	"github.com/danmuck/kdlink/internal/protocol/packet"
)

const (
	// DefaultRetryBudget matches the classic kernel debugger's maximum retries.
	DefaultRetryBudget = 20
	// DefaultHuntBudget bounds how many bytes one leader hunt may examine.
	DefaultHuntBudget = 16 * 1024
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines link reliability settings.
type Config struct {
	// RetryBudget is the number of unacknowledged attempts a critical send
	// makes before the debugger is marked absent.
	RetryBudget   int
	MaxPacketSize int
	HuntBudget    int
	// Initiator engines never answer an incoming RESET; the host side sets it.
	Initiator bool
	// Observer, when set, sees every packet written or accepted.
	Observer Observer
	// Backoff paces repeated reset handshakes while attaching.
	Backoff BackoffConfig
}

// DefaultConfig returns link defaults.
func DefaultConfig() Config {
	return Config{
		RetryBudget:   DefaultRetryBudget,
		MaxPacketSize: packet.MaxPacketSize,
		HuntBudget:    DefaultHuntBudget,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.RetryBudget <= 0 {
		c.RetryBudget = d.RetryBudget
	}
	if c.MaxPacketSize <= 0 || c.MaxPacketSize > packet.MaxPacketSize {
		c.MaxPacketSize = d.MaxPacketSize
	}
	if c.HuntBudget <= 0 {
		c.HuntBudget = d.HuntBudget
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = d.Backoff
	}
	return c
}
