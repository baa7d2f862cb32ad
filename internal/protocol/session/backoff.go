package session

import (
	"math"
	"math/rand"
	"time"
)

// Delay returns how long to wait before reset attempt n (1-based).
// Jittered delays stay within MaxDelay.
func (b BackoffConfig) Delay(n int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	growth := math.Max(b.Multiplier, 1)
	d := float64(b.InitialDelay)
	if n > 1 {
		d *= math.Pow(growth, float64(n-1))
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		d *= f
	}
	if b.MaxDelay > 0 {
		d = math.Min(d, float64(b.MaxDelay))
	}
	return time.Duration(d)
}
