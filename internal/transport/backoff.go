package transport

import (
	"math"
	"time"
)

// Backoff describes the delay between reconnect attempts.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter is the fraction (0..1) of each delay that is randomised away.
	Jitter float64

	// MaxRetries is how many consecutive failed attempts are retried
	// before the run gives up.
	MaxRetries int
}

// DefaultBackoff returns the default reconnect policy.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.2,
		MaxRetries: 8,
	}
}

// Delay returns the wait before retry number attempt (0 based) given the
// previous delay and a random sample r in [0, 1). The sequence never
// decreases and never exceeds Max.
func (b Backoff) Delay(attempt int, prev time.Duration, r float64) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	base := float64(b.Initial) * math.Pow(mult, float64(attempt))
	if b.Max > 0 && base > float64(b.Max) {
		base = float64(b.Max)
	}
	jitter := math.Min(math.Max(b.Jitter, 0), 1)
	d := time.Duration(base * (1 - jitter*r))
	if d < prev {
		d = prev
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}
