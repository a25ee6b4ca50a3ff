package upstream

import (
	"math"
	"time"
)

// Backoff is an exponential reconnection policy: delay_k = Base * Factor^k,
// capped at Max, with at most MaxAttempts scheduled retries.
type Backoff struct {
	Base        time.Duration
	Factor      float64
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff is 1s, 1.5s, 2.25s then give up.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        time.Second,
		Factor:      1.5,
		Max:         30 * time.Second,
		MaxAttempts: 3,
	}
}

// Delay returns the wait before retry number attempt (zero based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Base) * math.Pow(b.Factor, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Exhausted reports whether attempt retries have already been used up.
// MaxAttempts <= 0 means retry forever.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}
