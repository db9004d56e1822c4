package delivery

import "time"

// Default backoff bounds.
const (
	DefaultBaseDelay = 5 * time.Second
	DefaultMaxDelay  = 300 * time.Second
)

// Backoff computes exponential retry delays: min(Max, Base*2^(attempt-1)).
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns a 5s base and 300s cap.
func DefaultBackoff() Backoff {
	return Backoff{Base: DefaultBaseDelay, Max: DefaultMaxDelay}
}

// Delay returns the wait after the given failed attempt. Attempts below 1
// are treated as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	base, maxDelay := b.Base, b.Max
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if base >= maxDelay {
		return maxDelay
	}
	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt; i++ {
		if d >= maxDelay/2 {
			return maxDelay
		}
		d *= 2
	}
	return min(d, maxDelay)
}
