package supervise

import "time"

// Restart backoff defaults: 100ms doubling up to 3.2s.
const (
	DefaultBackoffBase = 100 * time.Millisecond
	DefaultBackoffMax  = 3200 * time.Millisecond
)

// Backoff returns the delay before restart attempt n (0-based):
// base doubled per attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
