package scan

import "time"

// RetryBackoff returns the delay before retry number attempt (1-based):
// base doubled per prior attempt, capped at max. Pure so it can be
// reasoned about and tested without a clock.
func RetryBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
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
