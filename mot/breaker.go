package mot

import "time"

// breaker skips identity checks for a while after consecutive resolver failures
type breaker struct {
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
	}
}

func (b *breaker) allow(now time.Time) bool {
	if b.openUntil.IsZero() {
		return true
	}
	if now.Before(b.openUntil) {
		return false
	}
	// Half-open: next failure opens it again immediately
	b.openUntil = time.Time{}
	b.failures = maxInt(0, b.threshold-1)
	return true
}

func (b *breaker) success() {
	b.failures = 0
	b.openUntil = time.Time{}
}

// failure returns true when the breaker has just opened
func (b *breaker) failure(now time.Time) bool {
	if b.threshold <= 0 {
		return false
	}
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = now.Add(b.cooldown)
		return true
	}
	return false
}
