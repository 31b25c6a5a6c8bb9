package gobayeux

import (
	"math"
	"time"
)

// BackoffPolicy decides how long to wait before retrying after a failed
// exchange
type BackoffPolicy struct {
	// Initial is the delay before the first retry
	Initial time.Duration
	// Multiplier grows the delay after every consecutive failure. Values
	// below 1 keep the delay fixed.
	Multiplier float64
	// Max caps the delay
	Max time.Duration
	// MaxRetries stops the transport after this many consecutive failures.
	// Zero retries until cancelled.
	MaxRetries int
}

// DefaultBackoffPolicy returns the policy used when none is configured
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Initial:    1 * time.Second,
		Multiplier: 2,
		Max:        30 * time.Second,
	}
}

// Delay returns the wait before retry number attempt, counting from 1
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.Initial)
	if p.Multiplier > 1 {
		delay *= math.Pow(p.Multiplier, float64(attempt-1))
	}
	if p.Max > 0 && (delay > float64(p.Max) || math.IsInf(delay, 1)) {
		return p.Max
	}
	return time.Duration(delay)
}

// Exhausted reports whether attempt exceeds MaxRetries
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return p.MaxRetries > 0 && attempt > p.MaxRetries
}
