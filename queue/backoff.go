package queue

import (
	"math/rand"
	"time"
)

// BackoffConfig describes the retry delay curve for transient failures
type BackoffConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultBackoff doubles from 5s and caps at 10m
var DefaultBackoff = BackoffConfig{
	BaseDelay: 5 * time.Second,
	MaxDelay:  10 * time.Minute,
}

// Delay returns the backoff delay for the given attempt number (1-based)
// before jitter. Exponential: base * 2^(attempt-1), capped at MaxDelay.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// NextRetryAt computes when a job that just failed its attempt-th try becomes
// eligible again. Equal jitter: the draw lands in (delay/2, delay], so a burst
// of failures against one marketplace does not retry in lockstep while the
// realized delay still grows with the attempt number as long as the curve
// doubles.
func NextRetryAt(now time.Time, attempt int, cfg BackoffConfig, rng *rand.Rand) time.Time {
	delay := cfg.Delay(attempt)
	if rng != nil && delay > 0 {
		half := delay / 2
		delay = half + time.Duration(rng.Int63n(int64(delay-half))) + 1
	}
	return now.Add(delay)
}
