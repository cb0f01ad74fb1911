package resilience

import (
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// BackoffDelay is the base delay before the second attempt.
	BackoffDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// Jitter adds randomness to backoff (0.0 to 1.0). Zero means none.
	Jitter float64
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BackoffDelay: time.Second,
		MaxDelay:     10 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BackoffDelay <= 0 {
		c.BackoffDelay = def.BackoffDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	return c
}

// backoffFor returns the delay after the given failed attempt (numbered
// from 1): min(backoffDelay * 2^(attempt-1), maxDelay), plus optional jitter.
func backoffFor(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.BackoffDelay) * math.Pow(2, float64(attempt-1))

	if cfg.Jitter > 0 {
		span := delay * cfg.Jitter
		delay += (rand.Float64()*2 - 1) * span
	}

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if delay < 0 {
		delay = float64(cfg.BackoffDelay)
	}
	return time.Duration(delay)
}
