package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketConfig configures a per-key token-bucket strategy.
type TokenBucketConfig struct {
	// RPS is the sustained refill rate in requests per second.
	RPS float64
	// Burst is the bucket capacity.
	Burst int
	// IdleTTL is how long an untouched key's bucket is kept.
	IdleTTL time.Duration
	// SweepInterval is the cadence for removing idle buckets.
	SweepInterval time.Duration
}

// DefaultTokenBucketConfig returns sensible defaults.
func DefaultTokenBucketConfig() TokenBucketConfig {
	return TokenBucketConfig{
		RPS:           10,
		Burst:         20,
		IdleTTL:       15 * time.Minute,
		SweepInterval: 2 * time.Minute,
	}
}

// compile-time assertion
var _ Strategy = (*TokenBucket)(nil)

// TokenBucket is an alternate Strategy that smooths per-key traffic instead
// of counting it in a window. Unlike the sliding-window log it is O(1) per
// check, at the cost of approximate quota metadata.
type TokenBucket struct {
	cfg TokenBucketConfig

	mu      sync.Mutex
	buckets map[string]*bucketEntry

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type bucketEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucket creates a TokenBucket strategy. Call Start to begin the
// idle-bucket sweep.
func NewTokenBucket(cfg TokenBucketConfig) *TokenBucket {
	def := DefaultTokenBucketConfig()
	if cfg.RPS <= 0 {
		cfg.RPS = def.RPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	return &TokenBucket{
		cfg:     cfg,
		buckets: make(map[string]*bucketEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Name identifies the strategy to the runtime lifecycle registry.
func (tb *TokenBucket) Name() string { return "ratelimit.tokenbucket" }

// Start launches the idle-bucket sweep.
func (tb *TokenBucket) Start(ctx context.Context) error {
	go tb.sweepLoop()
	return nil
}

// Stop halts the idle-bucket sweep and waits for it to exit.
func (tb *TokenBucket) Stop(ctx context.Context) error {
	tb.stopOnce.Do(func() { close(tb.stop) })
	select {
	case <-tb.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Check implements Strategy by reserving one token from the key's bucket.
func (tb *TokenBucket) Check(key string) Result {
	lim := tb.bucket(key)

	res := lim.Reserve()
	delay := res.Delay()
	if delay == 0 {
		return Result{
			Allowed:   true,
			Remaining: int(lim.Tokens()),
			ResetAt:   time.Now().Add(time.Duration(float64(time.Second) / tb.cfg.RPS)),
		}
	}
	res.Cancel()
	return Result{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    time.Now().Add(delay),
		RetryAfter: delay,
	}
}

func (tb *TokenBucket) bucket(key string) *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	e, ok := tb.buckets[key]
	if !ok {
		e = &bucketEntry{lim: rate.NewLimiter(rate.Limit(tb.cfg.RPS), tb.cfg.Burst)}
		tb.buckets[key] = e
	}
	e.lastSeen = time.Now()
	return e.lim
}

func (tb *TokenBucket) sweepLoop() {
	defer close(tb.done)
	ticker := time.NewTicker(tb.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-tb.stop:
			return
		case <-ticker.C:
			tb.sweepIdle(time.Now())
		}
	}
}

func (tb *TokenBucket) sweepIdle(now time.Time) {
	cutoff := now.Add(-tb.cfg.IdleTTL)
	tb.mu.Lock()
	defer tb.mu.Unlock()
	for key, e := range tb.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(tb.buckets, key)
		}
	}
}
