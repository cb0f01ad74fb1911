// Package ratelimit provides keyed request-rate admission control.
//
// The primary implementation is a sliding-window log: exact, O(window size)
// per key, with per-key records pruned on every access and fully-expired
// records swept on a timer. A token-bucket strategy built on x/time/rate is
// available for smoothing use cases. Limiter bookkeeping failures never block
// traffic: decisions degrade to fail-open.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskforge/guardkit/clock"
	"github.com/taskforge/guardkit/logger"
)

// Result is an admission decision with quota metadata.
type Result struct {
	// Allowed reports whether the request was admitted.
	Allowed bool
	// Remaining is the number of requests left in the current window.
	Remaining int
	// ResetAt is when the oldest admission in the window leaves it.
	ResetAt time.Time
	// RetryAfter is how long a denied caller should wait before retrying.
	// Zero when Allowed is true.
	RetryAfter time.Duration
}

// Strategy decides whether a keyed request is admitted now.
type Strategy interface {
	Check(key string) Result
}

// Config configures a sliding-window Limiter.
type Config struct {
	// MaxRequests is the default per-key limit within Window.
	MaxRequests int
	// Window is the default trailing window duration.
	Window time.Duration
	// SweepInterval is the cadence for removing fully-expired records.
	SweepInterval time.Duration
	// Shards is the number of lock shards for the key space.
	Shards int
	// Clock supplies the current time. Defaults to the real clock.
	Clock clock.Clock
	// Logger receives sweep and degradation logs. Nil disables logging.
	Logger *logger.Logger
	// OnDecision is called after every check with the key and outcome. Optional.
	OnDecision func(key string, allowed bool)
}

// DefaultConfig returns sensible defaults: 100 requests per 15 minutes.
func DefaultConfig() Config {
	return Config{
		MaxRequests:   100,
		Window:        15 * time.Minute,
		SweepInterval: 60 * time.Second,
		Shards:        16,
	}
}

// record holds the ordered admission timestamps for one key. Timestamps
// older than the trailing window are pruned on every access, so the slice
// length always equals the number of admissions within the window.
type record struct {
	timestamps []time.Time
}

type windowShard struct {
	mu      sync.Mutex
	records map[string]*record
}

// compile-time assertion
var _ Strategy = (*Limiter)(nil)

// Limiter is a keyed sliding-window-log rate limiter safe for concurrent use.
type Limiter struct {
	cfg    Config
	clk    clock.Clock
	log    *logger.Logger
	shards []*windowShard

	allowed   atomic.Int64
	denied    atomic.Int64
	failOpens atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Limiter. Call Start to begin the background record sweep.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Shards <= 0 {
		cfg.Shards = def.Shards
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	shards := make([]*windowShard, cfg.Shards)
	for i := range shards {
		shards[i] = &windowShard{records: make(map[string]*record)}
	}

	return &Limiter{
		cfg:    cfg,
		clk:    cfg.Clock,
		log:    cfg.Logger.WithComponent("ratelimit"),
		shards: shards,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Name identifies the limiter to the runtime lifecycle registry.
func (l *Limiter) Name() string { return "ratelimit" }

// Start launches the periodic sweep of fully-expired records.
func (l *Limiter) Start(ctx context.Context) error {
	go l.sweepLoop()
	return nil
}

// Stop halts the background sweep and waits for it to exit.
func (l *Limiter) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Limit returns the configured default per-key limit.
func (l *Limiter) Limit() int { return l.cfg.MaxRequests }

// Window returns the configured default window.
func (l *Limiter) Window() time.Duration { return l.cfg.Window }

// Check admits or denies a request for key using the configured defaults.
func (l *Limiter) Check(key string) Result {
	return l.CheckLimit(key, l.cfg.MaxRequests, l.cfg.Window)
}

// CheckLimit admits or denies a request for key against an explicit limit
// and window. If the limiter's own bookkeeping panics, the decision degrades
// to fail-open: rate limiting failures must never block legitimate traffic.
func (l *Limiter) CheckLimit(key string, limit int, window time.Duration) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			l.failOpens.Add(1)
			l.log.Error("rate limit check degraded to fail-open", "key", key, "panic", r)
			res = Result{Allowed: true, Remaining: limit, ResetAt: l.clk.Now().Add(window)}
		}
	}()

	res = l.decide(key, limit, window)
	if res.Allowed {
		l.allowed.Add(1)
	} else {
		l.denied.Add(1)
	}
	if l.cfg.OnDecision != nil {
		l.cfg.OnDecision(key, res.Allowed)
	}
	return res
}

func (l *Limiter) decide(key string, limit int, window time.Duration) Result {
	now := l.clk.Now()

	// A non-positive limit is a zero quota: deny without touching the
	// window record.
	if limit <= 0 {
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(window),
			RetryAfter: window,
		}
	}

	cutoff := now.Add(-window)

	sh := l.shards[shardIndex(key, len(l.shards))]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		rec = &record{}
		sh.records[key] = rec
	}

	// Prune admissions that left the trailing window. The record must never
	// hold a timestamp older than now - window.
	live := rec.timestamps[:0]
	for _, ts := range rec.timestamps {
		if !ts.Before(cutoff) {
			live = append(live, ts)
		}
	}
	rec.timestamps = live

	if len(rec.timestamps) < limit {
		rec.timestamps = append(rec.timestamps, now)
		return Result{
			Allowed:   true,
			Remaining: limit - len(rec.timestamps),
			ResetAt:   rec.timestamps[0].Add(window),
		}
	}

	oldest := rec.timestamps[0]
	return Result{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    oldest.Add(window),
		RetryAfter: oldest.Add(window).Sub(now),
	}
}

// sweepLoop removes fully-expired records until Stop, bounding memory for
// keys that stopped sending traffic.
func (l *Limiter) sweepLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("rate limit sweep recovered", "panic", r)
		}
	}()

	cutoff := l.clk.Now().Add(-l.cfg.Window)
	removed := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		for key, rec := range sh.records {
			stale := true
			for _, ts := range rec.timestamps {
				if !ts.Before(cutoff) {
					stale = false
					break
				}
			}
			if stale {
				delete(sh.records, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	if removed > 0 {
		l.log.Debug("rate record sweep", "removed", removed)
	}
}

// totalKeys counts keys currently holding a window record.
func (l *Limiter) totalKeys() int {
	total := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		total += len(sh.records)
		sh.mu.Unlock()
	}
	return total
}
