package resilience

import (
	"context"
	"errors"
	"time"
)

// Bulkhead saturation errors.
var (
	// ErrBulkheadFull is returned when no slot is free and no wait is configured.
	ErrBulkheadFull = errors.New("bulkhead is full")
	// ErrBulkheadTimeout is returned when the wait for a slot expires.
	ErrBulkheadTimeout = errors.New("bulkhead wait timeout")
)

// BulkheadConfig configures a Bulkhead.
type BulkheadConfig struct {
	// Name identifies this bulkhead in callbacks and logs.
	Name string
	// MaxConcurrent is the maximum number of concurrent holders.
	MaxConcurrent int
	// MaxWait is how long Acquire may wait for a slot. Zero fails immediately.
	MaxWait time.Duration
	// OnReject is called when an acquisition is rejected. Optional.
	OnReject func(name string)
}

// Bulkhead caps concurrent executions so one overloaded dependency cannot
// absorb every goroutine in the process.
type Bulkhead struct {
	cfg BulkheadConfig
	sem chan struct{}
}

// NewBulkhead creates a Bulkhead. A non-positive MaxConcurrent defaults to 10.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Bulkhead{
		cfg: cfg,
		sem: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Acquire claims a slot, waiting up to MaxWait. Every successful Acquire
// must be paired with Release.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	default:
	}

	if b.cfg.MaxWait <= 0 {
		b.reject()
		return ErrBulkheadFull
	}

	timer := time.NewTimer(b.cfg.MaxWait)
	defer timer.Stop()

	select {
	case b.sem <- struct{}{}:
		return nil
	case <-timer.C:
		b.reject()
		return ErrBulkheadTimeout
	case <-ctx.Done():
		b.reject()
		return ctx.Err()
	}
}

// Release returns a previously acquired slot.
func (b *Bulkhead) Release() {
	<-b.sem
}

// Execute runs fn while holding a slot.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()
	return fn()
}

// InUse returns the number of slots currently held.
func (b *Bulkhead) InUse() int { return len(b.sem) }

// Available returns the number of free slots.
func (b *Bulkhead) Available() int { return cap(b.sem) - len(b.sem) }

func (b *Bulkhead) reject() {
	if b.cfg.OnReject != nil {
		b.cfg.OnReject(b.cfg.Name)
	}
}
