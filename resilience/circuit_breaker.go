// Package resilience provides per-operation circuit breakers and an
// executor that orchestrates operations through breaker admission, optional
// timeout-with-fallback, and retry with exponential backoff.
package resilience

import (
	"sync"
	"time"

	"github.com/taskforge/guardkit/clock"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows requests to pass through.
	StateClosed State = iota
	// StateOpen blocks all requests until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen allows a single probe to test recovery.
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// Name identifies this circuit breaker for metrics/logging.
	Name string
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before admitting
	// a probe.
	RecoveryTimeout time.Duration
	// Clock supplies the current time. Defaults to the real clock.
	Clock clock.Clock
	// OnStateChange is called when state changes.
	OnStateChange func(name string, from, to State)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Snapshot is a read-only view of a breaker's state. Taking a snapshot never
// mutates the breaker.
type Snapshot struct {
	Name         string    `json:"name"`
	State        State     `json:"-"`
	StateName    string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	// LastFailureAt is zero when no failure has been recorded.
	LastFailureAt time.Time `json:"last_failure_at"`
	// NextAttemptAt is zero unless the breaker has opened at least once.
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// CircuitBreaker is a 3-state failure/recovery machine for one named
// operation.
//
// The OPEN→HALF_OPEN transition is admission-triggered: it happens as a side
// effect of CanExecute once the recovery timeout has elapsed, not as a
// passive function of time. HALF_OPEN admits exactly one in-flight probe;
// concurrent callers are rejected until the probe reports its outcome.
type CircuitBreaker struct {
	cfg BreakerConfig
	clk clock.Clock

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	lastFailureAt time.Time
	nextAttemptAt time.Time
	probeInFlight bool
}

// NewCircuitBreaker creates a circuit breaker in the CLOSED state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &CircuitBreaker{
		cfg:   cfg,
		clk:   cfg.Clock,
		state: StateClosed,
	}
}

// CanExecute reports whether a call may proceed now. In OPEN it returns true
// once the recovery timeout has elapsed, transitioning the breaker to
// HALF_OPEN and claiming the single probe slot as a side effect.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.clk.Now().Before(cb.nextAttemptAt) {
			return false
		}
		cb.toState(StateHalfOpen)
		cb.probeInFlight = true
		return true
	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call. In HALF_OPEN it closes the
// circuit; in CLOSED it resets the consecutive failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.probeInFlight = false
		cb.toState(StateClosed)
	}
}

// RecordFailure reports a failed call. In CLOSED it opens the circuit once
// the failure threshold is reached; in HALF_OPEN it reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clk.Now()
	cb.failureCount++
	cb.lastFailureAt = now

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.nextAttemptAt = now.Add(cb.cfg.RecoveryTimeout)
			cb.toState(StateOpen)
		}
	case StateHalfOpen:
		cb.probeInFlight = false
		cb.nextAttemptAt = now.Add(cb.cfg.RecoveryTimeout)
		cb.toState(StateOpen)
	}
}

// releaseProbe returns the probe slot without counting an outcome, for an
// admitted call abandoned before it could report success or failure. The
// breaker stays HALF_OPEN and the next CanExecute claims the slot again.
func (cb *CircuitBreaker) releaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
	}
}

// State returns the stored state without triggering any transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns a read-only view of the breaker.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:          cb.cfg.Name,
		State:         cb.state,
		StateName:     cb.state.String(),
		FailureCount:  cb.failureCount,
		SuccessCount:  cb.successCount,
		LastFailureAt: cb.lastFailureAt,
		NextAttemptAt: cb.nextAttemptAt,
	}
}

// Reset forces the breaker back to CLOSED and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.toState(StateClosed)
	cb.probeInFlight = false
	cb.successCount = 0
}

// toState transitions to a new state. Caller must hold cb.mu. The failure
// count resets exactly on transition into CLOSED.
func (cb *CircuitBreaker) toState(to State) {
	if cb.state == to {
		if to == StateClosed {
			cb.failureCount = 0
		}
		return
	}

	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.failureCount = 0
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// nextAttempt returns the earliest instant an OPEN breaker admits a probe.
func (cb *CircuitBreaker) nextAttempt() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.nextAttemptAt
}
