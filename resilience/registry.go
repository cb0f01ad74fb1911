package resilience

import (
	"sync"

	"github.com/taskforge/guardkit/clock"
	"github.com/taskforge/guardkit/logger"
)

// Registry holds one circuit breaker per operation name, created lazily on
// first use. Breakers live for the process lifetime; there is no deletion.
type Registry struct {
	defaults BreakerConfig
	clk      clock.Clock
	log      *logger.Logger

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a Registry. The defaults apply to breakers created
// without an explicit per-call config; a zero value means the package
// default (threshold 5, recovery 30s).
func NewRegistry(defaults BreakerConfig, log *logger.Logger) *Registry {
	if defaults.Clock == nil {
		defaults.Clock = clock.Real()
	}
	return &Registry{
		defaults: defaults,
		clk:      defaults.Clock,
		log:      log.WithComponent("breaker"),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it with registry defaults if
// it does not exist yet.
func (r *Registry) Get(name string) *CircuitBreaker {
	return r.GetWithConfig(name, nil)
}

// GetWithConfig returns the breaker for name. When the breaker does not
// exist yet it is created from cfg (nil means registry defaults); an
// existing breaker's configuration is never changed by later calls.
func (r *Registry) GetWithConfig(name string, cfg *BreakerConfig) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	bc := r.defaults
	if cfg != nil {
		bc = *cfg
	}
	bc.Name = name
	if bc.Clock == nil {
		bc.Clock = r.clk
	}
	if bc.OnStateChange == nil {
		bc.OnStateChange = r.logStateChange
	}

	cb = NewCircuitBreaker(bc)
	r.breakers[name] = cb
	return cb
}

// Snapshots returns a read-only view of every breaker, keyed by name.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.Snapshot()
	}
	return out
}

func (r *Registry) logStateChange(name string, from, to State) {
	r.log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
}
