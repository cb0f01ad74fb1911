package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskforge/guardkit/logger"
)

// Component is a lifecycle-managed piece of the runtime. The cache and the
// rate limiter implement it; their Start spawns the background sweep and
// their Stop joins it.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// stopTimeout bounds how long a single component may take to stop.
const stopTimeout = 10 * time.Second

type componentEntry struct {
	component Component
	started   bool
}

// componentSet starts components in registration order and stops them in
// reverse order.
type componentSet struct {
	log *logger.Logger

	mu      sync.Mutex
	entries []*componentEntry
	lookup  map[string]*componentEntry
}

func newComponentSet(log *logger.Logger) *componentSet {
	return &componentSet{
		log:    log,
		lookup: make(map[string]*componentEntry),
	}
}

// register adds a component. Register dependencies first; they start first
// and stop last.
func (s *componentSet) register(c Component) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := c.Name()
	if _, exists := s.lookup[name]; exists {
		return fmt.Errorf("component %s already registered", name)
	}

	entry := &componentEntry{component: c}
	s.entries = append(s.entries, entry)
	s.lookup[name] = entry
	return nil
}

// startAll starts components in registration order. The first failure stops
// the sequence; already-started components stay up for stopAll to unwind.
func (s *componentSet) startAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.entries {
		if entry.started {
			continue
		}
		name := entry.component.Name()
		if err := entry.component.Start(ctx); err != nil {
			s.log.Error("component start failed", "component", name, "error", err.Error())
			return fmt.Errorf("start %s: %w", name, err)
		}
		entry.started = true
		s.log.Debug("component started", "component", name)
	}
	return nil
}

// stopAll stops started components in reverse registration order, collecting
// errors rather than aborting on the first one.
func (s *componentSet) stopAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for i := len(s.entries) - 1; i >= 0; i-- {
		entry := s.entries[i]
		if !entry.started {
			continue
		}

		name := entry.component.Name()
		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		if err := entry.component.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			s.log.Error("component stop failed", "component", name, "error", err.Error())
		} else {
			s.log.Debug("component stopped", "component", name)
		}
		entry.started = false
		cancel()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
