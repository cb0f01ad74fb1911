package runtime

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/taskforge/guardkit/cache"
	"github.com/taskforge/guardkit/clock"
	"github.com/taskforge/guardkit/config"
	"github.com/taskforge/guardkit/logger"
	"github.com/taskforge/guardkit/observability"
	"github.com/taskforge/guardkit/ratelimit"
	"github.com/taskforge/guardkit/resilience"
)

// Runtime owns the guardkit components: the TTL cache, the rate limiter, and
// the resilience executor with its breaker registry. It is constructed
// explicitly from config, never from globals, and is safe for concurrent use
// once Start has returned.
type Runtime struct {
	cfg      *config.Config
	log      *logger.Logger
	clk      clock.Clock
	metrics  *observability.RuntimeMetrics
	cache    *cache.Cache
	limiter  *ratelimit.Limiter
	executor *resilience.Executor

	components *componentSet
}

// Option customizes runtime construction.
type Option func(*options)

type options struct {
	log     *logger.Logger
	clk     clock.Clock
	metrics *observability.RuntimeMetrics
	tracer  trace.Tracer
}

// WithLogger overrides the logger built from config.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithClock injects a clock, normally a mock in tests.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clk = clk }
}

// WithMetrics wires component callbacks into the given instrument set.
func WithMetrics(m *observability.RuntimeMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer makes the executor record a span per Run call.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// New builds a Runtime from cfg. A nil cfg means all defaults. The returned
// runtime is fully constructed but idle; call Start to launch the background
// sweeps.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runtime config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := o.log
	if log == nil {
		log = logger.New(cfg.Logging)
	}
	clk := o.clk
	if clk == nil {
		clk = clock.Real()
	}

	rt := &Runtime{
		cfg:        cfg,
		log:        log,
		clk:        clk,
		metrics:    o.metrics,
		components: newComponentSet(log.WithComponent("runtime")),
	}

	rt.cache = cache.New(cache.Config{
		Capacity:      cfg.Cache.Capacity,
		DefaultTTL:    cfg.Cache.DefaultTTL,
		SweepInterval: cfg.Cache.SweepInterval,
		Namespace:     cfg.Cache.Namespace,
		Shards:        cfg.Cache.Shards,
		Clock:         clk,
		Logger:        log,
		OnEvict:       rt.onEvict,
	})

	rt.limiter = ratelimit.New(ratelimit.Config{
		MaxRequests:   cfg.RateLimit.MaxRequests,
		Window:        cfg.RateLimit.Window,
		SweepInterval: cfg.RateLimit.SweepInterval,
		Shards:        cfg.RateLimit.Shards,
		Clock:         clk,
		Logger:        log,
		OnDecision:    rt.onDecision,
	})

	rt.executor = resilience.NewExecutor(resilience.ExecutorConfig{
		Breaker: resilience.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
			OnStateChange:    rt.onStateChange,
		},
		Retry: resilience.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			BackoffDelay: cfg.Retry.BackoffDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
		},
		Timeout: cfg.Executor.Timeout,
		Clock:   clk,
		Logger:  log,
		Tracer:  o.tracer,
	})

	// Sweep order does not matter between cache and limiter, but register
	// deterministically anyway.
	if err := rt.components.register(rt.cache); err != nil {
		return nil, err
	}
	if err := rt.components.register(rt.limiter); err != nil {
		return nil, err
	}

	return rt, nil
}

// Start launches the background sweeps of all components.
func (rt *Runtime) Start(ctx context.Context) error {
	return rt.components.startAll(ctx)
}

// Shutdown stops all components in reverse start order and joins their
// background goroutines. Safe to call more than once.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	return rt.components.stopAll(ctx)
}

// Cache returns the TTL cache.
func (rt *Runtime) Cache() *cache.Cache { return rt.cache }

// Limiter returns the sliding-window rate limiter.
func (rt *Runtime) Limiter() *ratelimit.Limiter { return rt.limiter }

// Executor returns the resilience executor.
func (rt *Runtime) Executor() *resilience.Executor { return rt.executor }

// Breakers returns the executor's circuit breaker registry.
func (rt *Runtime) Breakers() *resilience.Registry { return rt.executor.Registry() }

// Config returns the effective configuration after defaults.
func (rt *Runtime) Config() *config.Config { return rt.cfg }

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *logger.Logger { return rt.log }

func (rt *Runtime) onEvict(reason cache.EvictReason, count int) {
	rt.metrics.RecordCacheEviction(string(reason), count)
}

func (rt *Runtime) onDecision(key string, allowed bool) {
	rt.metrics.RecordLimiterDecision(allowed)
}

func (rt *Runtime) onStateChange(name string, from, to resilience.State) {
	rt.log.Warn("circuit breaker state change",
		"breaker", name, "from", from.String(), "to", to.String())
	rt.metrics.RecordBreakerTransition(name, from.String(), to.String())
}
