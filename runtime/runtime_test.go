package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/taskforge/guardkit/clock"
	"github.com/taskforge/guardkit/config"
	"github.com/taskforge/guardkit/logger"
	"github.com/taskforge/guardkit/observability"
	"github.com/taskforge/guardkit/resilience"
)

func newTestRuntime(t *testing.T, cfg *config.Config, opts ...Option) *Runtime {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Nop())}, opts...)
	rt, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return rt
}

func TestNewWithNilConfigUsesDefaults(t *testing.T) {
	rt := newTestRuntime(t, nil)

	if rt.Cache() == nil || rt.Limiter() == nil || rt.Executor() == nil {
		t.Fatal("expected all components constructed")
	}
	if rt.Config().Cache.Capacity != 1000 {
		t.Errorf("Cache.Capacity = %d, want 1000", rt.Config().Cache.Capacity)
	}
	if rt.Config().RateLimit.MaxRequests != 100 {
		t.Errorf("RateLimit.MaxRequests = %d, want 100", rt.Config().RateLimit.MaxRequests)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := &config.Config{Environment: "qa"}
	if _, err := New(cfg, WithLogger(logger.Nop())); err == nil {
		t.Fatal("New() = nil error, want validation error")
	}
}

func TestStartShutdownLifecycle(t *testing.T) {
	rt := newTestRuntime(t, nil)

	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Components are usable while running.
	if err := rt.Cache().Set("k", "v", 60); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if res := rt.Limiter().Check("client-1"); !res.Allowed {
		t.Error("first check should be allowed")
	}

	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	// Second shutdown is a no-op.
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
}

func TestExecutorUsesConfiguredRetry(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.BackoffDelay = time.Millisecond

	rt := newTestRuntime(t, cfg)

	calls := 0
	_, err := resilience.Run(context.Background(), rt.Executor(), "op",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("boom")
		}, resilience.Options[int]{})

	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestBreakerStateChangeRecordedViaCallbacks(t *testing.T) {
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Breaker.FailureThreshold = 1
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.BackoffDelay = time.Millisecond

	meter := noop.NewMeterProvider().Meter("test")
	metrics, err := observability.NewRuntimeMetrics(meter)
	if err != nil {
		t.Fatal(err)
	}

	rt := newTestRuntime(t, cfg, WithMetrics(metrics), WithClock(clock.NewMock(time.Time{})))

	_, _ = resilience.Run(context.Background(), rt.Executor(), "flaky",
		func(ctx context.Context) (int, error) {
			return 0, errors.New("down")
		}, resilience.Options[int]{})

	snap, ok := rt.Breakers().Snapshots()["flaky"]
	if !ok {
		t.Fatal("expected breaker created for operation")
	}
	if snap.State != resilience.StateOpen {
		t.Errorf("state = %v, want OPEN", snap.StateName)
	}
}

func TestNilMetricsCallbacksAreSafe(t *testing.T) {
	rt := newTestRuntime(t, nil)

	// Evictions and decisions fire callbacks with no metrics wired.
	for i := 0; i < 3; i++ {
		rt.Limiter().Check("k")
	}
	if err := rt.Cache().Set("a", 1, 60); err != nil {
		t.Fatal(err)
	}
}
