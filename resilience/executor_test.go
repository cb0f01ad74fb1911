package resilience

import (
	"context"
	stderrors "errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskforge/guardkit/clock"
	"github.com/taskforge/guardkit/errors"
)

func newTestExecutor() *Executor {
	return NewExecutor(ExecutorConfig{})
}

func TestRun_SuccessFirstAttempt(t *testing.T) {
	ex := newTestExecutor()

	got, err := Run(context.Background(), ex, "op", func(ctx context.Context) (string, error) {
		return "ok", nil
	}, Options[string]{})

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
	if s := ex.Registry().Get("op").Snapshot(); s.SuccessCount != 1 {
		t.Errorf("expected success recorded, got %+v", s)
	}
}

func TestRun_RetriesThenSucceeds_BackoffElapsed(t *testing.T) {
	ex := newTestExecutor()

	var calls atomic.Int64
	start := time.Now()
	got, err := Run(context.Background(), ex, "flaky", func(ctx context.Context) (int, error) {
		if calls.Add(1) < 3 {
			return 0, stderrors.New("transient")
		}
		return 42, nil
	}, Options[int]{
		Retry: &RetryConfig{MaxAttempts: 3, BackoffDelay: 100 * time.Millisecond, MaxDelay: 10 * time.Second},
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
	// Backoff waits: 100ms after attempt 1, 200ms after attempt 2.
	if elapsed < 290*time.Millisecond || elapsed > 600*time.Millisecond {
		t.Errorf("expected ~300ms of backoff, elapsed %s", elapsed)
	}
}

func TestRun_ExhaustedRetriesSurfaceLastError(t *testing.T) {
	ex := newTestExecutor()

	var calls atomic.Int64
	_, err := Run(context.Background(), ex, "down", func(ctx context.Context) (int, error) {
		n := calls.Add(1)
		if n == 3 {
			return 0, stderrors.New("final failure")
		}
		return 0, stderrors.New("earlier failure")
	}, Options[int]{
		Retry: &RetryConfig{MaxAttempts: 3, BackoffDelay: time.Millisecond},
	})

	if !errors.IsOperation(err) {
		t.Fatalf("expected OperationFailed, got %v", err)
	}
	appErr, _ := errors.AsAppError(err)
	if appErr.Details["attempts"] != 3 {
		t.Errorf("expected 3 attempts in details, got %v", appErr.Details["attempts"])
	}
	if !stderrors.Is(err, err) || err.Error() == "" {
		t.Error("error must be inspectable")
	}
	if got := err.Error(); !strings.Contains(got, "final failure") {
		t.Errorf("expected the final attempt's error surfaced, got %q", got)
	}
}

func TestRun_OpenBreakerFailsFastWithoutInvocation(t *testing.T) {
	ex := newTestExecutor()

	// Trip the breaker.
	for i := 0; i < 5; i++ {
		ex.Registry().Get("dead").RecordFailure()
	}

	var called atomic.Bool
	_, err := Run(context.Background(), ex, "dead", func(ctx context.Context) (int, error) {
		called.Store(true)
		return 0, nil
	}, Options[int]{})

	if !errors.IsCircuitOpen(err) {
		t.Fatalf("expected CircuitOpen, got %v", err)
	}
	if called.Load() {
		t.Error("operation must not be invoked while the breaker is open")
	}
}

func TestRun_BreakerOpensMidRetryAbortsRemaining(t *testing.T) {
	ex := newTestExecutor()

	var calls atomic.Int64
	_, err := Run(context.Background(), ex, "failing", func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, stderrors.New("boom")
	}, Options[int]{
		Breaker: &BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour},
		Retry:   &RetryConfig{MaxAttempts: 10, BackoffDelay: time.Millisecond},
	})

	if !errors.IsCircuitOpen(err) {
		t.Fatalf("expected CircuitOpen once the breaker tripped, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts before the breaker opened, got %d", calls.Load())
	}
}

func TestRun_TimeoutWithFallback(t *testing.T) {
	ex := newTestExecutor()

	got, err := Run(context.Background(), ex, "slow", func(ctx context.Context) (string, error) {
		time.Sleep(200 * time.Millisecond)
		return "late", nil
	}, Options[string]{
		Timeout:  20 * time.Millisecond,
		Fallback: func(ctx context.Context) (string, error) { return "fallback", nil },
	})

	if err != nil {
		t.Fatalf("expected fallback result, got error %v", err)
	}
	if got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}

	// The timeout counts as a failure; the fallback is not a breaker success.
	s := ex.Registry().Get("slow").Snapshot()
	if s.FailureCount != 1 {
		t.Errorf("expected 1 recorded failure, got %d", s.FailureCount)
	}
	if s.SuccessCount != 0 {
		t.Errorf("fallback must not be recorded as success, got %d", s.SuccessCount)
	}
}

func TestRun_TimeoutWithoutFallbackPropagates(t *testing.T) {
	ex := newTestExecutor()

	_, err := Run(context.Background(), ex, "slow", func(ctx context.Context) (int, error) {
		time.Sleep(200 * time.Millisecond)
		return 1, nil
	}, Options[int]{
		Timeout: 20 * time.Millisecond,
		Retry:   &RetryConfig{MaxAttempts: 1},
	})

	if !errors.IsTimeout(err) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestRun_LateResultDiscarded(t *testing.T) {
	ex := newTestExecutor()

	release := make(chan struct{})
	_, err := Run(context.Background(), ex, "slow", func(ctx context.Context) (string, error) {
		<-release
		return "late", nil
	}, Options[string]{
		Timeout: 20 * time.Millisecond,
		Retry:   &RetryConfig{MaxAttempts: 1},
	})
	if !errors.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}

	snapshotBefore := ex.Registry().Get("slow").Snapshot()
	close(release)
	time.Sleep(20 * time.Millisecond)

	// The late completion must not be applied to breaker state.
	snapshotAfter := ex.Registry().Get("slow").Snapshot()
	if snapshotBefore.SuccessCount != snapshotAfter.SuccessCount {
		t.Error("late result must be discarded, not recorded")
	}
}

func TestRun_CancellationStopsRetries(t *testing.T) {
	ex := newTestExecutor()
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int64
	done := make(chan error, 1)
	go func() {
		_, err := Run(ctx, ex, "cancelled", func(ctx context.Context) (int, error) {
			calls.Add(1)
			return 0, stderrors.New("boom")
		}, Options[int]{
			Retry: &RetryConfig{MaxAttempts: 100, BackoffDelay: 50 * time.Millisecond},
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !stderrors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop promptly after cancellation")
	}
	if calls.Load() > 2 {
		t.Errorf("expected retries to stop at the next checkpoint, got %d calls", calls.Load())
	}
}

func TestRun_CancellationNotRecordedAsFailure(t *testing.T) {
	ex := newTestExecutor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _ = Run(ctx, ex, "cancelled", func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	}, Options[int]{})

	if s := ex.Registry().Get("cancelled").Snapshot(); s.FailureCount != 0 {
		t.Errorf("caller cancellation must not count as failure, got %d", s.FailureCount)
	}
}

func TestRun_AbandonedProbeReleasesSlot(t *testing.T) {
	clk := clock.NewMock(time.Time{})
	ex := NewExecutor(ExecutorConfig{
		Breaker: BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 30 * time.Second},
		Clock:   clk,
	})

	// Trip the breaker.
	_, _ = Run(context.Background(), ex, "svc", func(ctx context.Context) (int, error) {
		return 0, stderrors.New("boom")
	}, Options[int]{Retry: &RetryConfig{MaxAttempts: 1}})
	if got := ex.Registry().Get("svc").State(); got != StateOpen {
		t.Fatalf("expected open breaker, got %s", got)
	}

	// Admit the recovery probe, then cancel the caller mid-operation so the
	// probe never reports an outcome.
	clk.Advance(31 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	_, err := Run(ctx, ex, "svc", func(ctx context.Context) (int, error) {
		cancel()
		return 0, ctx.Err()
	}, Options[int]{Retry: &RetryConfig{MaxAttempts: 1}})
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s := ex.Registry().Get("svc").Snapshot(); s.FailureCount != 1 {
		t.Errorf("abandoning the probe must not count as failure, got %d", s.FailureCount)
	}

	// The slot must be free again: a healthy call is admitted and closes
	// the circuit instead of being rejected forever.
	got, err := Run(context.Background(), ex, "svc", func(ctx context.Context) (string, error) {
		return "ok", nil
	}, Options[string]{})
	if err != nil {
		t.Fatalf("expected recovery probe admitted after abandonment, got %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
	if s := ex.Registry().Get("svc").State(); s != StateClosed {
		t.Errorf("expected closed circuit after successful probe, got %s", s)
	}
}

func TestDo_WrapsErrorOnlyOperations(t *testing.T) {
	ex := newTestExecutor()

	err := Do(context.Background(), ex, "void", func(ctx context.Context) error {
		return nil
	}, Options[struct{}]{})

	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
}

func TestRun_PerCallBreakerConfigUsedOnCreation(t *testing.T) {
	ex := newTestExecutor()

	_, _ = Run(context.Background(), ex, "custom", func(ctx context.Context) (int, error) {
		return 0, stderrors.New("boom")
	}, Options[int]{
		Breaker: &BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour},
		Retry:   &RetryConfig{MaxAttempts: 1},
	})

	if got := ex.Registry().Get("custom").State(); got != StateOpen {
		t.Errorf("expected breaker with threshold 1 to open after one failure, got %s", got)
	}
}
