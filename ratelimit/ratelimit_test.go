package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/taskforge/guardkit/clock"
)

func newTestLimiter(cfg Config) (*Limiter, *clock.Mock) {
	mock := clock.NewMock(time.Time{})
	cfg.Clock = mock
	return New(cfg), mock
}

func TestCheckLimit_SlidingWindow(t *testing.T) {
	l, clk := newTestLimiter(Config{})
	window := 10 * time.Second

	// 3 calls at t=0 all admitted.
	for i := 0; i < 3; i++ {
		res := l.CheckLimit("client", 3, window)
		if !res.Allowed {
			t.Fatalf("call %d: expected allowed", i+1)
		}
		if res.Remaining != 2-i {
			t.Errorf("call %d: expected remaining %d, got %d", i+1, 2-i, res.Remaining)
		}
	}

	// 4th at t=0 denied with retryAfter ~= the full window.
	res := l.CheckLimit("client", 3, window)
	if res.Allowed {
		t.Fatal("4th call: expected denied")
	}
	if res.RetryAfter != window {
		t.Errorf("expected retryAfter %s, got %s", window, res.RetryAfter)
	}
	if res.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", res.Remaining)
	}

	// 5th at t=10.001s admitted again.
	clk.Advance(10001 * time.Millisecond)
	res = l.CheckLimit("client", 3, window)
	if !res.Allowed {
		t.Error("5th call after window: expected allowed")
	}
}

func TestCheckLimit_IndependentKeys(t *testing.T) {
	l, _ := newTestLimiter(Config{})

	if res := l.CheckLimit("a", 1, time.Minute); !res.Allowed {
		t.Fatal("expected first key admitted")
	}
	if res := l.CheckLimit("a", 1, time.Minute); res.Allowed {
		t.Fatal("expected first key exhausted")
	}
	if res := l.CheckLimit("b", 1, time.Minute); !res.Allowed {
		t.Error("keys must not share quotas")
	}
}

func TestCheckLimit_ZeroLimitDeniesEverything(t *testing.T) {
	l, clk := newTestLimiter(Config{})
	window := time.Minute

	res := l.CheckLimit("blocked", 0, window)
	if res.Allowed {
		t.Fatal("a zero quota must deny the request")
	}
	if res.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", res.Remaining)
	}
	if res.RetryAfter != window {
		t.Errorf("expected retryAfter %s, got %s", window, res.RetryAfter)
	}
	if want := clk.Now().Add(window); !res.ResetAt.Equal(want) {
		t.Errorf("expected resetAt %s, got %s", want, res.ResetAt)
	}

	// The denial is a real decision, not a degraded fail-open one.
	s := l.Stats()
	if s.FailOpens != 0 {
		t.Errorf("expected no fail-opens, got %d", s.FailOpens)
	}
	if s.Denied != 1 {
		t.Errorf("expected 1 denial, got %d", s.Denied)
	}
}

func TestCheck_UsesConfiguredDefaults(t *testing.T) {
	l, _ := newTestLimiter(Config{MaxRequests: 2, Window: time.Minute})

	l.Check("k")
	l.Check("k")
	if res := l.Check("k"); res.Allowed {
		t.Error("expected default limit of 2 to deny the 3rd request")
	}
}

func TestCheckLimit_ResetAt(t *testing.T) {
	l, clk := newTestLimiter(Config{})
	start := clk.Now()

	res := l.CheckLimit("k", 5, 10*time.Second)
	want := start.Add(10 * time.Second)
	if !res.ResetAt.Equal(want) {
		t.Errorf("expected resetAt %s, got %s", want, res.ResetAt)
	}
}

func TestCheckLimit_PruneInvariant(t *testing.T) {
	l, clk := newTestLimiter(Config{})
	window := 10 * time.Second

	// Admissions at t=0, t=4s, t=8s.
	l.CheckLimit("k", 10, window)
	clk.Advance(4 * time.Second)
	l.CheckLimit("k", 10, window)
	clk.Advance(4 * time.Second)
	l.CheckLimit("k", 10, window)

	// At t=12s the t=0 admission left the window: 3 admitted so far but
	// only 2 remain, so remaining = 10 - (2 live + this one) = 7.
	clk.Advance(4 * time.Second)
	res := l.CheckLimit("k", 10, window)
	if !res.Allowed {
		t.Fatal("expected allowed")
	}
	if res.Remaining != 7 {
		t.Errorf("expected remaining 7 after pruning, got %d", res.Remaining)
	}
}

func TestCheckLimit_ConcurrentSameKey(t *testing.T) {
	l, _ := newTestLimiter(Config{})

	const limit = 50
	const callers = 200
	var allowed, denied int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := l.CheckLimit("shared", limit, time.Minute)
			mu.Lock()
			if res.Allowed {
				allowed++
			} else {
				denied++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("expected exactly %d admissions, got %d", limit, allowed)
	}
	if denied != callers-limit {
		t.Errorf("expected %d denials, got %d", callers-limit, denied)
	}
}

func TestStats_Idempotent(t *testing.T) {
	l, _ := newTestLimiter(Config{})

	l.CheckLimit("k", 1, time.Minute)
	l.CheckLimit("k", 1, time.Minute)

	first := l.Stats()
	second := l.Stats()
	if first != second {
		t.Errorf("expected identical snapshots, got %+v then %+v", first, second)
	}
	if first.Allowed != 1 || first.Denied != 1 || first.TotalRequests != 2 {
		t.Errorf("unexpected counters: %+v", first)
	}
	if first.AllowRate != 0.5 {
		t.Errorf("expected allow rate 0.5, got %f", first.AllowRate)
	}
	if first.TotalKeys != 1 {
		t.Errorf("expected 1 tracked key, got %d", first.TotalKeys)
	}
}

func TestSweep_RemovesExpiredRecords(t *testing.T) {
	mock := clock.NewMock(time.Time{})
	l := New(Config{Clock: mock, Window: time.Second, SweepInterval: 10 * time.Millisecond})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer l.Stop(context.Background())

	for i := 0; i < 5; i++ {
		l.CheckLimit(fmt.Sprintf("key-%d", i), 10, time.Second)
	}
	mock.Advance(2 * time.Second)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if l.Stats().TotalKeys == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := l.Stats().TotalKeys; got != 0 {
		t.Errorf("expected all records swept, got %d", got)
	}
}

func TestOnDecision_Callback(t *testing.T) {
	var mu sync.Mutex
	decisions := map[bool]int{}

	mock := clock.NewMock(time.Time{})
	l := New(Config{
		Clock: mock,
		OnDecision: func(key string, allowed bool) {
			mu.Lock()
			decisions[allowed]++
			mu.Unlock()
		},
	})

	l.CheckLimit("k", 1, time.Minute)
	l.CheckLimit("k", 1, time.Minute)

	mu.Lock()
	defer mu.Unlock()
	if decisions[true] != 1 || decisions[false] != 1 {
		t.Errorf("expected one allow and one deny callback, got %v", decisions)
	}
}

func TestStop_Idempotent(t *testing.T) {
	l, _ := newTestLimiter(Config{SweepInterval: time.Hour})
	l.Start(context.Background())

	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}
