package resilience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskforge/guardkit/clock"
	"github.com/taskforge/guardkit/errors"
	"github.com/taskforge/guardkit/logger"
)

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Breaker holds the default breaker settings for lazily created breakers.
	Breaker BreakerConfig
	// Retry holds the default retry settings.
	Retry RetryConfig
	// Timeout is the default per-attempt deadline. Zero disables it.
	Timeout time.Duration
	// Clock supplies the current time. Defaults to the real clock.
	Clock clock.Clock
	// Logger receives attempt and state logs. Nil disables logging.
	Logger *logger.Logger
	// Tracer, when set, records a span per Run call.
	Tracer trace.Tracer
}

// Executor orchestrates operations through circuit-breaker admission,
// optional timeout-with-fallback, and retry with exponential backoff.
type Executor struct {
	cfg      ExecutorConfig
	registry *Registry
	log      *logger.Logger
}

// NewExecutor creates an Executor with its own lazily populated breaker
// registry.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	cfg.Breaker.Clock = cfg.Clock
	cfg.Retry = cfg.Retry.withDefaults()
	return &Executor{
		cfg:      cfg,
		registry: NewRegistry(cfg.Breaker, cfg.Logger),
		log:      cfg.Logger.WithComponent("executor"),
	}
}

// Registry exposes the executor's breaker registry for observability.
func (ex *Executor) Registry() *Registry { return ex.registry }

// Options tunes a single Run call. Zero-value fields fall back to the
// executor defaults.
type Options[T any] struct {
	// Breaker overrides the settings used if this call creates the breaker.
	Breaker *BreakerConfig
	// Retry overrides the retry settings for this call.
	Retry *RetryConfig
	// Timeout is the per-attempt deadline. Zero means the executor default;
	// a negative value disables the deadline for this call.
	Timeout time.Duration
	// Fallback, when set, supplies the result after a timed-out attempt.
	// Its result is returned to the caller and is NOT recorded as a breaker
	// success.
	Fallback func(ctx context.Context) (T, error)
}

// Run executes op under the named circuit breaker.
//
// Admission is checked before every attempt; a breaker that opens mid-retry
// aborts the remaining attempts with a CircuitOpen error. Each attempt may
// race an optional deadline: a timed-out attempt may still complete later,
// but its late result is discarded, never applied twice. Attempts are
// numbered from 1 and the backoff after a failed attempt n is
// min(backoffDelay * 2^(n-1), maxDelay). The final exhausted attempt's error
// is the one surfaced, wrapped as an OperationFailed unless it is already a
// typed timeout.
func Run[T any](ctx context.Context, ex *Executor, name string, op func(context.Context) (T, error), opts Options[T]) (T, error) {
	var zero T

	cb := ex.registry.GetWithConfig(name, opts.Breaker)
	retryCfg := ex.cfg.Retry
	if opts.Retry != nil {
		retryCfg = opts.Retry.withDefaults()
	}
	timeout := ex.cfg.Timeout
	if opts.Timeout != 0 {
		timeout = opts.Timeout
	}
	if timeout < 0 {
		timeout = 0
	}

	ctx, span := ex.startSpan(ctx, name)
	var lastErr error
	defer func() {
		ex.endSpan(span, lastErr)
	}()

	for attempt := 1; attempt <= retryCfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			return zero, lastErr
		default:
		}

		if !cb.CanExecute() {
			lastErr = errors.CircuitOpen(name, cb.nextAttempt())
			return zero, lastErr
		}

		result, timedOut, err := invoke(ctx, name, op, timeout)
		if err == nil && !timedOut {
			cb.RecordSuccess()
			return result, nil
		}

		// A cancelled caller is not evidence against the operation's health,
		// but the admission must be handed back or a HALF_OPEN slot leaks.
		if ctx.Err() != nil {
			cb.releaseProbe()
			lastErr = ctx.Err()
			return zero, lastErr
		}

		cb.RecordFailure()

		if timedOut {
			if opts.Fallback != nil {
				// The fallback result stands in for the caller but says
				// nothing about the protected operation's health.
				fv, ferr := opts.Fallback(ctx)
				lastErr = ferr
				return fv, ferr
			}
			err = errors.Timeout(name, timeout)
		}

		lastErr = err
		ex.log.Debug("attempt failed", "operation", name, "attempt", attempt, "error", err)

		if attempt == retryCfg.MaxAttempts {
			break
		}

		delay := backoffFor(attempt, retryCfg)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
			return zero, lastErr
		case <-timer.C:
		}
	}

	if errors.IsTimeout(lastErr) {
		return zero, lastErr
	}
	lastErr = errors.OperationFailed(name, retryCfg.MaxAttempts, lastErr)
	return zero, lastErr
}

// Do is a convenience wrapper for operations that return only an error.
func Do(ctx context.Context, ex *Executor, name string, op func(context.Context) error, opts Options[struct{}]) error {
	_, err := Run(ctx, ex, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

// invoke runs op, racing it against the deadline when one is set. The
// operation is not cancelled on expiry, only abandoned. The result channel
// is buffered so a late completion is dropped without leaking the goroutine.
func invoke[T any](ctx context.Context, name string, op func(context.Context) (T, error), timeout time.Duration) (T, bool, error) {
	var zero T
	if timeout <= 0 {
		v, err := op(ctx)
		return v, false, err
	}

	type outcome struct {
		val T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := op(ctx)
		ch <- outcome{val: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-ch:
		return out.val, false, out.err
	case <-timer.C:
		return zero, true, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

func (ex *Executor) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if ex.cfg.Tracer == nil {
		return ctx, nil
	}
	return ex.cfg.Tracer.Start(ctx, "resilience.run",
		trace.WithAttributes(attribute.String("operation", name)))
}

func (ex *Executor) endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
