package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RuntimeMetrics holds the metric instruments for the guardkit components.
// The runtime wires component callbacks (cache eviction, limiter decision,
// breaker transition) into these counters; snapshot/stats APIs stay plain
// method calls and are unaffected.
type RuntimeMetrics struct {
	cacheEvictions    metric.Int64Counter
	limiterDecisions  metric.Int64Counter
	breakerTransition metric.Int64Counter
}

// NewRuntimeMetrics creates the instrument set on the given meter.
func NewRuntimeMetrics(meter metric.Meter) (*RuntimeMetrics, error) {
	cacheEvictions, err := meter.Int64Counter("cache.evictions",
		metric.WithDescription("Cache entries removed, by reason (expired/capacity)"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating cache.evictions counter: %w", err)
	}

	limiterDecisions, err := meter.Int64Counter("ratelimit.decisions",
		metric.WithDescription("Rate limit checks, by outcome (allowed/denied)"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ratelimit.decisions counter: %w", err)
	}

	breakerTransition, err := meter.Int64Counter("breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating breaker.transitions counter: %w", err)
	}

	return &RuntimeMetrics{
		cacheEvictions:    cacheEvictions,
		limiterDecisions:  limiterDecisions,
		breakerTransition: breakerTransition,
	}, nil
}

// RecordCacheEviction records removed cache entries. Callback-driven, so it
// carries no request context.
func (m *RuntimeMetrics) RecordCacheEviction(reason string, count int) {
	if m == nil {
		return
	}
	m.cacheEvictions.Add(context.Background(), int64(count), metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordLimiterDecision records the outcome of a rate limit check.
func (m *RuntimeMetrics) RecordLimiterDecision(allowed bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.limiterDecisions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *RuntimeMetrics) RecordBreakerTransition(name, from, to string) {
	if m == nil {
		return
	}
	m.breakerTransition.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
