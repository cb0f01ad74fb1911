// Package observability provides OpenTelemetry wiring for guardkit.
//
// It covers provider initialization (InitMeter/InitTracer with OTLP HTTP
// exporters) and a RuntimeMetrics instrument set the runtime feeds from
// component callbacks: cache evictions by reason, rate-limit decisions by
// outcome, and circuit-breaker state transitions.
//
// Everything here is additive. Components stay fully functional without a
// provider; a nil *RuntimeMetrics is a no-op.
package observability
