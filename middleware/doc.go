// Package middleware provides Gin HTTP adapters over the guardkit
// components.
//
// RateLimit admits requests through the sliding-window limiter with
// per-route overrides resolved from a lookup table built at startup.
// Concurrency bounds in-flight requests with a bulkhead. RequestID and
// Recovery cover request correlation and panic containment.
package middleware
