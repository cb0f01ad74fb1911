package ratelimit

// Stats is a read-only snapshot of limiter activity. Taking a snapshot never
// mutates limiter state.
type Stats struct {
	// TotalKeys is the number of keys currently holding a window record.
	TotalKeys int `json:"total_keys"`
	// TotalRequests is the number of admission checks performed.
	TotalRequests int64 `json:"total_requests"`
	// Allowed is the number of admitted requests.
	Allowed int64 `json:"allowed"`
	// Denied is the number of rejected requests.
	Denied int64 `json:"denied"`
	// AllowRate is Allowed / TotalRequests, zero when no checks were made.
	AllowRate float64 `json:"allow_rate"`
	// FailOpens is the number of checks that degraded to fail-open.
	FailOpens int64 `json:"fail_opens"`
}

// Stats returns a snapshot of limiter counters.
func (l *Limiter) Stats() Stats {
	allowed := l.allowed.Load()
	denied := l.denied.Load()
	total := allowed + denied

	s := Stats{
		TotalKeys:     l.totalKeys(),
		TotalRequests: total,
		Allowed:       allowed,
		Denied:        denied,
		FailOpens:     l.failOpens.Load(),
	}
	if total > 0 {
		s.AllowRate = float64(allowed) / float64(total)
	}
	return s
}
