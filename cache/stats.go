package cache

// Stats is a read-only snapshot of cache activity. Taking a snapshot never
// mutates cache state, so repeated calls without intervening writes return
// identical results.
type Stats struct {
	// TotalKeys is the current number of live entries.
	TotalKeys int `json:"total_keys"`
	// Hits is the number of Get calls that returned a value.
	Hits int64 `json:"hits"`
	// Misses is the number of Get calls that found nothing usable.
	Misses int64 `json:"misses"`
	// TotalRequests is Hits + Misses.
	TotalRequests int64 `json:"total_requests"`
	// HitRate is Hits / TotalRequests, zero when no requests were made.
	HitRate float64 `json:"hit_rate"`
	// Sets is the number of successful Set calls.
	Sets int64 `json:"sets"`
	// Evictions is the number of entries removed to stay within capacity.
	Evictions int64 `json:"evictions"`
	// Expirations is the number of entries removed by expiry.
	Expirations int64 `json:"expirations"`
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	s := Stats{
		TotalKeys:     c.totalKeys(),
		Hits:          hits,
		Misses:        misses,
		TotalRequests: total,
		Sets:          c.sets.Load(),
		Evictions:     c.evictions.Load(),
		Expirations:   c.expired.Load(),
	}
	if total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
