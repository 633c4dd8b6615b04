package cache

// Stats is a point-in-time snapshot of the cache counters. Counters only
// grow for the lifetime of the process.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Evictions     uint64 `json:"evictions"`
	Expirations   uint64 `json:"expirations"`
	UsedBytes     int64  `json:"used_bytes"`
	CapacityBytes int64  `json:"capacity_bytes"`
	Entries       int    `json:"entries"`
}

// HitRatio is hits / (hits + misses), or 0 before any request was counted.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// RecordHit counts a request served from the cache.
func (c *Cache) RecordHit() { c.hits.Add(1) }

// RecordMiss counts a request that went through the worker pool.
func (c *Cache) RecordMiss() { c.misses.Add(1) }

func (c *Cache) Stats() Stats {
	entries := 0
	for _, s := range c.shards {
		s.mu.RLock()
		entries += len(s.entries)
		s.mu.RUnlock()
	}

	return Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Evictions:     c.evictions.Load(),
		Expirations:   c.expirations.Load(),
		UsedBytes:     c.used.Load(),
		CapacityBytes: c.capacity,
		Entries:       entries,
	}
}
