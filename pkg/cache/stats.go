package cache

import "sync/atomic"

// Statistics tracks cache activity. All methods are safe for concurrent use.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	size      atomic.Int64
	maxSize   atomic.Int64
}

// NewStatistics creates an empty tracker.
func NewStatistics() *Statistics { return &Statistics{} }

// Hit records a cache hit.
func (s *Statistics) Hit() { s.hits.Add(1) }

// Miss records a cache miss.
func (s *Statistics) Miss() { s.misses.Add(1) }

// Eviction records an entry dropped for space.
func (s *Statistics) Eviction() { s.evictions.Add(1) }

// UpdateSize records the current entry count and its high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	s.size.Store(size)
	for {
		peak := s.maxSize.Load()
		if size <= peak || s.maxSize.CompareAndSwap(peak, size) {
			return
		}
	}
}

// Hits returns the number of hits.
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the number of misses.
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Evictions returns the number of evictions.
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// CurrentSize returns the current entry count.
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }

// MaxSize returns the most entries the cache has held.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// HitRatio returns hits over lookups, or 0 before the first lookup.
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
