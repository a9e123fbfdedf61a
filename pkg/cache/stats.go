package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks cache performance counters.
type Statistics struct {
	// Atomic counters for thread-safe updates
	hits      int64
	misses    int64
	sets      int64
	deletes   int64
	evictions int64
	rejects   int64

	// Protected by mutex
	mu           sync.RWMutex
	startTime    time.Time
	currentSize  int64
	peakSize     int64
	trackedBytes int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Hit records a cache hit.
func (s *Statistics) Hit() {
	atomic.AddInt64(&s.hits, 1)
}

// Miss records a cache miss.
func (s *Statistics) Miss() {
	atomic.AddInt64(&s.misses, 1)
}

// Set records a cache set operation.
func (s *Statistics) Set() {
	atomic.AddInt64(&s.sets, 1)
}

// Delete records a cache delete operation.
func (s *Statistics) Delete() {
	atomic.AddInt64(&s.deletes, 1)
}

// Eviction records a cache eviction.
func (s *Statistics) Eviction() {
	atomic.AddInt64(&s.evictions, 1)
}

// Reject records a rejected set (nil value, invalid key, or oversized item).
func (s *Statistics) Reject() {
	atomic.AddInt64(&s.rejects, 1)
}

// UpdateSize updates the current cache entry count.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.peakSize {
		s.peakSize = size
	}
	s.mu.Unlock()
}

// UpdateBytes updates the tracked byte total.
func (s *Statistics) UpdateBytes(bytes int64) {
	s.mu.Lock()
	s.trackedBytes = bytes
	s.mu.Unlock()
}

// Hits returns the total number of cache hits.
func (s *Statistics) Hits() int64 {
	return atomic.LoadInt64(&s.hits)
}

// Misses returns the total number of cache misses.
func (s *Statistics) Misses() int64 {
	return atomic.LoadInt64(&s.misses)
}

// Sets returns the total number of set operations.
func (s *Statistics) Sets() int64 {
	return atomic.LoadInt64(&s.sets)
}

// Deletes returns the total number of delete operations.
func (s *Statistics) Deletes() int64 {
	return atomic.LoadInt64(&s.deletes)
}

// Evictions returns the total number of evictions.
func (s *Statistics) Evictions() int64 {
	return atomic.LoadInt64(&s.evictions)
}

// Rejects returns the total number of rejected sets.
func (s *Statistics) Rejects() int64 {
	return atomic.LoadInt64(&s.rejects)
}

// CurrentSize returns the current number of entries in the cache.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// PeakSize returns the maximum number of entries the cache has held.
func (s *Statistics) PeakSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peakSize
}

// TrackedBytes returns the current tracked byte total.
func (s *Statistics) TrackedBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackedBytes
}

// HitRatio returns the cache hit ratio (0.0 to 1.0).
func (s *Statistics) HitRatio() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// Uptime returns how long the cache has been running.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// Reset resets all statistics to zero.
func (s *Statistics) Reset() {
	atomic.StoreInt64(&s.hits, 0)
	atomic.StoreInt64(&s.misses, 0)
	atomic.StoreInt64(&s.sets, 0)
	atomic.StoreInt64(&s.deletes, 0)
	atomic.StoreInt64(&s.evictions, 0)
	atomic.StoreInt64(&s.rejects, 0)

	s.mu.Lock()
	s.startTime = time.Now()
	s.currentSize = 0
	s.peakSize = 0
	s.trackedBytes = 0
	s.mu.Unlock()
}

// StatsSummary is a point-in-time snapshot of all statistics.
type StatsSummary struct {
	Hits         int64         `json:"hits"`
	Misses       int64         `json:"misses"`
	Sets         int64         `json:"sets"`
	Deletes      int64         `json:"deletes"`
	Evictions    int64         `json:"evictions"`
	Rejects      int64         `json:"rejects"`
	CurrentSize  int64         `json:"current_size"`
	PeakSize     int64         `json:"peak_size"`
	TrackedBytes int64         `json:"tracked_bytes"`
	HitRatio     float64       `json:"hit_ratio"`
	Uptime       time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Hits:         s.Hits(),
		Misses:       s.Misses(),
		Sets:         s.Sets(),
		Deletes:      s.Deletes(),
		Evictions:    s.Evictions(),
		Rejects:      s.Rejects(),
		CurrentSize:  s.CurrentSize(),
		PeakSize:     s.PeakSize(),
		TrackedBytes: s.TrackedBytes(),
		HitRatio:     s.HitRatio(),
		Uptime:       s.Uptime(),
	}
}
