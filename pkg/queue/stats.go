package queue

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks queue throughput and latency counters.
type Statistics struct {
	// Atomic counters for thread-safe updates
	processed int64
	succeeded int64
	failed    int64
	rejected  int64
	retried   int64
	stale     int64

	// Protected by mutex
	mu           sync.RWMutex
	startTime    time.Time
	peakWaiting  int
	minLatency   time.Duration
	maxLatency   time.Duration
	totalLatency time.Duration
	latencyCount int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Success records a completed operation and its latency.
func (s *Statistics) Success(latency time.Duration) {
	atomic.AddInt64(&s.processed, 1)
	atomic.AddInt64(&s.succeeded, 1)
	s.observeLatency(latency)
}

// Failure records a terminally failed operation and its latency.
func (s *Statistics) Failure(latency time.Duration) {
	atomic.AddInt64(&s.processed, 1)
	atomic.AddInt64(&s.failed, 1)
	s.observeLatency(latency)
}

// Reject records an item shed without running: queue full, cleared,
// closed, or stale.
func (s *Statistics) Reject() {
	atomic.AddInt64(&s.rejected, 1)
}

// Retry records a failed attempt that was re-enqueued.
func (s *Statistics) Retry() {
	atomic.AddInt64(&s.retried, 1)
}

// Stale records an item rejected by the staleness sweep.
func (s *Statistics) Stale() {
	atomic.AddInt64(&s.stale, 1)
	atomic.AddInt64(&s.rejected, 1)
}

// ObserveWaiting updates the peak waiting-queue length.
func (s *Statistics) ObserveWaiting(length int) {
	s.mu.Lock()
	if length > s.peakWaiting {
		s.peakWaiting = length
	}
	s.mu.Unlock()
}

func (s *Statistics) observeLatency(latency time.Duration) {
	s.mu.Lock()
	if s.latencyCount == 0 || latency < s.minLatency {
		s.minLatency = latency
	}
	if latency > s.maxLatency {
		s.maxLatency = latency
	}
	s.totalLatency += latency
	s.latencyCount++
	s.mu.Unlock()
}

// Processed returns the total number of operations run to completion.
func (s *Statistics) Processed() int64 {
	return atomic.LoadInt64(&s.processed)
}

// Succeeded returns the total number of successful operations.
func (s *Statistics) Succeeded() int64 {
	return atomic.LoadInt64(&s.succeeded)
}

// Failed returns the total number of terminally failed operations.
func (s *Statistics) Failed() int64 {
	return atomic.LoadInt64(&s.failed)
}

// Rejected returns the total number of items shed without running.
func (s *Statistics) Rejected() int64 {
	return atomic.LoadInt64(&s.rejected)
}

// Retried returns the total number of re-enqueued attempts.
func (s *Statistics) Retried() int64 {
	return atomic.LoadInt64(&s.retried)
}

// StaleCount returns the total number of items rejected by the sweep.
func (s *Statistics) StaleCount() int64 {
	return atomic.LoadInt64(&s.stale)
}

// PeakWaiting returns the maximum waiting-queue length observed.
func (s *Statistics) PeakWaiting() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peakWaiting
}

// MinLatency returns the smallest completed-operation latency.
func (s *Statistics) MinLatency() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minLatency
}

// MaxLatency returns the largest completed-operation latency.
func (s *Statistics) MaxLatency() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxLatency
}

// AvgLatency returns the running average completed-operation latency.
func (s *Statistics) AvgLatency() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latencyCount == 0 {
		return 0
	}
	return s.totalLatency / time.Duration(s.latencyCount)
}

// Uptime returns how long the queue has been running.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// Reset resets all statistics to zero.
func (s *Statistics) Reset() {
	atomic.StoreInt64(&s.processed, 0)
	atomic.StoreInt64(&s.succeeded, 0)
	atomic.StoreInt64(&s.failed, 0)
	atomic.StoreInt64(&s.rejected, 0)
	atomic.StoreInt64(&s.retried, 0)
	atomic.StoreInt64(&s.stale, 0)

	s.mu.Lock()
	s.startTime = time.Now()
	s.peakWaiting = 0
	s.minLatency = 0
	s.maxLatency = 0
	s.totalLatency = 0
	s.latencyCount = 0
	s.mu.Unlock()
}

// StatsSummary is a point-in-time snapshot of all statistics.
type StatsSummary struct {
	Processed   int64         `json:"processed"`
	Succeeded   int64         `json:"succeeded"`
	Failed      int64         `json:"failed"`
	Rejected    int64         `json:"rejected"`
	Retried     int64         `json:"retried"`
	Stale       int64         `json:"stale"`
	PeakWaiting int           `json:"peak_waiting"`
	MinLatency  time.Duration `json:"min_latency"`
	MaxLatency  time.Duration `json:"max_latency"`
	AvgLatency  time.Duration `json:"avg_latency"`
	Uptime      time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Processed:   s.Processed(),
		Succeeded:   s.Succeeded(),
		Failed:      s.Failed(),
		Rejected:    s.Rejected(),
		Retried:     s.Retried(),
		Stale:       s.StaleCount(),
		PeakWaiting: s.PeakWaiting(),
		MinLatency:  s.MinLatency(),
		MaxLatency:  s.MaxLatency(),
		AvgLatency:  s.AvgLatency(),
		Uptime:      s.Uptime(),
	}
}
