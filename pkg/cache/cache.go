// Package cache provides a thread-safe bounded cache for the sync layer.
//
// Entries carry a per-entry TTL and an approximate byte size; the cache
// enforces both an entry-count ceiling and a byte-budget ceiling by
// evicting least-recently-used entries first. All failure paths degrade to
// "not cached" (Set returns false) or "cache miss" (Get returns false) -
// the hot path never returns an error. Statistics are always collected;
// Prometheus metrics are optional via functional options.
package cache

import (
	"time"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

// Cache is the read/write contract exposed to consumers. Values stored in
// the cache are owned by it; callers must treat returned values as
// read-only snapshots.
type Cache[V any] interface {
	// Get retrieves a value by key. Expired entries are deleted as a side
	// effect of the read and report a miss.
	Get(key string) (V, bool)

	// Set stores a value with the given TTL (ttl <= 0 uses the cache's
	// default). Returns false for nil values, oversized values, or invalid
	// keys; the cache is unchanged in those cases.
	Set(key string, value V, ttl time.Duration) bool

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) bool

	// Clear removes all entries from the cache.
	Clear()

	// Size returns the current number of live entries.
	Size() int

	// Bytes returns the current tracked byte total.
	Bytes() int64

	// Keys returns all unexpired keys, most recently used first.
	Keys() []string

	// Stats returns cache statistics (always present for real caches,
	// nil for the noop cache).
	Stats() *Statistics

	// Close stops the background sweep goroutine.
	Close() error
}

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// Logger lets callers observe rejected sets and sweep activity. The
// default logger is silent.
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

type silentLogger struct{}

func (silentLogger) Printf(string, ...any) {}
func (silentLogger) Errorf(string, ...any) {}
func (silentLogger) Debugf(string, ...any) {}

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
