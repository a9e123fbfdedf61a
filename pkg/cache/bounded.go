package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

// boundedEntry represents an entry in the bounded cache.
type boundedEntry[V any] struct {
	key        string
	value      V
	sizeBytes  int64
	expiresAt  time.Time
	accessedAt time.Time
}

// isExpired checks if the entry has expired.
func (e *boundedEntry[V]) isExpired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// boundedCache enforces per-entry TTL plus count and byte ceilings with
// LRU eviction. The linked list keeps most recently used entries at the
// front; eviction pops from the back.
type boundedCache[V any] struct {
	mu              sync.RWMutex
	maxEntries      int
	maxBytes        int64
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	items           map[string]*list.Element
	order           *list.List
	totalBytes      int64
	stats           *Statistics
	metrics         *cacheMetrics // Optional, if metrics enabled
	evictFn         EvictCallback[V]
	logger          Logger

	// Background sweep coordination
	shutdown chan struct{}
	done     chan struct{}
	closeMu  sync.Mutex
	closed   bool
}

// newBoundedCache creates a bounded cache and starts its sweep goroutine.
// Returns an error if metrics registration fails when requested.
func newBoundedCache[V any](
	ctx context.Context, maxEntries int, maxBytes int64, defaultTTL, cleanupInterval time.Duration,
	opts *cacheOptions[V],
) (*boundedCache[V], error) {
	stats := NewStatistics()

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "newBoundedCache", "metrics registration")
		}
	}

	c := &boundedCache[V]{
		maxEntries:      maxEntries,
		maxBytes:        maxBytes,
		defaultTTL:      defaultTTL,
		cleanupInterval: cleanupInterval,
		items:           make(map[string]*list.Element),
		order:           list.New(),
		stats:           stats,
		metrics:         metrics,
		evictFn:         opts.evictCallback,
		logger:          opts.logger,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}

	go c.sweep(ctx)

	return c, nil
}

// Get retrieves a value by key, deleting expired entries on the way out.
func (c *boundedCache[V]) Get(key string) (V, bool) {
	now := time.Now()

	var evicted []*boundedEntry[V]
	defer c.notifyEvicted(&evicted)

	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		var zero V
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.recordMiss()
		}
		return zero, false
	}

	entry := element.Value.(*boundedEntry[V])

	if entry.isExpired(now) {
		evicted = append(evicted, c.removeElement(element))
		c.stats.Eviction()
		c.stats.Miss()
		c.trackSize()
		if c.metrics != nil {
			c.metrics.recordEviction()
			c.metrics.recordMiss()
		}

		var zero V
		return zero, false
	}

	entry.accessedAt = now
	c.order.MoveToFront(element)

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}

	return entry.value, true
}

// Set stores a value with the given TTL, evicting LRU entries as needed to
// stay inside both budgets. Returns false without touching the cache for
// nil values, invalid keys, and values that alone exceed the byte ceiling.
func (c *boundedCache[V]) Set(key string, value V, ttl time.Duration) bool {
	if err := validateKey(key); err != nil {
		c.stats.Reject()
		return false
	}
	if isNilValue(value) {
		c.logger.Debugf("cache: rejecting nil value for key %q", key)
		c.stats.Reject()
		return false
	}

	size := estimateSize(value)
	if c.maxBytes > 0 && size > c.maxBytes {
		c.logger.Printf("cache: value for key %q (%d bytes) exceeds byte budget %d", key, size, c.maxBytes)
		c.stats.Reject()
		if c.metrics != nil {
			c.metrics.recordReject()
		}
		return false
	}

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()

	var evicted []*boundedEntry[V]
	defer c.notifyEvicted(&evicted)

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.items[key]; exists {
		entry := element.Value.(*boundedEntry[V])
		c.totalBytes += size - entry.sizeBytes
		entry.value = value
		entry.sizeBytes = size
		entry.expiresAt = now.Add(ttl)
		entry.accessedAt = now
		c.order.MoveToFront(element)
	} else {
		entry := &boundedEntry[V]{
			key:        key,
			value:      value,
			sizeBytes:  size,
			expiresAt:  now.Add(ttl),
			accessedAt: now,
		}
		element := c.order.PushFront(entry)
		c.items[key] = element
		c.totalBytes += size
	}

	evicted = c.evictOverBudget()

	c.stats.Set()
	c.trackSize()
	if c.metrics != nil {
		c.metrics.recordSet()
	}

	return true
}

// Delete removes an entry by key.
func (c *boundedCache[V]) Delete(key string) bool {
	var evicted []*boundedEntry[V]
	defer c.notifyEvicted(&evicted)

	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		return false
	}

	evicted = append(evicted, c.removeElement(element))
	c.stats.Delete()
	c.trackSize()
	if c.metrics != nil {
		c.metrics.recordDelete()
	}

	return true
}

// Clear removes all entries from the cache.
func (c *boundedCache[V]) Clear() {
	var evicted []*boundedEntry[V]
	defer c.notifyEvicted(&evicted)

	c.mu.Lock()
	defer c.mu.Unlock()

	for element := c.order.Back(); element != nil; element = element.Prev() {
		evicted = append(evicted, element.Value.(*boundedEntry[V]))
	}

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.totalBytes = 0

	c.trackSize()
}

// Size returns the current number of entries in the cache.
func (c *boundedCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Bytes returns the current tracked byte total.
func (c *boundedCache[V]) Bytes() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalBytes
}

// Keys returns all unexpired keys, most recently used first.
func (c *boundedCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	now := time.Now()
	for element := c.order.Front(); element != nil; element = element.Next() {
		entry := element.Value.(*boundedEntry[V])
		if !entry.isExpired(now) {
			keys = append(keys, entry.key)
		}
	}
	return keys
}

// Stats returns cache statistics.
func (c *boundedCache[V]) Stats() *Statistics {
	return c.stats
}

// Close shuts down the cache and stops the background sweep goroutine.
// Safe to call more than once.
func (c *boundedCache[V]) Close() error {
	c.closeMu.Lock()
	if !c.closed {
		c.closed = true
		close(c.shutdown)
	}
	c.closeMu.Unlock()

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for sweep goroutine to finish")
	}
}

// evictOverBudget removes least-recently-used entries until both the count
// and byte ceilings are satisfied. Must be called with mutex held.
func (c *boundedCache[V]) evictOverBudget() []*boundedEntry[V] {
	var evicted []*boundedEntry[V]
	for (c.maxEntries > 0 && len(c.items) > c.maxEntries) ||
		(c.maxBytes > 0 && c.totalBytes > c.maxBytes) {
		element := c.order.Back()
		if element == nil {
			break
		}
		evicted = append(evicted, c.removeElement(element))
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
	}
	return evicted
}

// removeElement removes an element from the list, map, and byte total and
// returns its entry so the caller can fire the eviction callback once the
// mutex is released. Must be called with mutex held.
func (c *boundedCache[V]) removeElement(element *list.Element) *boundedEntry[V] {
	entry := element.Value.(*boundedEntry[V])
	delete(c.items, entry.key)
	c.order.Remove(element)
	c.totalBytes -= entry.sizeBytes
	return entry
}

// notifyEvicted invokes the eviction callback for each removed entry.
// Callers defer it before taking the mutex; deferred calls run in reverse
// order, so the callbacks fire after the deferred unlock.
func (c *boundedCache[V]) notifyEvicted(entries *[]*boundedEntry[V]) {
	if c.evictFn == nil {
		return
	}
	for _, entry := range *entries {
		c.evictFn(entry.key, entry.value)
	}
}

// trackSize pushes current size and byte totals into stats and metrics.
// Must be called with mutex held.
func (c *boundedCache[V]) trackSize() {
	c.stats.UpdateSize(int64(len(c.items)))
	c.stats.UpdateBytes(c.totalBytes)
	if c.metrics != nil {
		c.metrics.updateSize(len(c.items))
		c.metrics.updateBytes(c.totalBytes)
	}
}

// sweep periodically removes expired entries and re-checks budgets.
func (c *boundedCache[V]) sweep(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired drops expired entries, then re-enforces the global budgets
// in case tracked bytes drifted while entries sat unread.
func (c *boundedCache[V]) removeExpired() {
	now := time.Now()
	var expired []*boundedEntry[V]

	c.mu.Lock()
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		entry := element.Value.(*boundedEntry[V])
		if entry.isExpired(now) {
			expired = append(expired, entry)
			delete(c.items, entry.key)
			c.order.Remove(element)
			c.totalBytes -= entry.sizeBytes
		}
		element = next
	}
	overBudget := c.evictOverBudget()
	c.trackSize()
	c.mu.Unlock()

	// Run eviction callbacks outside the lock
	if c.evictFn != nil {
		for _, entry := range expired {
			c.evictFn(entry.key, entry.value)
		}
		for _, entry := range overBudget {
			c.evictFn(entry.key, entry.value)
		}
	}

	if len(expired) > 0 {
		c.logger.Debugf("cache: sweep removed %d expired entries", len(expired))
		for range expired {
			c.stats.Eviction()
			if c.metrics != nil {
				c.metrics.recordEviction()
			}
		}
	}
}
