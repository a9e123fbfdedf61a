package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestCache(t *testing.T, maxEntries int, maxBytes int64) Cache[string] {
	t.Helper()
	c, err := New[string](context.Background(), maxEntries, maxBytes, time.Minute, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error creating cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestBasicOperations(t *testing.T) {
	cache := newTestCache(t, 10, 1<<20)

	if value, ok := cache.Get("key1"); ok {
		t.Errorf("Expected cache miss, got value: %s", value)
	}

	if !cache.Set("key1", "value1", time.Minute) {
		t.Error("Expected successful set")
	}

	if value, ok := cache.Get("key1"); !ok || value != "value1" {
		t.Errorf("Expected 'value1', got value: %s, ok: %t", value, ok)
	}

	// Update in place
	if !cache.Set("key1", "value1_updated", time.Minute) {
		t.Error("Expected successful update")
	}
	if value, _ := cache.Get("key1"); value != "value1_updated" {
		t.Errorf("Expected 'value1_updated', got %s", value)
	}
	if cache.Size() != 1 {
		t.Errorf("Expected size 1 after update, got %d", cache.Size())
	}

	if !cache.Delete("key1") {
		t.Error("Expected successful deletion")
	}
	if cache.Delete("key1") {
		t.Error("Expected deletion failure for missing key")
	}
	if _, ok := cache.Get("key1"); ok {
		t.Error("Expected cache miss after deletion")
	}
}

func TestTTLExpiry(t *testing.T) {
	cache := newTestCache(t, 10, 1<<20)

	cache.Set("short", "x", 30*time.Millisecond)

	if _, ok := cache.Get("short"); !ok {
		t.Fatal("Expected hit before expiry")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok := cache.Get("short"); ok {
		t.Error("Expected miss after TTL elapsed")
	}
	// The expired read must have removed the entry from the budgets.
	if cache.Size() != 0 {
		t.Errorf("Expected size 0 after expired read, got %d", cache.Size())
	}
	if cache.Bytes() != 0 {
		t.Errorf("Expected 0 tracked bytes after expired read, got %d", cache.Bytes())
	}
}

func TestBackgroundSweepRemovesExpired(t *testing.T) {
	cache := newTestCache(t, 10, 1<<20)

	cache.Set("a", "1", 20*time.Millisecond)
	cache.Set("b", "2", time.Minute)

	time.Sleep(60 * time.Millisecond) // at least one sweep tick past expiry

	if cache.Size() != 1 {
		t.Errorf("Expected sweep to leave 1 entry, got %d", cache.Size())
	}
	if _, ok := cache.Get("b"); !ok {
		t.Error("Unexpired entry should survive the sweep")
	}
}

func TestNilValueRejected(t *testing.T) {
	c, err := New[*string](context.Background(), 10, 1<<20, time.Minute, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if c.Set("nil", nil, time.Minute) {
		t.Error("Expected nil value to be rejected")
	}
	if c.Size() != 0 {
		t.Errorf("Cache should be unchanged, got size %d", c.Size())
	}
	if c.Stats().Rejects() != 1 {
		t.Errorf("Expected 1 reject, got %d", c.Stats().Rejects())
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	cache := newTestCache(t, 10, 1<<20)

	if cache.Set("", "value", time.Minute) {
		t.Error("Expected empty key to be rejected")
	}
}

func TestOversizedValueRejected(t *testing.T) {
	c, err := New[[]byte](context.Background(), 10, 64, time.Minute, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if c.Set("big", make([]byte, 256), time.Minute) {
		t.Error("Expected oversized value to be rejected")
	}
	if c.Size() != 0 {
		t.Error("Cache should be unchanged after oversized rejection")
	}
}

func TestLRUEvictionByCount(t *testing.T) {
	cache := newTestCache(t, 3, 1<<20)

	cache.Set("a", "1", time.Minute)
	cache.Set("b", "2", time.Minute)
	cache.Set("c", "3", time.Minute)

	// Touch "a" so "b" becomes least recently used.
	cache.Get("a")

	cache.Set("d", "4", time.Minute)

	if cache.Size() != 3 {
		t.Fatalf("Expected size 3, got %d", cache.Size())
	}
	if _, ok := cache.Get("b"); ok {
		t.Error("Expected LRU entry 'b' to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := cache.Get(key); !ok {
			t.Errorf("Expected %q to survive eviction", key)
		}
	}
}

func TestByteBudgetEnforced(t *testing.T) {
	// Each value serializes to well over 20 bytes, so only a few fit.
	budget := int64(200)
	cache := newTestCache(t, 100, budget)

	for i := 0; i < 20; i++ {
		cache.Set(fmt.Sprintf("key%d", i), fmt.Sprintf("value-%d", i), time.Minute)
		if cache.Bytes() > budget {
			t.Fatalf("Tracked bytes %d exceeded budget %d after insert %d", cache.Bytes(), budget, i)
		}
	}

	if cache.Size() == 0 {
		t.Error("Expected some entries to survive within budget")
	}
	if cache.Stats().Evictions() == 0 {
		t.Error("Expected evictions under byte pressure")
	}
}

func TestSizeEstimateDeterministic(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	a := estimateSize(payload{Name: "song", Count: 3})
	b := estimateSize(payload{Name: "song", Count: 3})
	if a != b {
		t.Errorf("Expected deterministic estimates, got %d and %d", a, b)
	}
	if a <= 0 {
		t.Errorf("Expected positive estimate, got %d", a)
	}

	// Unserializable values fall back to a fixed charge.
	if got := estimateSize(make(chan int)); got != fallbackSizeBytes {
		t.Errorf("Expected fallback estimate %d, got %d", fallbackSizeBytes, got)
	}
}

func TestKeysMostRecentFirst(t *testing.T) {
	cache := newTestCache(t, 10, 1<<20)

	cache.Set("first", "1", time.Minute)
	cache.Set("second", "2", time.Minute)
	cache.Get("first")

	keys := cache.Keys()
	if len(keys) != 2 {
		t.Fatalf("Expected 2 keys, got %d", len(keys))
	}
	if keys[0] != "first" {
		t.Errorf("Expected most recently used key first, got %v", keys)
	}
}

func TestClear(t *testing.T) {
	cache := newTestCache(t, 10, 1<<20)

	cache.Set("key1", "value1", time.Minute)
	cache.Set("key2", "value2", time.Minute)
	cache.Clear()

	if cache.Size() != 0 {
		t.Errorf("Expected size 0 after clear, got %d", cache.Size())
	}
	if cache.Bytes() != 0 {
		t.Errorf("Expected 0 bytes after clear, got %d", cache.Bytes())
	}
	if _, ok := cache.Get("key1"); ok {
		t.Error("Expected miss after clear")
	}
}

func TestEvictionCallback(t *testing.T) {
	var evicted []string
	c, err := New[string](context.Background(), 2, 1<<20, time.Minute, time.Second,
		WithEvictionCallback[string](func(key string, _ string) {
			evicted = append(evicted, key)
		}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.Set("a", "1", time.Minute)
	c.Set("b", "2", time.Minute)
	c.Set("c", "3", time.Minute)

	if len(evicted) != 1 || evicted[0] != "a" {
		t.Errorf("Expected eviction callback for 'a', got %v", evicted)
	}
}

func TestEvictionCallbackMayReadCache(t *testing.T) {
	var c Cache[string]
	var sizes []int
	c, err := New[string](context.Background(), 2, 1<<20, time.Minute, time.Second,
		WithEvictionCallback[string](func(string, string) {
			sizes = append(sizes, c.Size())
		}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Set("a", "1", time.Minute)
		c.Set("b", "2", time.Minute)
		c.Set("c", "3", time.Minute) // evicts "a", callback reads Size
		c.Delete("b")
		c.Clear()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("eviction callback blocked on cache mutex")
	}

	// One LRU eviction, one delete, one entry cleared.
	if len(sizes) != 3 {
		t.Fatalf("expected 3 callback invocations, got %d", len(sizes))
	}
}

func TestExpiredReadCallbackOutsideLock(t *testing.T) {
	var c Cache[string]
	c, err := New[string](context.Background(), 10, 1<<20, time.Minute, time.Hour,
		WithEvictionCallback[string](func(string, string) {
			c.Size()
		}))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.Set("k", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := c.Get("k"); ok {
			t.Error("expected expired entry to miss")
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("eviction callback blocked on cache mutex")
	}
}

func TestStatsTracking(t *testing.T) {
	cache := newTestCache(t, 10, 1<<20)

	cache.Set("key", "value", time.Minute)
	cache.Get("key")
	cache.Get("missing")

	stats := cache.Stats().Summary()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Sets != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.TrackedBytes <= 0 {
		t.Errorf("Expected positive tracked bytes, got %d", stats.TrackedBytes)
	}
}

func TestNoopCache(t *testing.T) {
	c := NewNoop[string]()

	if c.Set("key", "value", time.Minute) {
		t.Error("Noop cache should reject sets")
	}
	if _, ok := c.Get("key"); ok {
		t.Error("Noop cache should always miss")
	}
	if c.Stats() != nil {
		t.Error("Noop cache has no stats")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Noop close should not fail: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}

	bad := cfg
	bad.MaxEntries = 0
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for zero max_entries")
	}

	disabled := Config{Enabled: false}
	if err := disabled.Validate(); err != nil {
		t.Errorf("Disabled config should skip validation: %v", err)
	}
}

func TestNewFromConfigDisabled(t *testing.T) {
	c, err := NewFromConfig[string](context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("anything"); ok {
		t.Error("Disabled cache should be a noop")
	}
}

func TestConfigDurationStrings(t *testing.T) {
	var cfg Config
	data := []byte(`{"enabled":true,"max_entries":100,"max_bytes":1048576,"default_ttl":"5m","cleanup_interval":"30s"}`)
	if err := cfg.UnmarshalJSON(data); err != nil {
		t.Fatalf("Unexpected unmarshal error: %v", err)
	}
	if cfg.DefaultTTL != 5*time.Minute {
		t.Errorf("Expected 5m TTL, got %v", cfg.DefaultTTL)
	}
	if cfg.CleanupInterval != 30*time.Second {
		t.Errorf("Expected 30s cleanup interval, got %v", cfg.CleanupInterval)
	}
}

func TestCloseIdempotent(t *testing.T) {
	c, err := New[string](context.Background(), 10, 1<<20, time.Minute, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}
