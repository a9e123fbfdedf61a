package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

// Config contains configuration for cache creation.
type Config struct {
	// Enabled determines if caching is enabled.
	Enabled bool `json:"enabled"`

	// MaxEntries is the maximum number of live entries.
	MaxEntries int `json:"max_entries"`

	// MaxBytes is the aggregate byte budget across all entries.
	MaxBytes int64 `json:"max_bytes"`

	// DefaultTTL applies to Set calls that pass a non-positive TTL.
	DefaultTTL time.Duration `json:"default_ttl"`

	// CleanupInterval is how often the background sweep runs.
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MaxEntries:      500,
		MaxBytes:        10 << 20, // 10 MiB
		DefaultTTL:      5 * time.Minute,
		CleanupInterval: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.MaxEntries <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("max_entries must be positive, got %d", c.MaxEntries))
	}
	if c.MaxBytes <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("max_bytes must be positive, got %d", c.MaxBytes))
	}
	if c.DefaultTTL <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("default_ttl must be positive, got %v", c.DefaultTTL))
	}
	if c.CleanupInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			fmt.Sprintf("cleanup_interval must be positive, got %v", c.CleanupInterval))
	}

	return nil
}

// New creates a bounded cache with the given limits.
func New[V any](
	ctx context.Context, maxEntries int, maxBytes int64, defaultTTL, cleanupInterval time.Duration,
	options ...Option[V],
) (Cache[V], error) {
	opts := applyOptions(options...)
	return newBoundedCache[V](ctx, maxEntries, maxBytes, defaultTTL, cleanupInterval, opts)
}

// NewFromConfig creates a cache based on the provided configuration.
// Returns a noop cache (always misses) when config.Enabled is false.
func NewFromConfig[V any](ctx context.Context, config Config, options ...Option[V]) (Cache[V], error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "cache", "NewFromConfig", "config validation")
	}

	if !config.Enabled {
		return NewNoop[V](), nil
	}

	return New[V](ctx, config.MaxEntries, config.MaxBytes, config.DefaultTTL, config.CleanupInterval, options...)
}

// NewNoop creates a cache that does nothing (always reports cache misses).
// Useful when caching is disabled via configuration.
func NewNoop[V any]() Cache[V] {
	return &noopCache[V]{}
}

// noopCache is a cache implementation that does nothing.
type noopCache[V any] struct{}

func (c *noopCache[V]) Get(_ string) (V, bool) {
	var zero V
	return zero, false
}

func (c *noopCache[V]) Set(_ string, _ V, _ time.Duration) bool { return false }
func (c *noopCache[V]) Delete(_ string) bool                    { return false }
func (c *noopCache[V]) Clear()                                  {}
func (c *noopCache[V]) Size() int                               { return 0 }
func (c *noopCache[V]) Bytes() int64                            { return 0 }
func (c *noopCache[V]) Keys() []string                          { return nil }
func (c *noopCache[V]) Stats() *Statistics                      { return nil }
func (c *noopCache[V]) Close() error                            { return nil }

// UnmarshalJSON implements custom JSON unmarshaling for Config to support
// duration strings (e.g., "5m", "30s") in addition to nanosecond integers.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config

	aux := &struct {
		DefaultTTL      json.RawMessage `json:"default_ttl,omitempty"`
		CleanupInterval json.RawMessage `json:"cleanup_interval,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if len(aux.DefaultTTL) > 0 {
		ttl, err := ParseDurationField(aux.DefaultTTL, "default_ttl")
		if err != nil {
			return err
		}
		c.DefaultTTL = ttl
	}

	if len(aux.CleanupInterval) > 0 {
		interval, err := ParseDurationField(aux.CleanupInterval, "cleanup_interval")
		if err != nil {
			return err
		}
		c.CleanupInterval = interval
	}

	return nil
}

// ParseDurationField parses a JSON duration field that can be either an
// integer (nanoseconds) or a duration string like "5m".
func ParseDurationField(data json.RawMessage, fieldName string) (time.Duration, error) {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		duration, err := time.ParseDuration(str)
		if err != nil {
			return 0, fmt.Errorf("invalid duration string for %s: %w", fieldName, err)
		}
		return duration, nil
	}

	var nsec int64
	if err := json.Unmarshal(data, &nsec); err != nil {
		return 0, fmt.Errorf("field %s must be either a duration string (e.g., '5m') or integer nanoseconds", fieldName)
	}
	return time.Duration(nsec), nil
}
