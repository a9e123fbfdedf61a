package cache

import (
	"github.com/fusioneventsak/urequest-live-sub001/metric"
)

// Option configures cache behavior using the functional options pattern.
type Option[V any] func(*cacheOptions[V])

// cacheOptions holds internal configuration for cache instances.
// Stats are always collected; metrics are optional via WithMetrics.
type cacheOptions[V any] struct {
	// metricsReg is optional - if provided, cache stats are also exposed
	// as Prometheus metrics
	metricsReg *metric.MetricsRegistry

	// metricsPrefix is used as the component label for Prometheus metrics
	metricsPrefix string

	// evictCallback is called when items are evicted from the cache
	evictCallback EvictCallback[V]

	// logger observes rejected sets and sweep activity
	logger Logger
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// Ignored when registry is nil or prefix is empty.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback invoked with each evicted entry.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithLogger sets a logger for the cache. Nil restores the silent default.
func WithLogger[V any](logger Logger) Option[V] {
	return func(opts *cacheOptions[V]) {
		if logger == nil {
			logger = silentLogger{}
		}
		opts.logger = logger
	}
}

// applyOptions applies functional options to create final cache configuration.
func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{
		logger: silentLogger{},
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
