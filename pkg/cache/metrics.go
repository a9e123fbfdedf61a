package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fusioneventsak/urequest-live-sub001/metric"
)

// cacheMetrics holds Prometheus metrics for cache operations.
type cacheMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	rejects   prometheus.Counter

	size  prometheus.Gauge
	bytes prometheus.Gauge
}

// newCacheMetrics creates and registers cache metrics with the provided registry.
func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "urequest",
			Subsystem:   "cache",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "urequest",
			Subsystem:   "cache",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}

	m := &cacheMetrics{
		hits:      counter("hits_total", "Total number of cache hits"),
		misses:    counter("misses_total", "Total number of cache misses"),
		sets:      counter("sets_total", "Total number of cache set operations"),
		deletes:   counter("deletes_total", "Total number of cache delete operations"),
		evictions: counter("evictions_total", "Total number of cache evictions"),
		rejects:   counter("rejects_total", "Total number of rejected cache sets"),
		size:      gauge("size", "Current number of entries in cache"),
		bytes:     gauge("bytes", "Current tracked cache bytes"),
	}

	registrations := []struct {
		name string
		c    prometheus.Collector
	}{
		{"cache_hits", m.hits},
		{"cache_misses", m.misses},
		{"cache_sets", m.sets},
		{"cache_deletes", m.deletes},
		{"cache_evictions", m.evictions},
		{"cache_rejects", m.rejects},
	}
	for _, r := range registrations {
		if err := registry.RegisterCounter(prefix, r.name, r.c.(prometheus.Counter)); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "cache_bytes", m.bytes); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *cacheMetrics) recordHit()      { m.hits.Inc() }
func (m *cacheMetrics) recordMiss()     { m.misses.Inc() }
func (m *cacheMetrics) recordSet()      { m.sets.Inc() }
func (m *cacheMetrics) recordDelete()   { m.deletes.Inc() }
func (m *cacheMetrics) recordEviction() { m.evictions.Inc() }
func (m *cacheMetrics) recordReject()   { m.rejects.Inc() }

func (m *cacheMetrics) updateSize(size int)     { m.size.Set(float64(size)) }
func (m *cacheMetrics) updateBytes(bytes int64) { m.bytes.Set(float64(bytes)) }
