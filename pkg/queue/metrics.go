package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fusioneventsak/urequest-live-sub001/metric"
)

// queueMetrics holds Prometheus metrics for queue operations.
type queueMetrics struct {
	succeeded prometheus.Counter
	failed    prometheus.Counter
	rejected  prometheus.Counter
	retried   prometheus.Counter
	stale     prometheus.Counter

	waiting  prometheus.Gauge
	inFlight prometheus.Gauge

	latency prometheus.Histogram
}

// newQueueMetrics creates and registers queue metrics with the provided registry.
func newQueueMetrics(registry *metric.MetricsRegistry, prefix string) (*queueMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "urequest",
			Subsystem:   "queue",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "urequest",
			Subsystem:   "queue",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}

	m := &queueMetrics{
		succeeded: counter("succeeded_total", "Total operations completed successfully"),
		failed:    counter("failed_total", "Total operations terminally failed"),
		rejected:  counter("rejected_total", "Total items shed without running"),
		retried:   counter("retried_total", "Total re-enqueued attempts"),
		stale:     counter("stale_total", "Total items rejected by the staleness sweep"),
		waiting:   gauge("waiting", "Current waiting-queue length"),
		inFlight:  gauge("in_flight", "Current in-flight operation count"),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "urequest",
			Subsystem:   "queue",
			Name:        "latency_seconds",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Completed-operation latency",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 15.0},
		}),
	}

	registrations := []struct {
		name string
		c    prometheus.Counter
	}{
		{"queue_succeeded", m.succeeded},
		{"queue_failed", m.failed},
		{"queue_rejected", m.rejected},
		{"queue_retried", m.retried},
		{"queue_stale", m.stale},
	}
	for _, r := range registrations {
		if err := registry.RegisterCounter(prefix, r.name, r.c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(prefix, "queue_waiting", m.waiting); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(prefix, "queue_in_flight", m.inFlight); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(prefix, "queue_latency_seconds", m.latency); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *queueMetrics) recordSuccess(latency time.Duration) {
	m.succeeded.Inc()
	m.latency.Observe(latency.Seconds())
}

func (m *queueMetrics) recordFailure(latency time.Duration) {
	m.failed.Inc()
	m.latency.Observe(latency.Seconds())
}

func (m *queueMetrics) recordReject() { m.rejected.Inc() }
func (m *queueMetrics) recordRetry()  { m.retried.Inc() }

func (m *queueMetrics) recordStale() {
	m.stale.Inc()
	m.rejected.Inc()
}

func (m *queueMetrics) updateWaiting(length int)   { m.waiting.Set(float64(length)) }
func (m *queueMetrics) updateInFlight(count int64) { m.inFlight.Set(float64(count)) }
