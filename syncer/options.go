package syncer

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fusioneventsak/urequest-live-sub001/metric"
)

// Logger interface for injecting custom loggers
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

// defaultLogger implements Logger using standard log package
type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[SYNC] "+format, v...)
}

func (l *defaultLogger) Errorf(format string, v ...any) {
	log.Printf("[SYNC ERROR] "+format, v...)
}

func (l *defaultLogger) Debugf(_ string, _ ...any) {
	// Silent by default
}

// SyncerOption is a functional option for configuring the Syncer
type SyncerOption func(*Syncer) error

// WithLogger sets a custom logger for the syncer
func WithLogger(logger Logger) SyncerOption {
	return func(s *Syncer) error {
		if logger == nil {
			logger = &defaultLogger{}
		}
		s.logger = logger
		return nil
	}
}

// WithMetrics enables Prometheus metrics for sync outcomes.
func WithMetrics(registry *metric.MetricsRegistry) SyncerOption {
	return func(s *Syncer) error {
		if registry == nil {
			return nil // No metrics
		}

		metrics, err := newSyncerMetrics(registry)
		if err != nil {
			return err
		}

		s.metrics = metrics
		return nil
	}
}

// syncerMetrics holds Prometheus metrics for sync outcomes.
type syncerMetrics struct {
	fetches     *prometheus.CounterVec
	staleServed prometheus.Counter
	refreshes   prometheus.Counter
}

func newSyncerMetrics(registry *metric.MetricsRegistry) (*syncerMetrics, error) {
	m := &syncerMetrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "urequest",
			Subsystem: "syncer",
			Name:      "fetches_total",
			Help:      "Total backend fetches by result",
		}, []string{"result"}),
		staleServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "urequest",
			Subsystem: "syncer",
			Name:      "stale_served_total",
			Help:      "Total reads served from stale data after a fetch failure",
		}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "urequest",
			Subsystem: "syncer",
			Name:      "refreshes_total",
			Help:      "Total debounced refresh triggers",
		}),
	}

	const component = "syncer"
	if err := registry.RegisterCounterVec(component, "syncer_fetches", m.fetches); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "syncer_stale_served", m.staleServed); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(component, "syncer_refreshes", m.refreshes); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *syncerMetrics) recordFetch(result string) { m.fetches.WithLabelValues(result).Inc() }
func (m *syncerMetrics) recordStaleServed()        { m.staleServed.Inc() }
func (m *syncerMetrics) recordRefresh()            { m.refreshes.Inc() }
