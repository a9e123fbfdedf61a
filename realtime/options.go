package realtime

import (
	"log"

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
	log.Printf("[REALTIME] "+format, v...)
}

func (l *defaultLogger) Errorf(format string, v ...any) {
	log.Printf("[REALTIME ERROR] "+format, v...)
}

func (l *defaultLogger) Debugf(_ string, _ ...any) {
	// Silent by default
}

// ManagerOption is a functional option for configuring the Manager
type ManagerOption func(*Manager) error

// WithLogger sets a custom logger for the manager
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) error {
		if logger == nil {
			logger = &defaultLogger{}
		}
		m.logger = logger
		return nil
	}
}

// WithMetrics enables Prometheus metrics for connection lifecycle events.
func WithMetrics(registry *metric.MetricsRegistry) ManagerOption {
	return func(m *Manager) error {
		if registry == nil {
			return nil // No metrics
		}

		metrics, err := newManagerMetrics(registry)
		if err != nil {
			return err
		}

		m.metrics = metrics
		return nil
	}
}
