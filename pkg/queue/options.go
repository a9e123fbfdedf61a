package queue

import (
	"github.com/fusioneventsak/urequest-live-sub001/metric"
)

// Logger lets callers observe retries, shed load, and sweep activity.
// The default logger is silent.
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
}

type silentLogger struct{}

func (silentLogger) Printf(string, ...any) {}
func (silentLogger) Errorf(string, ...any) {}

// Option configures queue behavior using the functional options pattern.
type Option[T any] func(*queueOptions)

// queueOptions holds internal configuration for queue instances.
// Stats are always collected; metrics are optional via WithMetrics.
type queueOptions struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	logger        Logger

	// onFull is invoked after each Enqueue rejected for capacity
	onFull func()
}

// WithMetrics enables Prometheus metrics export for queue statistics.
// Ignored when registry is nil or prefix is empty.
func WithMetrics[T any](registry *metric.MetricsRegistry, prefix string) Option[T] {
	return func(opts *queueOptions) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithLogger sets a logger for the queue. Nil restores the silent default.
func WithLogger[T any](logger Logger) Option[T] {
	return func(opts *queueOptions) {
		if logger == nil {
			logger = silentLogger{}
		}
		opts.logger = logger
	}
}

// WithOnFull sets a callback invoked each time Enqueue sheds an item
// because the waiting queue is at capacity.
func WithOnFull[T any](callback func()) Option[T] {
	return func(opts *queueOptions) {
		opts.onFull = callback
	}
}

// applyOptions applies functional options to create final queue configuration.
func applyOptions[T any](options ...Option[T]) *queueOptions {
	opts := &queueOptions{
		logger: silentLogger{},
	}

	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	return opts
}
