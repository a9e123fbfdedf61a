package breaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fusioneventsak/urequest-live-sub001/metric"
)

// Registry manages one breaker per named service. Breakers are created
// lazily on first use and persist for the registry's lifetime; there are
// no process-wide singletons, so tests construct isolated registries.
type Registry struct {
	defaults  Config
	overrides map[string]Config

	mu       sync.Mutex
	breakers map[string]*Breaker

	metrics *registryMetrics // Optional
}

// RegistryOption configures the registry.
type RegistryOption func(*Registry)

// WithOverride sets a per-service config override.
func WithOverride(service string, cfg Config) RegistryOption {
	return func(r *Registry) {
		r.overrides[service] = cfg
	}
}

// WithMetrics exposes breaker state and trip counts as Prometheus metrics.
// Ignored when registry is nil.
func WithMetrics(reg *metric.MetricsRegistry) RegistryOption {
	return func(r *Registry) {
		if reg == nil {
			return
		}
		m, err := newRegistryMetrics(reg)
		if err != nil {
			// Metrics are optional; a registration conflict must not take
			// down the breaker layer.
			return
		}
		r.metrics = m
	}
}

// NewRegistry creates a breaker registry with the given default config.
func NewRegistry(defaults Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		defaults:  defaults.normalize(),
		overrides: make(map[string]Config),
		breakers:  make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for a service, creating it on first use.
func (r *Registry) Get(service string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, exists := r.breakers[service]; exists {
		return b
	}

	cfg := r.defaults
	if override, exists := r.overrides[service]; exists {
		cfg = override
	}

	b := New(service, cfg)
	if r.metrics != nil {
		b.onTransition = r.metrics.recordTransition
		r.metrics.setState(service, StateClosed)
	}
	r.breakers[service] = b
	return b
}

// Reset resets the breaker for a service if it exists.
func (r *Registry) Reset(service string) {
	r.mu.Lock()
	b, exists := r.breakers[service]
	r.mu.Unlock()

	if exists {
		b.Reset()
	}
}

// ResetAll resets every breaker in the registry.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}

// Snapshots returns introspection views for all known breakers.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snaps := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		snaps[name] = b.Snapshot()
	}
	return snaps
}

// registryMetrics exposes breaker activity as Prometheus metrics.
type registryMetrics struct {
	state *prometheus.GaugeVec
	trips *prometheus.CounterVec
}

func newRegistryMetrics(reg *metric.MetricsRegistry) (*registryMetrics, error) {
	m := &registryMetrics{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "urequest",
			Subsystem: "breaker",
			Name:      "state",
			Help:      "Breaker state per service (0=closed, 1=open, 2=half_open)",
		}, []string{"service"}),
		trips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "urequest",
			Subsystem: "breaker",
			Name:      "trips_total",
			Help:      "Total number of closed-to-open transitions per service",
		}, []string{"service"}),
	}

	if err := reg.RegisterGaugeVec("breaker", "state", m.state); err != nil {
		return nil, err
	}
	if err := reg.RegisterCounterVec("breaker", "trips_total", m.trips); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *registryMetrics) setState(service string, s State) {
	m.state.WithLabelValues(service).Set(float64(s))
}

func (m *registryMetrics) recordTransition(service string, _, to State) {
	m.setState(service, to)
	if to == StateOpen {
		m.trips.WithLabelValues(service).Inc()
	}
}
