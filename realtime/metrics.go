package realtime

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fusioneventsak/urequest-live-sub001/metric"
)

// managerMetrics holds Prometheus metrics for connection lifecycle events.
type managerMetrics struct {
	phase             prometheus.Gauge
	reconnects        prometheus.Counter
	heartbeatFailures prometheus.Counter
	eventsCoalesced   prometheus.Counter
	subscriptions     prometheus.Gauge
}

func newManagerMetrics(registry *metric.MetricsRegistry) (*managerMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "urequest",
			Subsystem: "realtime",
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "urequest",
			Subsystem: "realtime",
			Name:      name,
			Help:      help,
		})
	}

	m := &managerMetrics{
		phase:             gauge("phase", "Current connection phase (0=disconnected 1=connecting 2=connected 3=error)"),
		reconnects:        counter("reconnects_total", "Total reconnection attempts"),
		heartbeatFailures: counter("heartbeat_failures_total", "Total failed liveness probes"),
		eventsCoalesced:   counter("events_coalesced_total", "Total raw events absorbed by debouncing"),
		subscriptions:     gauge("subscriptions", "Current registered subscription count"),
	}

	const component = "realtime"
	if err := registry.RegisterGauge(component, "realtime_phase", m.phase); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(component, "realtime_subscriptions", m.subscriptions); err != nil {
		return nil, err
	}
	counters := []struct {
		name string
		c    prometheus.Counter
	}{
		{"realtime_reconnects", m.reconnects},
		{"realtime_heartbeat_failures", m.heartbeatFailures},
		{"realtime_events_coalesced", m.eventsCoalesced},
	}
	for _, r := range counters {
		if err := registry.RegisterCounter(component, r.name, r.c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *managerMetrics) updatePhase(p Phase)       { m.phase.Set(float64(p)) }
func (m *managerMetrics) recordReconnect()          { m.reconnects.Inc() }
func (m *managerMetrics) recordHeartbeatFailure()   { m.heartbeatFailures.Inc() }
func (m *managerMetrics) recordCoalesced()          { m.eventsCoalesced.Inc() }
func (m *managerMetrics) updateSubscriptions(n int) { m.subscriptions.Set(float64(n)) }
