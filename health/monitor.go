package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Check produces a point-in-time status for one component.
type Check func() Status

// Monitor tracks per-component health. Components either push statuses
// with Update or register a Check that Refresh pulls from.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checks   map[string]Check
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checks:   make(map[string]Check),
	}
}

// RegisterCheck registers a pull-based check under a name. The check
// runs on every Refresh and on every Handler request.
func (m *Monitor) RegisterCheck(name string, check Check) {
	if check == nil {
		return
	}
	m.mu.Lock()
	m.checks[name] = check
	m.mu.Unlock()
}

// Update records a pushed status for a named component.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy records a component as healthy.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateDegraded records a component as degraded.
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// UpdateUnhealthy records a component as unhealthy.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// Refresh runs every registered check and records its status.
func (m *Monitor) Refresh() {
	m.mu.RLock()
	checks := make(map[string]Check, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	// Checks run outside the lock; they may call into other subsystems.
	for name, check := range checks {
		m.Update(name, check())
	}
}

// Get retrieves the last recorded status for a named component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// GetAll returns a copy of all recorded statuses.
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		result[name] = status
	}
	return result
}

// Remove drops a component and its check from monitoring.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	delete(m.checks, name)
}

// AggregateHealth rolls all recorded statuses up into one.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	m.mu.RUnlock()

	return Aggregate(systemName, subStatuses)
}

// Count returns the number of components with a recorded status.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.statuses)
}

// Handler serves the aggregate as JSON. Healthy and degraded respond
// 200 so load balancers do not evict an instance that is still serving
// stale data; only unhealthy responds 503.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		m.Refresh()
		aggregate := m.AggregateHealth(systemName)

		w.Header().Set("Content-Type", "application/json")
		if aggregate.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(aggregate); err != nil {
			http.Error(w, "encoding failed", http.StatusInternalServerError)
		}
	})
}
