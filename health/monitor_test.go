package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorUpdateAndGet(t *testing.T) {
	m := NewMonitor()

	m.UpdateHealthy("cache", "warm")
	status, ok := m.Get("cache")
	require.True(t, ok)
	assert.Equal(t, "cache", status.Component)
	assert.True(t, status.IsHealthy())

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestMonitorUpdateSetsComponentAndTimestamp(t *testing.T) {
	m := NewMonitor()

	m.Update("queue", Status{Status: "degraded"})
	status, ok := m.Get("queue")
	require.True(t, ok)
	assert.Equal(t, "queue", status.Component)
	assert.False(t, status.Timestamp.IsZero())
}

func TestMonitorRefreshRunsChecks(t *testing.T) {
	m := NewMonitor()

	calls := 0
	m.RegisterCheck("realtime", func() Status {
		calls++
		return NewDegraded("realtime", "connecting")
	})

	m.Refresh()
	assert.Equal(t, 1, calls)

	status, ok := m.Get("realtime")
	require.True(t, ok)
	assert.True(t, status.IsDegraded())
}

func TestMonitorRemoveDropsCheck(t *testing.T) {
	m := NewMonitor()

	m.RegisterCheck("realtime", func() Status {
		return NewHealthy("realtime", "connected")
	})
	m.Refresh()
	require.Equal(t, 1, m.Count())

	m.Remove("realtime")
	assert.Equal(t, 0, m.Count())

	m.Refresh()
	assert.Equal(t, 0, m.Count())
}

func TestMonitorAggregateHealth(t *testing.T) {
	m := NewMonitor()

	m.UpdateHealthy("cache", "")
	m.UpdateUnhealthy("breaker:requests", "open")

	agg := m.AggregateHealth("sync")
	assert.True(t, agg.IsUnhealthy())
	assert.Len(t, agg.SubStatuses, 2)
}

func TestHandlerHealthyAndDegradedRespond200(t *testing.T) {
	m := NewMonitor()
	m.UpdateDegraded("realtime", "reconnecting")

	rec := httptest.NewRecorder()
	m.Handler("sync").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var agg Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&agg))
	assert.Equal(t, "degraded", agg.Status)
}

func TestHandlerUnhealthyResponds503(t *testing.T) {
	m := NewMonitor()
	m.RegisterCheck("realtime", func() Status {
		return NewUnhealthy("realtime", "reconnect attempts exhausted")
	})

	rec := httptest.NewRecorder()
	m.Handler("sync").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
