package health

import (
	"fmt"

	"github.com/fusioneventsak/urequest-live-sub001/pkg/breaker"
	"github.com/fusioneventsak/urequest-live-sub001/pkg/cache"
	"github.com/fusioneventsak/urequest-live-sub001/pkg/queue"
	"github.com/fusioneventsak/urequest-live-sub001/realtime"
)

// ConnectionStatus derives a status from the realtime connection phase.
// A connection mid-reconnect is degraded, not unhealthy: reads keep
// working from cache while the manager retries.
func ConnectionStatus(m *realtime.Manager) Status {
	switch m.Phase() {
	case realtime.PhaseConnected:
		return NewHealthy("realtime", "connected")
	case realtime.PhaseConnecting:
		return NewDegraded("realtime", "connecting")
	case realtime.PhaseError:
		msg := "reconnect attempts exhausted"
		if err := m.TerminalErr(); err != nil {
			msg = sanitizeErrorMessage(err.Error())
		}
		return NewUnhealthy("realtime", msg)
	default:
		return NewDegraded("realtime",
			fmt.Sprintf("disconnected, %d reconnect attempts so far", m.Attempts()))
	}
}

// BreakerStatus derives a status from one breaker snapshot. An open
// breaker is unhealthy for its service; half-open means a trial is in
// progress.
func BreakerStatus(snap breaker.Snapshot) Status {
	name := "breaker:" + snap.Service
	switch snap.State {
	case breaker.StateOpen:
		msg := fmt.Sprintf("circuit open, next trial in %s", snap.RetryIn)
		if snap.LastError != "" {
			msg += ": " + sanitizeErrorMessage(snap.LastError)
		}
		return NewUnhealthy(name, msg)
	case breaker.StateHalfOpen:
		return NewDegraded(name,
			fmt.Sprintf("half-open, %d trial successes", snap.HalfOpenSuccesses))
	default:
		if snap.ConsecutiveFailures > 0 {
			return NewDegraded(name,
				fmt.Sprintf("closed with %d consecutive failures", snap.ConsecutiveFailures))
		}
		return NewHealthy(name, "closed")
	}
}

// BreakerRegistryStatuses derives a status per breaker in the registry.
func BreakerRegistryStatuses(reg *breaker.Registry) []Status {
	snaps := reg.Snapshots()
	statuses := make([]Status, 0, len(snaps))
	for _, snap := range snaps {
		statuses = append(statuses, BreakerStatus(snap))
	}
	return statuses
}

// QueueStatus derives a status from the queue's counters. A full queue
// is degraded: new work is being rejected but in-flight work continues.
func QueueStatus[T any](q *queue.Queue[T], maxQueueSize int) Status {
	summary := q.Stats().Summary()
	metrics := &Metrics{
		Uptime:    summary.Uptime,
		Processed: summary.Processed,
		Errors:    summary.Failed,
	}

	waiting := q.WaitingLen()
	if maxQueueSize > 0 && waiting >= maxQueueSize {
		return NewDegraded("queue",
			fmt.Sprintf("full at %d waiting, rejecting new work", waiting)).
			WithMetrics(metrics)
	}
	return NewHealthy("queue",
		fmt.Sprintf("%d waiting, %d in flight", waiting, q.InFlight())).
		WithMetrics(metrics)
}

// CacheStatus derives a status from cache statistics. The cache itself
// has no failure mode worth alerting on; the status carries counters.
func CacheStatus[V any](c cache.Cache[V]) Status {
	summary := c.Stats().Summary()
	return NewHealthy("cache",
		fmt.Sprintf("%d entries, %.0f%% hit ratio", summary.CurrentSize, summary.HitRatio*100)).
		WithMetrics(&Metrics{
			Uptime:    summary.Uptime,
			Processed: summary.Hits + summary.Misses,
		})
}
