package queue

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

var errFetch = stderrors.New("fetch failed")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxQueueSize = 10
	cfg.RetryDelay = time.Millisecond
	cfg.Timeout = time.Second
	return cfg
}

// gate returns an operation that holds its concurrency slot until
// released, plus a channel that closes once the operation has started.
func gate() (op func(context.Context) (int, error), started, release chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})
	op = func(ctx context.Context) (int, error) {
		close(started)
		select {
		case <-release:
			return 0, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return op, started, release
}

func awaitResult[T any](t *testing.T, ch <-chan Result[T]) Result[T] {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queue result")
		return Result[T]{}
	}
}

func TestEnqueueAndComplete(t *testing.T) {
	q, err := New[int](testConfig())
	require.NoError(t, err)
	defer q.Close()

	ch, err := q.Enqueue(func(context.Context) (int, error) {
		return 7, nil
	}, PriorityMedium, 0)
	require.NoError(t, err)

	r := awaitResult(t, ch)
	assert.NoError(t, r.Err)
	assert.Equal(t, 7, r.Value)
}

func TestPriorityDispatchOrder(t *testing.T) {
	q, err := New[int](testConfig())
	require.NoError(t, err)
	defer q.Close()

	gateOp, started, release := gate()
	_, err = q.Enqueue(gateOp, PriorityHigh, 0)
	require.NoError(t, err)
	<-started

	// With the single slot held, these three wait in the heap.
	order := make(chan Priority, 3)
	record := func(p Priority) func(context.Context) (int, error) {
		return func(context.Context) (int, error) {
			order <- p
			return 0, nil
		}
	}

	chans := make([]<-chan Result[int], 0, 3)
	for _, p := range []Priority{PriorityLow, PriorityHigh, PriorityMedium} {
		ch, err := q.Enqueue(record(p), p, 0)
		require.NoError(t, err)
		chans = append(chans, ch)
	}

	close(release)
	for _, ch := range chans {
		awaitResult(t, ch)
	}

	assert.Equal(t, PriorityHigh, <-order)
	assert.Equal(t, PriorityMedium, <-order)
	assert.Equal(t, PriorityLow, <-order)
}

func TestRetriesExactlyMaxRetriesThenRejects(t *testing.T) {
	q, err := New[int](testConfig())
	require.NoError(t, err)
	defer q.Close()

	var calls int64
	ch, err := q.Enqueue(func(context.Context) (int, error) {
		atomic.AddInt64(&calls, 1)
		return 0, errFetch
	}, PriorityHigh, 2)
	require.NoError(t, err)

	r := awaitResult(t, ch)
	require.Error(t, r.Err)
	assert.EqualValues(t, 3, atomic.LoadInt64(&calls))
	assert.ErrorIs(t, r.Err, errors.ErrMaxRetriesExceeded)
	assert.ErrorIs(t, r.Err, errFetch)
	assert.Equal(t, errors.KindExhausted, errors.KindOf(r.Err))

	assert.EqualValues(t, 2, q.Stats().Retried())
	assert.EqualValues(t, 1, q.Stats().Failed())
}

func TestNoRetryBudgetFailsWithOriginalError(t *testing.T) {
	q, err := New[int](testConfig())
	require.NoError(t, err)
	defer q.Close()

	var calls int64
	ch, err := q.Enqueue(func(context.Context) (int, error) {
		atomic.AddInt64(&calls, 1)
		return 0, errFetch
	}, PriorityHigh, 0)
	require.NoError(t, err)

	r := awaitResult(t, ch)
	assert.ErrorIs(t, r.Err, errFetch)
	assert.NotErrorIs(t, r.Err, errors.ErrMaxRetriesExceeded)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestCancelledOperationNotRetried(t *testing.T) {
	q, err := New[int](testConfig())
	require.NoError(t, err)
	defer q.Close()

	var calls int64
	ch, err := q.Enqueue(func(context.Context) (int, error) {
		atomic.AddInt64(&calls, 1)
		return 0, errors.WrapCancelled(stderrors.New("caller gave up"), "syncer", "fetch", "abort")
	}, PriorityHigh, 3)
	require.NoError(t, err)

	r := awaitResult(t, ch)
	assert.True(t, errors.IsCancelled(r.Err))
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestCircuitOpenOperationNotRetried(t *testing.T) {
	q, err := New[int](testConfig())
	require.NoError(t, err)
	defer q.Close()

	var calls int64
	ch, err := q.Enqueue(func(context.Context) (int, error) {
		atomic.AddInt64(&calls, 1)
		return 0, &errors.CircuitOpenError{Service: "requests", RetryIn: time.Second}
	}, PriorityHigh, 2)
	require.NoError(t, err)

	r := awaitResult(t, ch)
	assert.True(t, errors.IsCircuitOpen(r.Err))
	assert.False(t, stderrors.Is(r.Err, errors.ErrMaxRetriesExceeded))
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestCapacityOperationNotRetried(t *testing.T) {
	q, err := New[int](testConfig())
	require.NoError(t, err)
	defer q.Close()

	var calls int64
	ch, err := q.Enqueue(func(context.Context) (int, error) {
		atomic.AddInt64(&calls, 1)
		return 0, errors.WrapCapacity(errors.ErrQueueFull, "queue", "enqueue", "admit request")
	}, PriorityMedium, 3)
	require.NoError(t, err)

	r := awaitResult(t, ch)
	assert.Equal(t, errors.KindCapacity, errors.KindOf(r.Err))
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestFullQueueRejectsImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 2

	var fullCalls int64
	q, err := New[int](cfg, WithOnFull[int](func() {
		atomic.AddInt64(&fullCalls, 1)
	}))
	require.NoError(t, err)
	defer q.Close()

	gateOp, started, release := gate()
	_, err = q.Enqueue(gateOp, PriorityHigh, 0)
	require.NoError(t, err)
	<-started
	defer close(release)

	noop := func(context.Context) (int, error) { return 0, nil }
	_, err = q.Enqueue(noop, PriorityMedium, 0)
	require.NoError(t, err)
	_, err = q.Enqueue(noop, PriorityMedium, 0)
	require.NoError(t, err)

	_, err = q.Enqueue(noop, PriorityHigh, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrQueueFull)
	assert.Equal(t, errors.KindCapacity, errors.KindOf(err))
	assert.Equal(t, 2, q.WaitingLen())
	assert.EqualValues(t, 1, atomic.LoadInt64(&fullCalls))
	assert.EqualValues(t, 1, q.Stats().Rejected())
}

func TestOperationTimeoutClassified(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond

	q, err := New[int](cfg)
	require.NoError(t, err)
	defer q.Close()

	ch, err := q.Enqueue(func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, PriorityHigh, 0)
	require.NoError(t, err)

	r := awaitResult(t, ch)
	assert.Equal(t, errors.KindTimeout, errors.KindOf(r.Err))
}

func TestStalenessSweepRejectsWaitingItems(t *testing.T) {
	cfg := testConfig()
	cfg.StaleAfter = 20 * time.Millisecond
	cfg.SweepInterval = 10 * time.Millisecond

	q, err := New[int](cfg)
	require.NoError(t, err)
	defer q.Close()

	gateOp, started, release := gate()
	_, err = q.Enqueue(gateOp, PriorityHigh, 0)
	require.NoError(t, err)
	<-started
	defer close(release)

	ch, err := q.Enqueue(func(context.Context) (int, error) {
		return 0, nil
	}, PriorityLow, 0)
	require.NoError(t, err)

	r := awaitResult(t, ch)
	assert.ErrorIs(t, r.Err, errors.ErrRequestStale)
	assert.Equal(t, errors.KindTimeout, errors.KindOf(r.Err))
	assert.Equal(t, 0, q.WaitingLen())
	assert.EqualValues(t, 1, q.Stats().StaleCount())
}

func TestClearRejectsWaitingLeavesInFlight(t *testing.T) {
	q, err := New[int](testConfig())
	require.NoError(t, err)
	defer q.Close()

	gateOp, started, release := gate()
	gateCh, err := q.Enqueue(gateOp, PriorityHigh, 0)
	require.NoError(t, err)
	<-started

	waitingCh, err := q.Enqueue(func(context.Context) (int, error) {
		return 0, nil
	}, PriorityLow, 0)
	require.NoError(t, err)

	q.Clear("shutting down view")

	r := awaitResult(t, waitingCh)
	assert.True(t, errors.IsCancelled(r.Err))
	assert.Equal(t, 0, q.WaitingLen())

	// The in-flight gate still completes normally.
	close(release)
	r = awaitResult(t, gateCh)
	assert.NoError(t, r.Err)
}

func TestEnqueueAfterCloseRejected(t *testing.T) {
	q, err := New[int](testConfig())
	require.NoError(t, err)
	require.NoError(t, q.Close())

	_, err = q.Enqueue(func(context.Context) (int, error) {
		return 0, nil
	}, PriorityHigh, 0)
	assert.ErrorIs(t, err, errors.ErrQueueClosed)
}

func TestCloseIdempotent(t *testing.T) {
	q, err := New[int](testConfig())
	require.NoError(t, err)

	assert.NoError(t, q.Close())
	assert.NoError(t, q.Close())
}

func TestRetryTransition(t *testing.T) {
	now := time.Now()
	it := &item[int]{
		priority:   PriorityHigh,
		maxRetries: 3,
		enqueuedAt: now.Add(-time.Second),
		acceptedAt: now.Add(-time.Second),
	}

	next := retryItem(it, now, 100*time.Millisecond)
	assert.Equal(t, 1, next.retryCount)
	assert.Equal(t, PriorityMedium, next.priority)
	assert.Equal(t, now.Add(100*time.Millisecond), next.enqueuedAt)
	assert.Equal(t, it.acceptedAt, next.acceptedAt)

	// The original record is untouched.
	assert.Equal(t, 0, it.retryCount)
	assert.Equal(t, PriorityHigh, it.priority)

	next = retryItem(next, now, 100*time.Millisecond)
	assert.Equal(t, 2, next.retryCount)
	assert.Equal(t, PriorityLow, next.priority)
	assert.Equal(t, now.Add(200*time.Millisecond), next.enqueuedAt)

	// Priority floors at low.
	next = retryItem(next, now, 100*time.Millisecond)
	assert.Equal(t, PriorityLow, next.priority)
}

func TestPriorityDemote(t *testing.T) {
	assert.Equal(t, PriorityMedium, PriorityHigh.demote())
	assert.Equal(t, PriorityLow, PriorityMedium.demote())
	assert.Equal(t, PriorityLow, PriorityLow.demote())
}

func TestLatencyStats(t *testing.T) {
	q, err := New[int](testConfig())
	require.NoError(t, err)
	defer q.Close()

	ch, err := q.Enqueue(func(context.Context) (int, error) {
		time.Sleep(5 * time.Millisecond)
		return 1, nil
	}, PriorityHigh, 0)
	require.NoError(t, err)
	awaitResult(t, ch)

	ch, err = q.Enqueue(func(context.Context) (int, error) {
		return 0, errFetch
	}, PriorityHigh, 0)
	require.NoError(t, err)
	awaitResult(t, ch)

	stats := q.Stats().Summary()
	assert.EqualValues(t, 2, stats.Processed)
	assert.EqualValues(t, 1, stats.Succeeded)
	assert.EqualValues(t, 1, stats.Failed)
	assert.GreaterOrEqual(t, stats.MaxLatency, stats.MinLatency)
	assert.GreaterOrEqual(t, stats.MaxLatency, 5*time.Millisecond)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.MaxConcurrent = 0 }},
		{"zero queue size", func(c *Config) { c.MaxQueueSize = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"zero stale bound", func(c *Config) { c.StaleAfter = 0 }},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}
}

func TestConfigDurationStrings(t *testing.T) {
	var cfg Config
	data := []byte(`{
		"max_concurrent": 2,
		"max_queue_size": 10,
		"max_retries": 1,
		"retry_delay": "500ms",
		"timeout": "10s",
		"stale_after": "30s",
		"sweep_interval": "5s"
	}`)
	require.NoError(t, cfg.UnmarshalJSON(data))

	assert.Equal(t, 2, cfg.MaxConcurrent)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 30*time.Second, cfg.StaleAfter)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
}
