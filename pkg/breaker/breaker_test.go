package breaker

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

var errBackend = stderrors.New("backend unavailable")

// newTestBreaker returns a breaker with a controllable clock.
func newTestBreaker(cfg Config) (*Breaker, *time.Time) {
	b := New("requests", cfg)
	now := time.Now()
	b.now = func() time.Time { return now }
	return b, &now
}

func failingOp(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errBackend
	}
}

func succeedingOp(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return nil
	}
}

func TestClosedPassesThrough(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())

	calls := 0
	err := b.Execute(context.Background(), succeedingOp(&calls))

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, b.State())
}

func TestOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, OpenDuration: time.Minute, HalfOpenTrials: 2})

	calls := 0
	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), failingOp(&calls))
		assert.ErrorIs(t, err, errBackend)
	}

	require.Equal(t, StateOpen, b.State())
	assert.Equal(t, 3, calls)

	// The 4th call is rejected without invoking the operation.
	err := b.Execute(context.Background(), failingOp(&calls))
	assert.True(t, errors.IsCircuitOpen(err))
	assert.Equal(t, 3, calls)

	var coe *errors.CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.Equal(t, "requests", coe.Service)
	assert.Greater(t, coe.RetryIn, time.Duration(0))
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3, OpenDuration: time.Minute, HalfOpenTrials: 2})

	calls := 0
	_ = b.Execute(context.Background(), failingOp(&calls))
	_ = b.Execute(context.Background(), failingOp(&calls))
	_ = b.Execute(context.Background(), succeedingOp(&calls))
	_ = b.Execute(context.Background(), failingOp(&calls))
	_ = b.Execute(context.Background(), failingOp(&calls))

	// Never three consecutive failures, so still closed.
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenAfterCooldown(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 2, OpenDuration: 10 * time.Second, HalfOpenTrials: 2})

	calls := 0
	_ = b.Execute(context.Background(), failingOp(&calls))
	_ = b.Execute(context.Background(), failingOp(&calls))
	require.Equal(t, StateOpen, b.State())

	*now = now.Add(11 * time.Second)

	// First call after cooldown goes through as a trial.
	err := b.Execute(context.Background(), succeedingOp(&calls))
	assert.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State())

	// Second consecutive success closes the breaker.
	err = b.Execute(context.Background(), succeedingOp(&calls))
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 2, OpenDuration: 10 * time.Second, HalfOpenTrials: 3})

	calls := 0
	_ = b.Execute(context.Background(), failingOp(&calls))
	_ = b.Execute(context.Background(), failingOp(&calls))
	*now = now.Add(11 * time.Second)

	_ = b.Execute(context.Background(), succeedingOp(&calls))
	require.Equal(t, StateHalfOpen, b.State())

	_ = b.Execute(context.Background(), failingOp(&calls))
	assert.Equal(t, StateOpen, b.State())

	// And the cooldown restarted: immediate calls are rejected again.
	err := b.Execute(context.Background(), succeedingOp(&calls))
	assert.True(t, errors.IsCircuitOpen(err))
}

func TestPreCancelledContextFailsFastWithoutStats(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, OpenDuration: time.Minute, HalfOpenTrials: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := b.Execute(ctx, failingOp(&calls))

	assert.True(t, errors.IsCancelled(err))
	assert.Equal(t, 0, calls)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Snapshot().ConsecutiveFailures)
}

func TestCancellationNotRecordedAsFailure(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, OpenDuration: time.Minute, HalfOpenTrials: 1})

	cancelled := errors.WrapCancelled(stderrors.New("fetch aborted"), "syncer", "fetch", "abort")
	err := b.Execute(context.Background(), func(context.Context) error {
		return cancelled
	})

	assert.True(t, errors.IsCancelled(err))
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.LastError())
}

func TestResetIdempotent(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1, OpenDuration: time.Minute, HalfOpenTrials: 1})

	calls := 0
	_ = b.Execute(context.Background(), failingOp(&calls))
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	b.Reset()

	assert.Equal(t, StateClosed, b.State())
	snap := b.Snapshot()
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.Equal(t, 0, snap.HalfOpenSuccesses)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, time.Duration(0), b.RetryIn())
}

func TestRetryInReporting(t *testing.T) {
	b, now := newTestBreaker(Config{FailureThreshold: 1, OpenDuration: 30 * time.Second, HalfOpenTrials: 1})

	assert.Equal(t, time.Duration(0), b.RetryIn())

	calls := 0
	_ = b.Execute(context.Background(), failingOp(&calls))
	assert.Equal(t, 30*time.Second, b.RetryIn())

	*now = now.Add(10 * time.Second)
	assert.Equal(t, 20*time.Second, b.RetryIn())
}

func TestExecuteWithResult(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())

	value, err := ExecuteWithResult(context.Background(), b, func(context.Context) (int, error) {
		return 42, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestRegistryLazyCreation(t *testing.T) {
	r := NewRegistry(DefaultConfig())

	a := r.Get("requests")
	b := r.Get("requests")
	assert.Same(t, a, b)

	other := r.Get("uploads")
	assert.NotSame(t, a, other)
}

func TestRegistryOverride(t *testing.T) {
	r := NewRegistry(DefaultConfig(),
		WithOverride("fragile", Config{FailureThreshold: 1, OpenDuration: time.Minute, HalfOpenTrials: 1}))

	b := r.Get("fragile")
	calls := 0
	_ = b.Execute(context.Background(), failingOp(&calls))

	assert.Equal(t, StateOpen, b.State())
}

func TestRegistryResetAll(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, OpenDuration: time.Minute, HalfOpenTrials: 1})

	calls := 0
	_ = r.Get("a").Execute(context.Background(), failingOp(&calls))
	_ = r.Get("b").Execute(context.Background(), failingOp(&calls))

	r.ResetAll()

	for name, snap := range r.Snapshots() {
		assert.Equal(t, StateClosed, snap.State, "breaker %s should be closed", name)
	}
}
