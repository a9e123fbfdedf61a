package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTransient, "transient"},
		{KindCancelled, "cancelled"},
		{KindTimeout, "timeout"},
		{KindCircuitOpen, "circuit_open"},
		{KindCapacity, "capacity"},
		{KindExhausted, "exhausted"},
		{KindInvalid, "invalid"},
		{KindFatal, "fatal"},
		{Kind(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestKindOf_ClassifiedError(t *testing.T) {
	err := WrapCancelled(stderrors.New("boom"), "syncer", "fetch", "abort")
	assert.Equal(t, KindCancelled, KindOf(err))

	// Classification survives further wrapping.
	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, KindCancelled, KindOf(wrapped))
}

func TestKindOf_ContextErrors(t *testing.T) {
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
}

func TestKindOf_Sentinels(t *testing.T) {
	assert.Equal(t, KindCircuitOpen, KindOf(ErrCircuitOpen))
	assert.Equal(t, KindCapacity, KindOf(ErrQueueFull))
	assert.Equal(t, KindCapacity, KindOf(ErrItemTooLarge))
	assert.Equal(t, KindExhausted, KindOf(ErrMaxRetriesExceeded))
	assert.Equal(t, KindExhausted, KindOf(ErrMaxReconnects))
	assert.Equal(t, KindInvalid, KindOf(ErrInvalidConfig))
}

func TestKindOf_UnknownDefaultsToTransient(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(stderrors.New("mystery")))
}

func TestCircuitOpenError(t *testing.T) {
	err := &CircuitOpenError{Service: "requests", RetryIn: 2 * time.Second}

	assert.True(t, stderrors.Is(err, ErrCircuitOpen))
	assert.True(t, IsCircuitOpen(err))
	assert.Contains(t, err.Error(), "requests")

	// Circuit-open must not look retryable to the queue.
	assert.False(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(WrapTransient(stderrors.New("flaky"), "c", "m", "a")))
	assert.True(t, IsRetryable(WrapTimeout(stderrors.New("slow"), "c", "m", "a")))
	assert.False(t, IsRetryable(WrapCancelled(stderrors.New("gone"), "c", "m", "a")))
	assert.False(t, IsRetryable(WrapCapacity(ErrQueueFull, "c", "m", "a")))
	assert.False(t, IsRetryable(WrapExhausted(ErrMaxRetriesExceeded, "c", "m", "a")))
	assert.False(t, IsRetryable(nil))
}

func TestWrap_Format(t *testing.T) {
	base := stderrors.New("connection refused")
	err := Wrap(base, "realtime", "Init", "open channel")

	require.Error(t, err)
	assert.Equal(t, "realtime.Init: open channel failed: connection refused", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapCancelled(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestFromContext(t *testing.T) {
	assert.NoError(t, FromContext(context.Background(), "c", "m"))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, KindCancelled, KindOf(FromContext(cancelled, "c", "m")))

	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	assert.Equal(t, KindTimeout, KindOf(FromContext(expired, "c", "m")))
}
