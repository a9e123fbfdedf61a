// Package errors provides standardized error handling for the sync layer.
// Every failure surfaced by the resilience components carries an explicit
// Kind discriminant, set once at the point the condition is detected, so
// callers never have to sniff error strings to tell a cancelled fetch from
// a dead backend.
package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies errors for retry, circuit-breaker, and surfacing decisions.
type Kind int

const (
	// KindTransient represents temporary failures that may be retried.
	KindTransient Kind = iota
	// KindCancelled represents caller-side cancellation; never retried and
	// never counted against a circuit breaker.
	KindCancelled
	// KindTimeout represents an operation that exceeded its deadline;
	// retryable but logged distinctly from generic transient failures.
	KindTimeout
	// KindCircuitOpen represents a synthetic rejection raised without
	// attempting the call because the breaker is open.
	KindCircuitOpen
	// KindCapacity represents backpressure rejections (queue full, cache
	// item too large); surfaced immediately, never retried automatically.
	KindCapacity
	// KindExhausted represents terminal exhaustion of a retry or reconnect
	// budget.
	KindExhausted
	// KindInvalid represents errors due to invalid input or configuration.
	KindInvalid
	// KindFatal represents unrecoverable errors that should stop processing.
	KindFatal
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindCircuitOpen:
		return "circuit_open"
	case KindCapacity:
		return "capacity"
	case KindExhausted:
		return "exhausted"
	case KindInvalid:
		return "invalid"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Connection and channel errors
	ErrNotConnected       = errors.New("not connected to realtime channel")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrMaxReconnects      = errors.New("maximum reconnect attempts reached")

	// Circuit breaker errors
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// Backpressure errors
	ErrQueueFull    = errors.New("request queue full")
	ErrQueueClosed  = errors.New("request queue closed")
	ErrRequestStale = errors.New("request exceeded maximum queue age")
	ErrItemTooLarge = errors.New("cache item exceeds byte budget")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its kind and origin context.
type ClassifiedError struct {
	Kind      Kind
	Err       error
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// CircuitOpenError is the synthetic rejection raised by an open breaker.
// It carries the service name and how long until the next trial call so
// callers can surface a retry affordance instead of double-counting it
// against their own retry budgets.
type CircuitOpenError struct {
	Service string
	RetryIn time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry in %s", e.Service, e.RetryIn)
}

// Unwrap lets errors.Is(err, ErrCircuitOpen) match.
func (e *CircuitOpenError) Unwrap() error {
	return ErrCircuitOpen
}

// KindOf returns the kind for an error. Unclassified errors default to
// transient so unknown failures remain retryable; context errors map to
// Cancelled / Timeout.
func KindOf(err error) Kind {
	if err == nil {
		return KindTransient
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrConnectionTimeout):
		return KindTimeout
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrItemTooLarge):
		return KindCapacity
	case errors.Is(err, ErrMaxRetriesExceeded), errors.Is(err, ErrMaxReconnects):
		return KindExhausted
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrMissingConfig):
		return KindInvalid
	}

	return KindTransient
}

// IsCancelled checks if an error represents caller-side cancellation.
func IsCancelled(err error) bool {
	return err != nil && KindOf(err) == KindCancelled
}

// IsTimeout checks if an error represents an exceeded deadline.
func IsTimeout(err error) bool {
	return err != nil && KindOf(err) == KindTimeout
}

// IsCircuitOpen checks if an error is a synthetic open-circuit rejection.
func IsCircuitOpen(err error) bool {
	return err != nil && KindOf(err) == KindCircuitOpen
}

// IsRetryable reports whether the queue may retry an operation that failed
// with this error. Cancellation, backpressure, and terminal errors are not
// retried; circuit-open is handled by the breaker's own cooldown.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}

// newClassified creates a new classified error.
// Internal helper - use the Wrap* constructors instead.
func newClassified(kind Kind, err error, component, operation string) *ClassifiedError {
	return &ClassifiedError{
		Kind:      kind,
		Err:       err,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context.
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(KindTransient, Wrap(err, component, method, action), component, method)
}

// WrapCancelled wraps an error as caller-side cancellation with context.
func WrapCancelled(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(KindCancelled, Wrap(err, component, method, action), component, method)
}

// WrapTimeout wraps an error as a deadline failure with context.
func WrapTimeout(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(KindTimeout, Wrap(err, component, method, action), component, method)
}

// WrapCapacity wraps an error as a backpressure rejection with context.
func WrapCapacity(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(KindCapacity, Wrap(err, component, method, action), component, method)
}

// WrapExhausted wraps an error as terminal budget exhaustion with context.
func WrapExhausted(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(KindExhausted, Wrap(err, component, method, action), component, method)
}

// WrapInvalid wraps an error as invalid input with context.
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(KindInvalid, Wrap(err, component, method, action), component, method)
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(KindFatal, Wrap(err, component, method, action), component, method)
}

// FromContext classifies a context error at the point it is observed.
// Returns nil if ctx.Err() is nil.
func FromContext(ctx context.Context, component, method string) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return WrapTimeout(ctx.Err(), component, method, "deadline exceeded")
	default:
		return WrapCancelled(ctx.Err(), component, method, "context cancelled")
	}
}
