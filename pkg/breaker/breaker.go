// Package breaker provides a per-service circuit breaker for outbound
// calls to the backend. A breaker trips OPEN after a run of consecutive
// failures, rejects calls instantly while open, then admits trial calls
// (HALF_OPEN) after a cooldown before closing again.
//
// Caller-side cancellation is never recorded as a failure: a cancelled
// fetch says nothing about the health of the service.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

// State represents the breaker state.
type State int

// Possible breaker states
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config configures breaker thresholds.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker OPEN.
	FailureThreshold int `json:"failure_threshold"`

	// OpenDuration is how long the breaker rejects calls before admitting
	// a trial.
	OpenDuration time.Duration `json:"open_duration"`

	// HalfOpenTrials is the number of consecutive successes required to
	// close the breaker again.
	HalfOpenTrials int `json:"half_open_trials"`
}

// DefaultConfig returns sensible defaults for breaker thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenDuration:     30 * time.Second,
		HalfOpenTrials:   2,
	}
}

// normalize fills in defaults for zero values.
func (c Config) normalize() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = 30 * time.Second
	}
	if c.HalfOpenTrials <= 0 {
		c.HalfOpenTrials = 2
	}
	return c
}

// Snapshot is a point-in-time view of a breaker for introspection.
type Snapshot struct {
	Service             string        `json:"service"`
	State               State         `json:"-"`
	StateName           string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	HalfOpenSuccesses   int           `json:"half_open_successes"`
	RetryIn             time.Duration `json:"retry_in"`
	LastError           string        `json:"last_error,omitempty"`
}

// Breaker tracks failures for one named service and gates access to it.
// All state transitions are computed under one mutex-held snapshot so
// concurrent callers can never interleave a read-modify-write.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	halfOpenSuccesses   int
	nextRetryAt         time.Time
	lastErr             error

	// onTransition is invoked outside the lock after each state change.
	onTransition func(name string, from, to State)
}

// New constructs a breaker for the named service.
func New(name string, cfg Config) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg.normalize(),
		now:   time.Now,
		state: StateClosed,
	}
}

// Execute runs op through the breaker. A context that is already done
// fails fast with a cancellation error and does not touch breaker
// statistics. Cancellation-classified failures from op are re-raised
// without being recorded; every other error is recorded and re-raised.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := errors.FromContext(ctx, "breaker", "Execute"); err != nil {
		return err
	}

	if err := b.allow(); err != nil {
		return err
	}

	err := op(ctx)
	if err == nil {
		b.onSuccess()
		return nil
	}

	if errors.IsCancelled(err) {
		// Caller gave up; the service did not fail.
		return err
	}

	b.onFailure(err)
	return err
}

// ExecuteWithResult runs op through b and returns its value.
func ExecuteWithResult[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := b.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = op(ctx)
		return innerErr
	})
	return result, err
}

// allow decides from a single synchronous snapshot whether a call may
// proceed, transitioning OPEN to HALF_OPEN when the cooldown has elapsed.
func (b *Breaker) allow() error {
	b.mu.Lock()

	if b.state != StateOpen {
		b.mu.Unlock()
		return nil
	}

	now := b.now()
	if now.Before(b.nextRetryAt) {
		retryIn := b.nextRetryAt.Sub(now)
		b.mu.Unlock()
		return &errors.CircuitOpenError{Service: b.name, RetryIn: retryIn}
	}

	b.state = StateHalfOpen
	b.halfOpenSuccesses = 0
	notify := b.transitionLocked(StateOpen, StateHalfOpen)
	b.mu.Unlock()

	notify()
	return nil
}

// onSuccess records a successful call.
func (b *Breaker) onSuccess() {
	b.mu.Lock()

	notify := func() {}
	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenTrials {
			b.state = StateClosed
			b.consecutiveFailures = 0
			b.halfOpenSuccesses = 0
			b.lastErr = nil
			notify = b.transitionLocked(StateHalfOpen, StateClosed)
		}
	case StateClosed:
		b.consecutiveFailures = 0
	}

	b.mu.Unlock()
	notify()
}

// onFailure records a failure and updates state.
func (b *Breaker) onFailure(err error) {
	b.mu.Lock()

	b.lastErr = err
	notify := func() {}

	switch b.state {
	case StateHalfOpen:
		// A single trial failure reopens immediately.
		from := b.state
		b.state = StateOpen
		b.nextRetryAt = b.now().Add(b.cfg.OpenDuration)
		b.halfOpenSuccesses = 0
		notify = b.transitionLocked(from, StateOpen)
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.nextRetryAt = b.now().Add(b.cfg.OpenDuration)
			notify = b.transitionLocked(StateClosed, StateOpen)
		}
	}

	b.mu.Unlock()
	notify()
}

// transitionLocked captures a state-change notification to run after the
// lock is released. Must be called with mutex held.
func (b *Breaker) transitionLocked(from, to State) func() {
	if b.onTransition == nil || from == to {
		return func() {}
	}
	fn := b.onTransition
	name := b.name
	return func() { fn(name, from, to) }
}

// Reset forces the breaker back to CLOSED and zeroes all counters.
// Idempotent.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.halfOpenSuccesses = 0
	b.nextRetryAt = time.Time{}
	b.lastErr = nil
	notify := b.transitionLocked(from, StateClosed)
	b.mu.Unlock()

	notify()
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastError returns the most recently recorded failure, if any.
func (b *Breaker) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// RetryIn returns how long until the breaker admits a trial call.
// Zero unless the breaker is OPEN.
func (b *Breaker) RetryIn() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return 0
	}
	remaining := b.nextRetryAt.Sub(b.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot returns a point-in-time view for introspection.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Service:             b.name,
		State:               b.state,
		StateName:           b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		HalfOpenSuccesses:   b.halfOpenSuccesses,
	}
	if b.state == StateOpen {
		if remaining := b.nextRetryAt.Sub(b.now()); remaining > 0 {
			snap.RetryIn = remaining
		}
	}
	if b.lastErr != nil {
		snap.LastError = b.lastErr.Error()
	}
	return snap
}
