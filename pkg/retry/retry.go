// Package retry provides exponential backoff with jitter for the sync layer.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Config provides retry and backoff configuration.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = run once)
	InitialDelay time.Duration // Initial delay between attempts
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Backoff multiplier (typically 2.0)
	AddJitter    bool          // Add randomness to prevent reconnect storms
}

// DefaultConfig returns sensible defaults for retry operations.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Reconnect returns a config tuned for realtime channel reconnection.
func Reconnect() Config {
	return Config{
		MaxAttempts:  8,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// normalize fills in defaults and clamps pathological values.
func (c Config) normalize() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.Multiplier > 1000 {
		c.Multiplier = 1000
	}
	return c
}

// Delay returns the backoff delay before the given attempt (1-based),
// capped at MaxDelay, with jitter applied when enabled. Exposed so callers
// that schedule their own timers (the reconnect state machine) share the
// same backoff curve as blocking Do calls.
func (c Config) Delay(attempt int) time.Duration {
	c = c.normalize()

	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		next := float64(delay) * c.Multiplier
		if next > float64(c.MaxDelay) {
			delay = c.MaxDelay
			break
		}
		delay = time.Duration(next)
	}

	if c.AddJitter && delay > 0 {
		// Up to 25% jitter
		randMu.Lock()
		jitter := time.Duration(randSource.Int63n(int64(delay/4) + 1))
		randMu.Unlock()
		delay += jitter
	}

	return delay
}

// Do executes fn with exponential backoff retry. Errors whose kind rules
// out retrying (cancelled, capacity, exhausted, invalid, fatal) fail
// immediately; see errors.IsRetryable.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg = cfg.normalize()

	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return err
		}

		if ctx.Err() != nil {
			return errors.FromContext(ctx, "retry", "Do")
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(cfg.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.FromContext(ctx, "retry", "Do")
		case <-timer.C:
		}
	}

	return errors.WrapExhausted(
		fmt.Errorf("%w after %d attempts: %w", errors.ErrMaxRetriesExceeded, cfg.MaxAttempts, lastErr),
		"retry", "Do", "all attempts")
}

// DoWithResult executes fn with retry and returns both result and error.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

// Exhausted reports whether an error from Do represents a spent retry budget
// rather than an early non-retryable failure.
func Exhausted(err error) bool {
	return stderrors.Is(err, errors.ErrMaxRetriesExceeded)
}
