package realtime

import (
	"fmt"
	"time"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
	"github.com/fusioneventsak/urequest-live-sub001/pkg/retry"
)

// Config holds connection manager configuration.
type Config struct {
	// ConnectTimeout bounds a single connection attempt.
	ConnectTimeout time.Duration `json:"connect_timeout"`

	// HeartbeatInterval is how often the liveness probe runs while
	// connected. Zero disables the heartbeat.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`

	// DebounceWindow coalesces bursts of events on the same topic into a
	// single callback invocation.
	DebounceWindow time.Duration `json:"debounce_window"`

	// ResubscribeDelay is the wait before retrying a failed topic
	// subscription.
	ResubscribeDelay time.Duration `json:"resubscribe_delay"`

	// Reconnect governs the backoff schedule and attempt bound for
	// reconnection.
	Reconnect retry.Config `json:"reconnect"`
}

// DefaultConfig returns connection manager settings tuned for a browser
// facing sync client.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		DebounceWindow:    250 * time.Millisecond,
		ResubscribeDelay:  2 * time.Second,
		Reconnect:         retry.Reconnect(),
	}
}

// Validate checks configuration values.
func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: connect_timeout must be positive", errors.ErrInvalidConfig),
			"realtime", "Validate", "check connect timeout")
	}
	if c.HeartbeatInterval < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: heartbeat_interval cannot be negative", errors.ErrInvalidConfig),
			"realtime", "Validate", "check heartbeat interval")
	}
	if c.DebounceWindow < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: debounce_window cannot be negative", errors.ErrInvalidConfig),
			"realtime", "Validate", "check debounce window")
	}
	if c.ResubscribeDelay < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: resubscribe_delay cannot be negative", errors.ErrInvalidConfig),
			"realtime", "Validate", "check resubscribe delay")
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: reconnect attempts must be bounded and positive", errors.ErrInvalidConfig),
			"realtime", "Validate", "check reconnect budget")
	}
	return nil
}
