package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

// Priority orders waiting items. Higher priorities dispatch first; ties
// dispatch in enqueue order.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// demote steps a priority down one level, flooring at PriorityLow.
func (p Priority) demote() Priority {
	if p <= PriorityLow {
		return PriorityLow
	}
	return p - 1
}

// Config holds queue configuration.
type Config struct {
	// MaxConcurrent bounds the number of operations in flight at once.
	MaxConcurrent int `json:"max_concurrent"`

	// MaxQueueSize bounds the number of waiting items. Enqueue rejects
	// immediately once this many items are waiting.
	MaxQueueSize int `json:"max_queue_size"`

	// MaxRetries is the default retry budget applied when Enqueue is
	// called with a negative budget.
	MaxRetries int `json:"max_retries"`

	// RetryDelay is the base re-dispatch delay; a retried item waits
	// retryCount times this long before it is eligible again.
	RetryDelay time.Duration `json:"retry_delay"`

	// Timeout is the per-operation deadline.
	Timeout time.Duration `json:"timeout"`

	// StaleAfter is the maximum time an item may wait before the sweep
	// rejects it.
	StaleAfter time.Duration `json:"stale_after"`

	// SweepInterval is how often the staleness sweep runs.
	SweepInterval time.Duration `json:"sweep_interval"`
}

// DefaultConfig returns queue settings tuned for interactive request
// traffic: a small in-flight window and aggressive shedding of abandoned
// work.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		MaxQueueSize:  50,
		MaxRetries:    2,
		RetryDelay:    1 * time.Second,
		Timeout:       15 * time.Second,
		StaleAfter:    30 * time.Second,
		SweepInterval: 10 * time.Second,
	}
}

// Validate checks configuration values.
func (c Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max_concurrent must be positive, got %d", errors.ErrInvalidConfig, c.MaxConcurrent),
			"queue", "Validate", "check concurrency bound")
	}
	if c.MaxQueueSize <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max_queue_size must be positive, got %d", errors.ErrInvalidConfig, c.MaxQueueSize),
			"queue", "Validate", "check queue bound")
	}
	if c.MaxRetries < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: max_retries cannot be negative, got %d", errors.ErrInvalidConfig, c.MaxRetries),
			"queue", "Validate", "check retry budget")
	}
	if c.RetryDelay < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: retry_delay cannot be negative", errors.ErrInvalidConfig),
			"queue", "Validate", "check retry delay")
	}
	if c.Timeout <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: timeout must be positive", errors.ErrInvalidConfig),
			"queue", "Validate", "check operation timeout")
	}
	if c.StaleAfter <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: stale_after must be positive", errors.ErrInvalidConfig),
			"queue", "Validate", "check staleness bound")
	}
	if c.SweepInterval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: sweep_interval must be positive", errors.ErrInvalidConfig),
			"queue", "Validate", "check sweep interval")
	}
	return nil
}

// UnmarshalJSON accepts duration fields as Go duration strings ("15s")
// or as integer nanoseconds.
func (c *Config) UnmarshalJSON(data []byte) error {
	type alias Config
	aux := &struct {
		RetryDelay    json.RawMessage `json:"retry_delay"`
		Timeout       json.RawMessage `json:"timeout"`
		StaleAfter    json.RawMessage `json:"stale_after"`
		SweepInterval json.RawMessage `json:"sweep_interval"`
		*alias
	}{alias: (*alias)(c)}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	fields := []struct {
		raw json.RawMessage
		dst *time.Duration
	}{
		{aux.RetryDelay, &c.RetryDelay},
		{aux.Timeout, &c.Timeout},
		{aux.StaleAfter, &c.StaleAfter},
		{aux.SweepInterval, &c.SweepInterval},
	}
	for _, f := range fields {
		if err := parseDuration(f.raw, f.dst); err != nil {
			return err
		}
	}
	return nil
}

func parseDuration(raw json.RawMessage, dst *time.Duration) error {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*dst = d
		return nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer nanoseconds: %w", err)
	}
	*dst = time.Duration(n)
	return nil
}
