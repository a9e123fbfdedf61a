// Package config loads and validates the daemon's JSON configuration.
// Duration fields accept Go duration strings ("30s", "5m") as well as
// integer nanoseconds. Every section has its own Validate; Load fails on
// the first invalid section so a bad config never half-starts the daemon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
	"github.com/fusioneventsak/urequest-live-sub001/pkg/breaker"
	"github.com/fusioneventsak/urequest-live-sub001/pkg/cache"
	"github.com/fusioneventsak/urequest-live-sub001/pkg/queue"
	"github.com/fusioneventsak/urequest-live-sub001/pkg/retry"
	"github.com/fusioneventsak/urequest-live-sub001/realtime"
	"github.com/fusioneventsak/urequest-live-sub001/syncer"
)

// Environment variables recognized by Load. They override file values so
// deployments can inject connection details without editing the file.
const (
	EnvNATSURL     = "UREQUEST_NATS_URL"
	EnvNATSToken   = "UREQUEST_NATS_TOKEN"
	EnvMetricsPort = "UREQUEST_METRICS_PORT"
)

// Config is the complete daemon configuration.
type Config struct {
	Cache    cache.Config   `json:"cache"`
	Breaker  BreakerConfig  `json:"breaker"`
	Queue    queue.Config   `json:"queue"`
	Realtime RealtimeConfig `json:"realtime"`
	Syncer   syncer.Config  `json:"syncer"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// BreakerConfig holds breaker defaults plus per-service overrides.
type BreakerConfig struct {
	Defaults  BreakerSection            `json:"defaults"`
	Overrides map[string]BreakerSection `json:"overrides,omitempty"`
}

// BreakerSection mirrors breaker.Config with duration-string support.
type BreakerSection struct {
	FailureThreshold int           `json:"failure_threshold"`
	OpenDuration     time.Duration `json:"open_duration"`
	HalfOpenTrials   int           `json:"half_open_trials"`
}

// Settings converts the section to a breaker.Config.
func (s BreakerSection) Settings() breaker.Config {
	return breaker.Config{
		FailureThreshold: s.FailureThreshold,
		OpenDuration:     s.OpenDuration,
		HalfOpenTrials:   s.HalfOpenTrials,
	}
}

// UnmarshalJSON accepts duration strings for open_duration.
func (s *BreakerSection) UnmarshalJSON(data []byte) error {
	type Alias BreakerSection
	aux := &struct {
		OpenDuration json.RawMessage `json:"open_duration,omitempty"`
		*Alias
	}{Alias: (*Alias)(s)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.OpenDuration) > 0 {
		d, err := cache.ParseDurationField(aux.OpenDuration, "open_duration")
		if err != nil {
			return err
		}
		s.OpenDuration = d
	}
	return nil
}

// Validate checks breaker settings.
func (c BreakerConfig) Validate() error {
	sections := map[string]BreakerSection{"defaults": c.Defaults}
	for name, override := range c.Overrides {
		sections["overrides."+name] = override
	}
	for name, section := range sections {
		if section.FailureThreshold <= 0 || section.HalfOpenTrials <= 0 || section.OpenDuration <= 0 {
			return errors.WrapInvalid(
				fmt.Errorf("%w: breaker %s must have positive threshold, trials, and open duration",
					errors.ErrInvalidConfig, name),
				"config", "Validate", "check breaker section")
		}
	}
	return nil
}

// RealtimeConfig holds the NATS connection and reconnect settings.
type RealtimeConfig struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`

	// FetchSubject is the request/reply subject serving the full request
	// list.
	FetchSubject string `json:"fetch_subject"`

	ConnectTimeout    time.Duration `json:"connect_timeout"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	DebounceWindow    time.Duration `json:"debounce_window"`
	ResubscribeDelay  time.Duration `json:"resubscribe_delay"`

	Reconnect ReconnectConfig `json:"reconnect"`
}

// ReconnectConfig mirrors retry.Config with duration-string support.
type ReconnectConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	AddJitter    bool          `json:"add_jitter"`
}

// Backoff converts the section to a retry.Config.
func (c ReconnectConfig) Backoff() retry.Config {
	return retry.Config{
		MaxAttempts:  c.MaxAttempts,
		InitialDelay: c.InitialDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   c.Multiplier,
		AddJitter:    c.AddJitter,
	}
}

// UnmarshalJSON accepts duration strings for the delay fields.
func (c *ReconnectConfig) UnmarshalJSON(data []byte) error {
	type Alias ReconnectConfig
	aux := &struct {
		InitialDelay json.RawMessage `json:"initial_delay,omitempty"`
		MaxDelay     json.RawMessage `json:"max_delay,omitempty"`
		*Alias
	}{Alias: (*Alias)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.InitialDelay) > 0 {
		d, err := cache.ParseDurationField(aux.InitialDelay, "initial_delay")
		if err != nil {
			return err
		}
		c.InitialDelay = d
	}
	if len(aux.MaxDelay) > 0 {
		d, err := cache.ParseDurationField(aux.MaxDelay, "max_delay")
		if err != nil {
			return err
		}
		c.MaxDelay = d
	}
	return nil
}

// ManagerConfig converts the section to a realtime.Config.
func (c RealtimeConfig) ManagerConfig() realtime.Config {
	return realtime.Config{
		ConnectTimeout:    c.ConnectTimeout,
		HeartbeatInterval: c.HeartbeatInterval,
		DebounceWindow:    c.DebounceWindow,
		ResubscribeDelay:  c.ResubscribeDelay,
		Reconnect:         c.Reconnect.Backoff(),
	}
}

// UnmarshalJSON accepts duration strings for the timing fields.
func (c *RealtimeConfig) UnmarshalJSON(data []byte) error {
	type Alias RealtimeConfig
	aux := &struct {
		ConnectTimeout    json.RawMessage `json:"connect_timeout,omitempty"`
		HeartbeatInterval json.RawMessage `json:"heartbeat_interval,omitempty"`
		DebounceWindow    json.RawMessage `json:"debounce_window,omitempty"`
		ResubscribeDelay  json.RawMessage `json:"resubscribe_delay,omitempty"`
		*Alias
	}{Alias: (*Alias)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	fields := []struct {
		raw  json.RawMessage
		name string
		dst  *time.Duration
	}{
		{aux.ConnectTimeout, "connect_timeout", &c.ConnectTimeout},
		{aux.HeartbeatInterval, "heartbeat_interval", &c.HeartbeatInterval},
		{aux.DebounceWindow, "debounce_window", &c.DebounceWindow},
		{aux.ResubscribeDelay, "resubscribe_delay", &c.ResubscribeDelay},
	}
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		d, err := cache.ParseDurationField(f.raw, f.name)
		if err != nil {
			return err
		}
		*f.dst = d
	}
	return nil
}

// Validate checks the realtime section, including the converted manager
// settings.
func (c RealtimeConfig) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: realtime url is required", errors.ErrMissingConfig),
			"config", "Validate", "check realtime url")
	}
	if c.FetchSubject == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: realtime fetch_subject is required", errors.ErrMissingConfig),
			"config", "Validate", "check fetch subject")
	}
	if err := c.ManagerConfig().Validate(); err != nil {
		return err
	}
	return nil
}

// MetricsConfig controls the metrics/health HTTP server.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// Validate checks the metrics section.
func (c MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: metrics port %d out of range", errors.ErrInvalidConfig, c.Port),
			"config", "Validate", "check metrics port")
	}
	return nil
}

// Default returns a complete runnable configuration. Only the NATS URL
// normally needs overriding.
func Default() *Config {
	breakerDefaults := breaker.DefaultConfig()
	return &Config{
		Cache: cache.DefaultConfig(),
		Breaker: BreakerConfig{
			Defaults: BreakerSection{
				FailureThreshold: breakerDefaults.FailureThreshold,
				OpenDuration:     breakerDefaults.OpenDuration,
				HalfOpenTrials:   breakerDefaults.HalfOpenTrials,
			},
		},
		Queue: queue.DefaultConfig(),
		Realtime: RealtimeConfig{
			URL:               "nats://127.0.0.1:4222",
			Name:              "urequest-syncd",
			FetchSubject:      "requests.list",
			ConnectTimeout:    10 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			DebounceWindow:    250 * time.Millisecond,
			ResubscribeDelay:  2 * time.Second,
			Reconnect: ReconnectConfig{
				MaxAttempts:  8,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     30 * time.Second,
				Multiplier:   2.0,
				AddJitter:    true,
			},
		},
		Syncer: syncer.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Breaker.Validate(); err != nil {
		return err
	}
	if err := c.Queue.Validate(); err != nil {
		return err
	}
	if err := c.Realtime.Validate(); err != nil {
		return err
	}
	if err := c.Syncer.Validate(); err != nil {
		return err
	}
	return c.Metrics.Validate()
}

// Load reads a JSON config file, layers it over defaults, applies
// environment overrides, and validates the result. An empty path returns
// the defaults (plus environment overrides).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - operator-supplied path
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "read config file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse config file")
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays recognized environment variables onto the config.
func applyEnv(cfg *Config) {
	if url := os.Getenv(EnvNATSURL); url != "" {
		cfg.Realtime.URL = url
	}
	if token := os.Getenv(EnvNATSToken); token != "" {
		cfg.Realtime.Token = token
	}
	if port := os.Getenv(EnvMetricsPort); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Metrics.Port = p
		}
	}
}
