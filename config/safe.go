package config

import (
	"encoding/json"
	"sync"

	"github.com/fusioneventsak/urequest-live-sub001/errors"
)

// SafeConfig provides thread-safe access to a Config. Readers get a deep
// copy so a concurrent Update can never tear a value mid-read.
type SafeConfig struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewSafeConfig wraps a config. A nil config is replaced with defaults.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{cfg: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	return sc.cfg.Clone()
}

// Update atomically replaces the configuration after validating it.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(
			errors.ErrMissingConfig,
			"config", "Update", "replace configuration")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	sc.cfg = cfg.Clone()
	sc.mu.Unlock()
	return nil
}

// Clone returns a deep copy of the configuration. The config is plain
// data plus one map, so a JSON round-trip is the simplest correct copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	data, err := json.Marshal(c)
	if err != nil {
		// Config is marshalable by construction; this cannot happen for
		// a config that came through Load or Default.
		copied := *c
		return &copied
	}

	clone := &Config{}
	if err := json.Unmarshal(data, clone); err != nil {
		copied := *c
		return &copied
	}
	return clone
}
