package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the engine's on-disk configuration. JSON and YAML are both
// accepted; YAML is coerced to JSON so the strict decoder applies to both.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Facility holds site-wide settings shared by all scheduling components.
	Facility FacilityConfig `json:"facility"`

	Reconcile    ReconcileConfig    `json:"reconcile,omitempty"`
	Trigger      TriggerConfig      `json:"trigger"`
	Materializer MaterializerConfig `json:"materializer,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./caredesk.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type FacilityConfig struct {
	// Timezone is the facility's IANA timezone, e.g. "Europe/Berlin".
	// Schedule boundaries ("daily at 00:05") are interpreted in it.
	Timezone string `json:"timezone"`
}

// ReconcileConfig tunes schedule reconciliation.
type ReconcileConfig struct {
	// CutoffDate ("2006-01-02"): completions recorded before this date do not
	// advance schedules. Used when adopting historical data from a previous
	// record system. Empty disables the guard.
	CutoffDate string `json:"cutoff_date,omitempty"`

	// MaxScan bounds the forward search for the next unfulfilled occurrence,
	// in days. 0 means the built-in default (10 years).
	MaxScan int `json:"max_scan,omitempty"`
}

// TriggerConfig controls the trigger service and its engine jobs.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type TriggerConfig struct {
	Enabled bool `json:"enabled"`

	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`

	// MaterializeAt is the HH:MM local time of the nightly instance
	// generation run (default "00:05").
	MaterializeAt string `json:"materialize_at,omitempty"`

	// SweepEvery is how often the full reconcile sweep runs. Accepts a Go
	// duration or HH:MM interval (default "6h").
	SweepEvery string `json:"sweep_every,omitempty"`
}

// MaterializerConfig tunes instance generation.
type MaterializerConfig struct {
	// RatePerSec throttles store writes during generation. 0 = unthrottled.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// Validate checks cross-field consistency that the decoder cannot.
// It is installed as the manager's validator so a bad edit never reaches
// running services.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(c.Storage.Driver) == "" {
		return errors.New("storage.driver is required")
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}

	if tz := strings.TrimSpace(c.Facility.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("facility.timezone: %w", err)
		}
	}

	if s := strings.TrimSpace(c.Reconcile.CutoffDate); s != "" {
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return fmt.Errorf("reconcile.cutoff_date: invalid date %q (want YYYY-MM-DD)", s)
		}
	}
	if c.Reconcile.MaxScan < 0 {
		return errors.New("reconcile.max_scan must be >= 0")
	}

	if _, err := ParseDurationField("trigger.default_timeout", c.Trigger.DefaultTimeout); err != nil {
		return err
	}
	if s := strings.TrimSpace(c.Trigger.MaterializeAt); s != "" {
		if _, err := time.Parse("15:04", s); err != nil {
			return fmt.Errorf("trigger.materialize_at: invalid time %q (want HH:MM)", s)
		}
	}
	if s := strings.TrimSpace(c.Trigger.SweepEvery); s != "" {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("trigger.sweep_every: invalid duration %q: %w", s, err)
		}
	}

	if c.Materializer.RatePerSec < 0 {
		return errors.New("materializer.rate_per_sec must be >= 0")
	}
	return nil
}

// CutoffDate returns the parsed reconcile cutoff, or zero when unset.
// Call only after Validate().
func (c *Config) CutoffDate() time.Time {
	s := strings.TrimSpace(c.Reconcile.CutoffDate)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// MaterializeAt returns the nightly generation time, defaulted.
func (c *Config) MaterializeAt() string {
	if s := strings.TrimSpace(c.Trigger.MaterializeAt); s != "" {
		return s
	}
	return "00:05"
}

// SweepEvery returns the reconcile sweep interval, defaulted.
func (c *Config) SweepEvery() time.Duration {
	if s := strings.TrimSpace(c.Trigger.SweepEvery); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return 6 * time.Hour
}
