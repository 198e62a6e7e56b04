package config

import (
	"fmt"
	"time"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the polling loop and the execution workers.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Context controls the system context probe used by conditional
	// triggers.
	Context *ContextConfig `json:"context,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
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

// SchedulerConfig controls the scheduler service.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "10s" (clamped to 1s..60s)
//   - workers: 5
//   - retry_backoff: "5m"
type SchedulerConfig struct {
	Enabled      bool   `json:"enabled"`
	PollInterval string `json:"poll_interval,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	RetryBackoff string `json:"retry_backoff,omitempty"`
}

// ContextConfig controls system context snapshots.
//
// CacheTTL is a Go duration string; snapshots younger than it are reused
// across trigger evaluations. Defaults to "2s".
type ContextConfig struct {
	CacheTTL string `json:"cache_ttl,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./autotask_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Validate parses every duration field so a reload with a bad value is
// rejected before anything is committed.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := ParseDurationField("scheduler.poll_interval", c.Scheduler.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.retry_backoff", c.Scheduler.RetryBackoff); err != nil {
		return err
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must be >= 0")
	}
	if c.Context != nil {
		if _, err := ParseDurationField("context.cache_ttl", c.Context.CacheTTL); err != nil {
			return err
		}
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// PollInterval returns the parsed poll interval, falling back to def when
// the field is empty.
func (s SchedulerConfig) PollIntervalOr(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("scheduler.poll_interval", s.PollInterval, def)
	if err != nil {
		return def
	}
	return d
}

func (s SchedulerConfig) RetryBackoffOr(def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("scheduler.retry_backoff", s.RetryBackoff, def)
	if err != nil {
		return def
	}
	return d
}

func (c *ContextConfig) CacheTTLOr(def time.Duration) time.Duration {
	if c == nil {
		return def
	}
	d, err := ParseDurationOrDefault("context.cache_ttl", c.CacheTTL, def)
	if err != nil {
		return def
	}
	return d
}
