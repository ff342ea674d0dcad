// Package config loads and watches tickrun's configuration file.
//
// The file is YAML or JSON (YAML is coerced to JSON so a single strict
// decoder covers both) and holds the scheduler settings plus the job list.
// A Manager supports hot-reload: subscribers get the new config after it
// parses and validates, and a rejected file leaves the running config
// untouched.
package config

import (
	"fmt"
	"strings"
	"time"

	"tickrun/internal/job"
)

type Config struct {
	// Timezone is the IANA zone all schedules evaluate in
	// (e.g. "America/Los_Angeles"). Empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`

	// PollInterval is a Go duration string; the loop wakes this often.
	// Default "30s".
	PollInterval string `json:"poll_interval,omitempty"`

	// DefaultTimeout applies to jobs without their own timeout.
	// Default "2m".
	DefaultTimeout string `json:"default_timeout,omitempty"`

	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Notify  *NotifyConfig  `json:"notify,omitempty"`

	Jobs []job.Definition `json:"jobs"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the optional run-history store.
//
// Driver values:
//   - "file": append-only JSONL outcome log
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", history is disabled.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	KeepRuns    int    `json:"keep_runs,omitempty"`    // prune bound; 0 means default
}

// NotifyConfig controls the optional outcome webhook.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	URL        string `json:"url"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	OnlyFailed bool   `json:"only_failed,omitempty"`
	Timeout    string `json:"timeout,omitempty"` // Go duration string
}

// Defaults for omitted top-level settings.
const (
	DefaultPollInterval   = 30 * time.Second
	DefaultJobTimeout     = 2 * time.Minute
	DefaultNotifyTimeout  = 10 * time.Second
	DefaultNotifyRate     = 1
	DefaultHistoryKeepRun = 1000
)

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}
	return loc, nil
}

// PollEvery resolves the poll interval with its default.
func (c *Config) PollEvery() (time.Duration, error) {
	return ParseDurationOrDefault("poll_interval", c.PollInterval, DefaultPollInterval)
}

// JobTimeout resolves the fallback timeout with its default.
func (c *Config) JobTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("default_timeout", c.DefaultTimeout, DefaultJobTimeout)
}
