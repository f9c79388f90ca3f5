// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file, and KEYGUARD_ env vars.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/okian/keyguard/internal/domain/scoring"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory answer submission queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of verification workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the submission deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// StoreDriver selects the template store: memory or sqlite.
	StoreDriver string `koanf:"store_driver"`

	// DBPath is the SQLite database file used by the sqlite driver.
	DBPath string `koanf:"db_path"`

	// MinEnrollChars and MinEnrollKeyEvents gate each enrollment sample.
	MinEnrollChars     int `koanf:"min_enroll_chars"`
	MinEnrollKeyEvents int `koanf:"min_enroll_key_events"`

	// AcceptThreshold and ReviewThreshold drive verdict classification.
	AcceptThreshold float64 `koanf:"accept_threshold"`
	ReviewThreshold float64 `koanf:"review_threshold"`

	// ModelVersion tags stored templates and verification results.
	ModelVersion string `koanf:"model_version"`

	// MaxEvents caps the events accepted in one request.
	MaxEvents int `koanf:"max_events"`

	// WatchConfig reloads thresholds and log level when the config file changes.
	WatchConfig bool `koanf:"watch_config"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		Addr:               ":9080",
		QueueSize:          10_000,
		WorkerCount:        runtime.NumCPU() * 2,
		DedupeSize:         100_000,
		StoreDriver:        StoreMemory,
		DBPath:             "keyguard.db",
		MinEnrollChars:     40,
		MinEnrollKeyEvents: 60,
		AcceptThreshold:    scoring.DefaultAcceptThreshold,
		ReviewThreshold:    scoring.DefaultReviewThreshold,
		ModelVersion:       "ks_v1_robust64",
		MaxEvents:          20_000,
	}
}

// Thresholds returns the configured decision thresholds.
func (c *Config) Thresholds() scoring.Thresholds {
	return scoring.Thresholds{Accept: c.AcceptThreshold, Review: c.ReviewThreshold}
}

// Validate reports the first invalid setting, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.DedupeSize < 0:
		return fmt.Errorf("%w: dedupe_size must not be negative", ErrInvalidConfig)
	case c.MinEnrollChars < 0 || c.MinEnrollKeyEvents < 0:
		return fmt.Errorf("%w: enrollment minimums must not be negative", ErrInvalidConfig)
	case c.MaxEvents < 1:
		return fmt.Errorf("%w: max_events must be positive", ErrInvalidConfig)
	case strings.TrimSpace(c.ModelVersion) == "":
		return fmt.Errorf("%w: model_version must not be empty", ErrInvalidConfig)
	}

	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(c.DBPath) == "" {
			return fmt.Errorf("%w: db_path is required for the sqlite driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}

	if err := c.Thresholds().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
