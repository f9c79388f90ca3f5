package repository

import "time"

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithMetricsUpdateInterval sets the interval for background metrics updates.
func WithMetricsUpdateInterval(interval time.Duration) Option {
	return func(s *MemoryStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}

// WithMaxVerifications bounds how many verification decisions are retained.
// Oldest decisions are dropped first. Zero keeps everything.
func WithMaxVerifications(n int) Option {
	return func(s *MemoryStore) {
		if n >= 0 {
			s.maxVerifications = n
		}
	}
}

// SQLiteOption applies a configuration option to the SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		if d > 0 {
			s.busyTimeout = d
		}
	}
}

// WithSQLiteMetricsUpdateInterval sets the interval for background metrics updates.
func WithSQLiteMetricsUpdateInterval(interval time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		if interval > 0 {
			s.metricsUpdateInterval = interval
		}
	}
}
