package service

import (
	"github.com/okian/keyguard/internal/adapters/repository"
	"github.com/okian/keyguard/internal/domain/scoring"
	"github.com/okian/keyguard/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of verification workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the submission queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the submission deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size >= 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore injects a ready store. The caller keeps ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithStoreDriver selects the store Start opens when none was injected.
func WithStoreDriver(driver, dbPath string) Option {
	return func(s *Service) {
		if driver != "" {
			s.storeDriver = driver
		}
		if dbPath != "" {
			s.dbPath = dbPath
		}
	}
}

// WithThresholds sets the decision thresholds. Invalid pairs are ignored.
func WithThresholds(t scoring.Thresholds) Option {
	return func(s *Service) {
		if t.Validate() == nil {
			s.engine.Store(scoring.NewEngine(scoring.WithThresholds(t)))
		}
	}
}

// WithEnrollmentMinimums sets the per-sample enrollment minimums.
func WithEnrollmentMinimums(chars, keyEvents int) Option {
	return func(s *Service) {
		if chars >= 0 && keyEvents >= 0 {
			s.policy.Store(&enrollPolicy{minChars: chars, minKeyEvents: keyEvents})
		}
	}
}

// WithModelVersion sets the label stamped on templates and verifications.
func WithModelVersion(v string) Option {
	return func(s *Service) {
		if v != "" {
			s.modelVersion = v
		}
	}
}
