// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	eventqueue "github.com/okian/keyguard/internal/adapters/mq/queue"
	workerpool "github.com/okian/keyguard/internal/adapters/mq/worker"
	"github.com/okian/keyguard/internal/adapters/repository"
	"github.com/okian/keyguard/internal/config"
	"github.com/okian/keyguard/internal/domain/dedupe"
	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/scoring"
	"github.com/okian/keyguard/pkg/logger"
	"github.com/okian/keyguard/pkg/metrics"
)

const stopTimeout = 10 * time.Second

type enrollPolicy struct {
	minChars     int
	minKeyEvents int
}

// Service implements enrollment, verification, and answer submission.
type Service struct {
	mu sync.RWMutex

	// Core components
	store   repository.Store
	deduper dedupe.Deduper
	queue   eventqueue.Queue
	pool    *workerpool.Pool

	// Hot-reloadable policy
	engine atomic.Pointer[scoring.Engine]
	policy atomic.Pointer[enrollPolicy]

	// Configuration
	workerCount  int
	queueSize    int
	dedupeSize   int
	storeDriver  string
	dbPath       string
	modelVersion string

	started   bool
	stopping  bool
	ownsStore bool

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:  runtime.NumCPU() * 2,
		queueSize:    10_000,
		dedupeSize:   100_000,
		storeDriver:  repository.DriverMemory,
		dbPath:       "keyguard.db",
		modelVersion: "ks_v1_robust64",
	}
	s.engine.Store(scoring.NewEngine())
	s.policy.Store(&enrollPolicy{minChars: 40, minKeyEvents: 60})

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromConfig translates a loaded Config into service options.
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.QueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithStoreDriver(cfg.StoreDriver, cfg.DBPath),
		WithThresholds(cfg.Thresholds()),
		WithEnrollmentMinimums(cfg.MinEnrollChars, cfg.MinEnrollKeyEvents),
		WithModelVersion(cfg.ModelVersion),
	}
}

// Start opens the store and starts the verification workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting keyguard service...")

	if s.store == nil {
		store, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		s.store = store
		s.ownsStore = true
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s, s.store,
		workerpool.WithLogger(s.logger),
		workerpool.WithOnFailure(s.onSubmissionFailure))
	s.pool.Start(ctx)

	metrics.UpdateEnrolledIdentities(s.store.Count(ctx))

	s.started = true
	t := s.engine.Load().Thresholds()
	s.logger.Info(ctx, "keyguard service started",
		logger.String("store", s.storeDriver),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Float64("accept", t.Accept),
		logger.Float64("review", t.Review),
		logger.String("modelVersion", s.modelVersion),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	switch s.storeDriver {
	case repository.DriverMemory:
		return repository.NewMemoryStore(ctx), nil
	case repository.DriverSQLite:
		store, err := repository.NewSQLiteStore(ctx, s.dbPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStoreBackend, s.storeDriver)
	}
}

// Stop drains queued submissions and closes the store it opened.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started || s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	pool := s.pool
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping keyguard service...")

	// workers still read the store while draining, so the lock is not held here
	if err := pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool shutdown incomplete", logger.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Error(ctx, "error closing store", logger.Error(err))
		}
		s.store, s.ownsStore = nil, false
	}
	s.started, s.stopping = false, false
	s.logger.Info(ctx, "keyguard service stopped")
}

// running returns the store, or ErrNotStarted.
func (s *Service) running() (repository.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// SetThresholds swaps the decision thresholds used by later calls.
func (s *Service) SetThresholds(t scoring.Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.engine.Store(scoring.NewEngine(scoring.WithThresholds(t)))
	return nil
}

// Thresholds returns the thresholds currently in force.
func (s *Service) Thresholds() scoring.Thresholds {
	return s.engine.Load().Thresholds()
}

// ApplyConfig applies the hot-reloadable subset of cfg: thresholds and
// enrollment minimums. Everything else needs a restart.
func (s *Service) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	if err := s.SetThresholds(cfg.Thresholds()); err != nil {
		return err
	}
	s.policy.Store(&enrollPolicy{minChars: cfg.MinEnrollChars, minKeyEvents: cfg.MinEnrollKeyEvents})
	if s.logger != nil {
		s.logger.Info(ctx, "configuration reloaded",
			logger.Float64("accept", cfg.AcceptThreshold),
			logger.Float64("review", cfg.ReviewThreshold),
			logger.Int("minEnrollChars", cfg.MinEnrollChars),
			logger.Int("minEnrollKeyEvents", cfg.MinEnrollKeyEvents),
		)
	}
	return nil
}

// ModelVersion returns the label stamped on new templates and verifications.
func (s *Service) ModelVersion() string { return s.modelVersion }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	t := s.engine.Load().Thresholds()
	p := s.policy.Load()
	stats := map[string]interface{}{
		"started":            s.started,
		"storeDriver":        s.storeDriver,
		"workerCount":        s.workerCount,
		"queueSize":          s.queueSize,
		"dedupeSize":         s.dedupeSize,
		"modelVersion":       s.modelVersion,
		"acceptThreshold":    t.Accept,
		"reviewThreshold":    t.Review,
		"minEnrollChars":     p.minChars,
		"minEnrollKeyEvents": p.minKeyEvents,
	}

	if s.started {
		queueLen := s.queue.Len(ctx)
		enrolled := s.store.Count(ctx)

		stats["queueLength"] = queueLen
		stats["enrolledIdentities"] = enrolled
		stats["dedupeEntries"] = s.deduper.Size()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateEnrolledIdentities(enrolled)
		metrics.UpdateWorkerCount(s.pool.Size())
	}
	return stats
}

func (s *Service) onSubmissionFailure(ctx context.Context, sub model.Submission, err error) { //nolint:gocritic // hugeParam: matches worker callback
	s.deduper.Unrecord(ctx, sub.SubmissionID)
	s.logger.Warn(ctx, "submission released for retry",
		logger.String("submission_id", sub.SubmissionID),
		logger.Error(err),
	)
}
