package repository

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/keyguard/internal/domain/features"
	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/template"
	"github.com/okian/keyguard/pkg/metrics"
)

// snapshot is an immutable view of enrollment state. Writers build a new
// snapshot and publish it; readers load the pointer without locking.
type snapshot struct {
	samples   map[string][]model.Sample
	templates map[string][]template.Record
	updated   map[string]time.Time
}

func (s *snapshot) clone() *snapshot {
	n := &snapshot{
		samples:   make(map[string][]model.Sample, len(s.samples)),
		templates: make(map[string][]template.Record, len(s.templates)),
		updated:   make(map[string]time.Time, len(s.updated)),
	}
	for k, v := range s.samples {
		n.samples[k] = v
	}
	for k, v := range s.templates {
		n.templates[k] = v
	}
	for k, v := range s.updated {
		n.updated[k] = v
	}
	return n
}

// MemoryStore is an in-process Store. Enrollment state is copy-on-write:
// slices handed to readers are never mutated afterwards.
type MemoryStore struct {
	writeMu sync.Mutex
	snap    atomic.Pointer[snapshot]

	verMu            sync.RWMutex
	verifications    map[string]model.Verification
	verOrder         []string
	maxVerifications int

	metricsUpdateInterval time.Duration
	wg                    sync.WaitGroup
	stopChan              chan struct{}
	closed                atomic.Bool
}

// NewMemoryStore constructs an in-memory store with configuration options.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		verifications:         make(map[string]model.Verification),
		maxVerifications:      100_000,
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(&snapshot{
		samples:   map[string][]model.Sample{},
		templates: map[string][]template.Record{},
		updated:   map[string]time.Time{},
	})

	s.startMetricsUpdater(ctx)
	return s
}

// update applies fn to a private copy of the current snapshot and publishes it.
func (s *MemoryStore) update(op string, fn func(*snapshot) error) error {
	start := time.Now()
	defer func() { metrics.RecordRepositoryUpdateLatency(DriverMemory, op, since(start)) }()

	if s.closed.Load() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.snap.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	s.snap.Store(next)
	return nil
}

// AddSample implements Store.AddSample.
func (s *MemoryStore) AddSample(_ context.Context, sample model.Sample) (int, error) {
	if strings.TrimSpace(sample.Identity) == "" {
		return 0, ErrInvalidIdentity
	}
	if sample.ID == "" {
		sample.ID = NewID()
	}
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now().UTC()
	}
	sample.Events = append([]model.KeyEvent(nil), sample.Events...)

	var count int
	err := s.update("add_sample", func(n *snapshot) error {
		cur := n.samples[sample.Identity]
		next := make([]model.Sample, len(cur), len(cur)+1)
		copy(next, cur)
		n.samples[sample.Identity] = append(next, sample)
		n.updated[sample.Identity] = sample.CreatedAt
		count = len(next) + 1
		return nil
	})
	return count, err
}

// Samples implements Store.Samples.
func (s *MemoryStore) Samples(_ context.Context, identity string) ([]model.Sample, error) {
	start := time.Now()
	defer func() { metrics.RecordRepositoryQueryLatency(DriverMemory, "samples", since(start)) }()

	cur := s.snap.Load().samples[identity]
	return append([]model.Sample(nil), cur...), nil
}

// ClearSamples implements Store.ClearSamples.
func (s *MemoryStore) ClearSamples(_ context.Context, identity string, ids ...string) error {
	return s.update("clear_samples", func(n *snapshot) error {
		if len(ids) == 0 {
			delete(n.samples, identity)
			return nil
		}
		drop := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			drop[id] = struct{}{}
		}
		cur := n.samples[identity]
		keep := make([]model.Sample, 0, len(cur))
		for _, smp := range cur {
			if _, ok := drop[smp.ID]; !ok {
				keep = append(keep, smp)
			}
		}
		if len(keep) == 0 {
			delete(n.samples, identity)
			return nil
		}
		n.samples[identity] = keep
		return nil
	})
}

// ReplaceTemplates implements Store.ReplaceTemplates.
func (s *MemoryStore) ReplaceTemplates(_ context.Context, identity string, recs []template.Record) error {
	if strings.TrimSpace(identity) == "" {
		return ErrInvalidIdentity
	}
	now := time.Now().UTC()
	next := make([]template.Record, len(recs))
	for i, r := range recs {
		r = cloneRecord(r)
		r.Identity = identity
		if r.ID == "" {
			r.ID = NewID()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		next[i] = r
	}

	return s.update("replace_templates", func(n *snapshot) error {
		if len(next) == 0 {
			delete(n.templates, identity)
		} else {
			n.templates[identity] = next
		}
		n.updated[identity] = now
		return nil
	})
}

// Templates implements Store.Templates.
func (s *MemoryStore) Templates(_ context.Context, identity string) ([]template.Record, error) {
	start := time.Now()
	defer func() { metrics.RecordRepositoryQueryLatency(DriverMemory, "templates", since(start)) }()

	cur := s.snap.Load().templates[identity]
	if len(cur) == 0 {
		return nil, nil
	}
	out := make([]template.Record, len(cur))
	for i, r := range cur {
		out[i] = cloneRecord(r)
	}
	return out, nil
}

// RecordVerification implements Store.RecordVerification.
func (s *MemoryStore) RecordVerification(_ context.Context, v model.Verification) error {
	start := time.Now()
	defer func() { metrics.RecordRepositoryUpdateLatency(DriverMemory, "record_verification", since(start)) }()

	if s.closed.Load() {
		return ErrClosed
	}
	if v.ID == "" {
		v.ID = NewID()
	}

	s.verMu.Lock()
	defer s.verMu.Unlock()
	if _, ok := s.verifications[v.ID]; !ok {
		s.verOrder = append(s.verOrder, v.ID)
	}
	s.verifications[v.ID] = v
	if s.maxVerifications > 0 {
		for len(s.verOrder) > s.maxVerifications {
			delete(s.verifications, s.verOrder[0])
			s.verOrder = s.verOrder[1:]
		}
	}
	return nil
}

// Verification implements Store.Verification.
func (s *MemoryStore) Verification(_ context.Context, id string) (model.Verification, error) {
	start := time.Now()
	defer func() { metrics.RecordRepositoryQueryLatency(DriverMemory, "verification", since(start)) }()

	s.verMu.RLock()
	defer s.verMu.RUnlock()
	v, ok := s.verifications[id]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.Verification{}, ErrNotFound
	}
	return v, nil
}

// Profile implements Store.Profile.
func (s *MemoryStore) Profile(_ context.Context, identity string) (model.Profile, error) {
	snap := s.snap.Load()
	p, err := buildProfile(identity, len(snap.samples[identity]), snap.templates[identity], snap.updated[identity])
	if err != nil {
		metrics.RecordErrorByComponent("repository", "not_found")
	}
	return p, err
}

// Count implements Store.Count.
func (s *MemoryStore) Count(_ context.Context) int {
	return len(s.snap.Load().templates)
}

// Close stops the background metrics updater.
func (s *MemoryStore) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.stopChan)
	}
	s.wg.Wait()
	return nil
}

// startMetricsUpdater starts a background goroutine that updates repository metrics.
func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateEnrolledIdentities(s.Count(ctx))
			}
		}
	}()
}

func cloneRecord(r template.Record) template.Record {
	if r.Embedding != nil {
		r.Embedding = append([]byte(nil), r.Embedding...)
	}
	if r.Scalars != nil {
		sc := features.Scalars{}
		if r.Scalars.MeanHold != nil {
			sc.MeanHold = model.Ptr(*r.Scalars.MeanHold)
		}
		if r.Scalars.MeanDD != nil {
			sc.MeanDD = model.Ptr(*r.Scalars.MeanDD)
		}
		r.Scalars = &sc
	}
	return r
}
