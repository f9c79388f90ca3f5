package service

import (
	"context"
	"strings"
	"time"

	"github.com/okian/keyguard/internal/adapters/repository"
	"github.com/okian/keyguard/internal/domain/features"
	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/template"
	"github.com/okian/keyguard/pkg/logger"
	"github.com/okian/keyguard/pkg/metrics"
)

// SampleResult is the outcome of an accepted enrollment sample.
type SampleResult struct {
	SampleID     string
	SamplesCount int
	Meta         *model.SampleMeta
}

// EnrollmentResult is the outcome of FinishEnrollment.
type EnrollmentResult struct {
	Verdict  model.Verdict
	Template template.Record
}

// AddSample checks one enrollment sample against the minimums and stores it.
// Samples below either minimum are rejected with an
// *InsufficientEnrollmentError carrying the observed counts.
func (s *Service) AddSample(ctx context.Context, identity string, events []model.KeyEvent) (SampleResult, error) {
	store, err := s.running()
	if err != nil {
		return SampleResult{}, err
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return SampleResult{}, ErrInvalidIdentity
	}

	res := s.extract(ctx, events)
	var chars, keyEvents int
	if res.Meta != nil {
		chars, keyEvents = res.Meta.Chars, res.Meta.KeyEvents
	}

	p := s.policy.Load()
	if chars < p.minChars || keyEvents < p.minKeyEvents {
		metrics.RecordEnrollmentSample("insufficient")
		s.logger.Debug(ctx, "enrollment sample rejected",
			logger.String("identity", identity),
			logger.Int("chars", chars),
			logger.Int("keyEvents", keyEvents),
		)
		return SampleResult{}, &InsufficientEnrollmentError{
			Chars:        chars,
			KeyEvents:    keyEvents,
			MinChars:     p.minChars,
			MinKeyEvents: p.minKeyEvents,
		}
	}

	sample := model.Sample{
		ID:        repository.NewID(),
		Identity:  identity,
		Events:    events,
		Chars:     chars,
		KeyEvents: keyEvents,
		CreatedAt: time.Now().UTC(),
	}
	count, err := store.AddSample(ctx, sample)
	if err != nil {
		metrics.RecordErrorByComponent("service", "add_sample")
		return SampleResult{}, err
	}

	metrics.RecordEnrollmentSample("accepted")
	s.logger.Info(ctx, "enrollment sample stored",
		logger.String("identity", identity),
		logger.String("sample_id", sample.ID),
		logger.Int("samples", count),
	)
	return SampleResult{SampleID: sample.ID, SamplesCount: count, Meta: res.Meta}, nil
}

// FinishEnrollment aggregates the pending samples into a template that
// replaces any earlier one, then clears the samples it aggregated.
func (s *Service) FinishEnrollment(ctx context.Context, identity string) (EnrollmentResult, error) {
	store, err := s.running()
	if err != nil {
		return EnrollmentResult{}, err
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return EnrollmentResult{}, ErrInvalidIdentity
	}

	samples, err := store.Samples(ctx, identity)
	if err != nil {
		return EnrollmentResult{}, err
	}
	if len(samples) == 0 {
		return EnrollmentResult{}, ErrNoSamples
	}

	streams := make([][]model.KeyEvent, len(samples))
	ids := make([]string, len(samples))
	for i, smp := range samples {
		streams[i] = smp.Events
		ids[i] = smp.ID
	}
	tmpl, ok := template.Aggregate(streams)
	if !ok {
		return EnrollmentResult{}, ErrAggregationFailed
	}

	rec := template.NewRecord(identity, s.modelVersion, tmpl)
	rec.ID = repository.NewID()
	if err := store.ReplaceTemplates(ctx, identity, []template.Record{rec}); err != nil {
		metrics.RecordErrorByComponent("service", "replace_templates")
		return EnrollmentResult{}, err
	}
	// samples added after the read stay pending for the next enrollment
	if err := store.ClearSamples(ctx, identity, ids...); err != nil {
		// the template is in place; leftover samples only inflate the next enrollment
		s.logger.Warn(ctx, "failed to clear enrollment samples",
			logger.String("identity", identity), logger.Error(err))
	}

	metrics.RecordTemplateFinalized()
	metrics.UpdateEnrolledIdentities(store.Count(ctx))
	s.logger.Info(ctx, "enrollment finished",
		logger.String("identity", identity),
		logger.Int("samples", tmpl.NSamples),
		logger.String("modelVersion", s.modelVersion),
	)
	return EnrollmentResult{Verdict: model.VerdictEnrolled, Template: rec}, nil
}

// Profile summarizes an identity's enrollment. Unknown identities return
// ErrNotFound.
func (s *Service) Profile(ctx context.Context, identity string) (model.Profile, error) {
	store, err := s.running()
	if err != nil {
		return model.Profile{}, err
	}
	return store.Profile(ctx, identity)
}

// Extract runs feature extraction without touching any stored state.
func (s *Service) Extract(ctx context.Context, events []model.KeyEvent) features.Result {
	return s.extract(ctx, events)
}

func (s *Service) extract(_ context.Context, events []model.KeyEvent) features.Result {
	start := time.Now()
	res := features.Extract(events)
	metrics.RecordExtractionLatency(float64(time.Since(start).Microseconds()) / 1000)

	if res.Meta != nil {
		if res.Meta.SkippedEvents > 0 {
			metrics.RecordMalformedEvents(res.Meta.SkippedEvents)
		}
		switch {
		case res.Meta.PasteDetectedExplicit:
			metrics.RecordPasteDetection("explicit")
		case res.Meta.PasteDetectedHeuristic:
			metrics.RecordPasteDetection("heuristic")
		}
	}
	return res
}
