package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/keyguard/internal/adapters/repository"
	"github.com/okian/keyguard/internal/domain/features"
	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/scoring"
	"github.com/okian/keyguard/internal/domain/template"
	"github.com/okian/keyguard/pkg/logger"
	"github.com/okian/keyguard/pkg/metrics"
)

// Verify scores a typing sample against the identity's templates and
// records the decision. Enrollment state is never changed.
func (s *Service) Verify(ctx context.Context, identity string, events []model.KeyEvent) (model.Verification, error) {
	store, err := s.running()
	if err != nil {
		return model.Verification{}, err
	}
	v, err := s.evaluate(ctx, store, identity, events)
	if err != nil {
		return model.Verification{}, err
	}
	if err := store.RecordVerification(ctx, v); err != nil {
		metrics.RecordErrorByComponent("service", "record_verification")
		return model.Verification{}, err
	}
	return v, nil
}

// VerifySubmission scores a queued answer submission. The result carries the
// submission id as its own id; recording is left to the caller.
func (s *Service) VerifySubmission(ctx context.Context, sub model.Submission) (model.Verification, error) { //nolint:gocritic // hugeParam: worker interface
	store, err := s.running()
	if err != nil {
		return model.Verification{}, err
	}
	v, err := s.evaluate(ctx, store, sub.Identity, sub.Events)
	if err != nil {
		return model.Verification{}, err
	}
	v.ID = sub.SubmissionID
	v.SubmissionID = sub.SubmissionID
	v.QuestionID = sub.QuestionID
	return v, nil
}

// Verification fetches a recorded decision by id.
func (s *Service) Verification(ctx context.Context, id string) (model.Verification, error) {
	store, err := s.running()
	if err != nil {
		return model.Verification{}, err
	}
	return store.Verification(ctx, id)
}

// evaluate runs extract, snapshot, decide, and the scalar variant.
func (s *Service) evaluate(ctx context.Context, store repository.Store, identity string, events []model.KeyEvent) (model.Verification, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return model.Verification{}, ErrInvalidIdentity
	}

	res := s.extract(ctx, events)

	recs, err := store.Templates(ctx, identity)
	if err != nil {
		return model.Verification{}, err
	}
	refs, unusable := template.ReferenceVectors(recs)
	if unusable > 0 {
		metrics.RecordTemplatesExcluded("unusable", unusable)
	}

	engine := s.engine.Load()
	d := engine.Decide(res.Vector, refs, res.PasteFlag)
	if d.Excluded > 0 {
		metrics.RecordTemplatesExcluded("dimension_mismatch", d.Excluded)
	}

	v := model.Verification{
		ID:           uuid.NewString(),
		Identity:     identity,
		Score:        d.Score,
		Verdict:      d.Verdict,
		PasteFlag:    res.PasteFlag,
		ModelVersion: s.modelVersion,
		Meta:         res.Meta,
		CreatedAt:    time.Now().UTC(),
	}
	if tmplScalars, ok := latestScalars(recs); ok {
		if score, ok := scoring.ScalarSimilarity(features.ScalarStats(events), tmplScalars); ok {
			v.ScalarScore = &score
		}
	}

	metrics.RecordVerification(string(v.Verdict), v.Score)
	s.logger.Info(ctx, "verification decided",
		logger.String("identity", identity),
		logger.String("verdict", string(v.Verdict)),
		logger.Float64("score", v.Score),
		logger.Bool("paste", v.PasteFlag),
		logger.Int("templates", d.Compared),
		logger.Int("excluded", unusable+d.Excluded),
	)
	return v, nil
}

// latestScalars returns the scalar form of the newest template that has one.
func latestScalars(recs []template.Record) (features.Scalars, bool) {
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Scalars != nil {
			return *recs[i].Scalars, true
		}
	}
	return features.Scalars{}, false
}
