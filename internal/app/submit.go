package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	eventqueue "github.com/okian/keyguard/internal/adapters/mq/queue"
	"github.com/okian/keyguard/internal/domain/dedupe"
	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/pkg/logger"
	"github.com/okian/keyguard/pkg/metrics"
)

// SubmitResult reports how an answer submission was handled.
type SubmitResult struct {
	SubmissionID string
	Duplicate    bool
}

// SubmitAnswer queues a free-text answer for asynchronous verification.
// Submissions without an id are keyed by a fingerprint of identity,
// question, and events. A repeat of an accepted submission is reported as a
// duplicate and not queued again.
func (s *Service) SubmitAnswer(ctx context.Context, sub model.Submission) (SubmitResult, error) { //nolint:gocritic // hugeParam: submissions are passed by value
	s.mu.RLock()
	started, deduper, q := s.started, s.deduper, s.queue
	s.mu.RUnlock()
	if !started {
		return SubmitResult{}, ErrNotStarted
	}

	sub.Identity = strings.TrimSpace(sub.Identity)
	if sub.Identity == "" {
		return SubmitResult{}, ErrInvalidIdentity
	}
	if sub.SubmissionID == "" {
		sub.SubmissionID = dedupe.Fingerprint(sub.Identity, sub.QuestionID, sub.Events)
	}

	if deduper.SeenAndRecord(ctx, sub.SubmissionID) {
		metrics.RecordSubmissionDuplicate()
		s.logger.Debug(ctx, "duplicate submission, skipping",
			logger.String("submission_id", sub.SubmissionID),
			logger.String("identity", sub.Identity),
		)
		return SubmitResult{SubmissionID: sub.SubmissionID, Duplicate: true}, nil
	}

	sub.ReceivedAt = time.Now().UTC()
	if err := q.Enqueue(ctx, sub); err != nil {
		deduper.Unrecord(ctx, sub.SubmissionID)
		if errors.Is(err, eventqueue.ErrFull) {
			return SubmitResult{}, ErrQueueFull
		}
		if errors.Is(err, eventqueue.ErrClosed) {
			return SubmitResult{}, ErrNotStarted
		}
		return SubmitResult{}, fmt.Errorf("enqueue submission: %w", err)
	}

	s.logger.Debug(ctx, "submission queued",
		logger.String("submission_id", sub.SubmissionID),
		logger.String("identity", sub.Identity),
		logger.Int("events", len(sub.Events)),
	)
	return SubmitResult{SubmissionID: sub.SubmissionID}, nil
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}
