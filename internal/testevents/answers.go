package testevents

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/types"
	"github.com/okian/keyguard/pkg/logger"
)

// submitAnswers posts one genuine answer per typist to /answers, resubmits
// it to check idempotency, then polls for the asynchronous verdict.
func submitAnswers(ctx context.Context, client *HTTPClient, config *Config, typists []Typist, stats *Stats) []Attempt {
	log := logger.Get().Named("testevents")
	wait := config.AnswerWait
	if wait <= 0 {
		wait = DefaultAnswerWait
	}

	var (
		mu        sync.Mutex
		attempts  []Attempt
		accepted  int64
		duplicate int64
		resolved  int64
	)

	fanOut(ctx, config.Workers, len(typists), func(ctx context.Context, i int) {
		t := typists[i]
		r := t.Rand(uint64(config.SamplesPerTypist + config.VerifyPerTypist + 2))
		text := SampleText(r, config.SampleChars)
		req := types.AnswerRequest{
			SubmissionID: uuid.NewString(),
			Identity:     t.ID,
			QuestionID:   fmt.Sprintf("q-%d", i),
			FinalText:    text,
			Events:       t.Type(r, text),
		}
		a := Attempt{Scenario: ScenarioAnswer, Identity: t.ID, TypedBy: t.ID, ID: req.SubmissionID}

		var ack types.AnswerResponse
		status, err := client.Post(ctx, "/answers", req, &ack)
		if err != nil || status != http.StatusAccepted {
			a.Err = fmt.Sprintf("submit: status %d: %v", status, err)
			mu.Lock()
			attempts = append(attempts, a)
			mu.Unlock()
			return
		}
		atomic.AddInt64(&accepted, 1)

		status, err = client.Post(ctx, "/answers", req, &ack)
		if err == nil && status == http.StatusOK && ack.Duplicate {
			atomic.AddInt64(&duplicate, 1)
		} else if config.Verbose {
			log.Warn(ctx, "resubmission was not reported as duplicate",
				logger.String("submission_id", req.SubmissionID), logger.Int("status", status))
		}

		if v, ok := pollVerification(ctx, client, req.SubmissionID, wait); ok {
			atomic.AddInt64(&resolved, 1)
			a.Verdict, a.Score = v.Verdict, v.Score
		} else {
			a.Err = "verdict not available in time"
		}

		mu.Lock()
		attempts = append(attempts, a)
		mu.Unlock()
	})

	stats.AnswersAccepted = int(accepted)
	stats.AnswersDuplicate = int(duplicate)
	stats.AnswersResolved = int(resolved)
	log.Info(ctx, "answer phase completed",
		logger.Int("accepted", stats.AnswersAccepted),
		logger.Int("duplicate", stats.AnswersDuplicate),
		logger.Int("resolved", stats.AnswersResolved),
	)
	return attempts
}

// pollVerification fetches a recorded verdict until it exists or wait elapses.
func pollVerification(ctx context.Context, client *HTTPClient, id string, wait time.Duration) (model.Verification, bool) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(answerPollInterval)
	defer ticker.Stop()

	for {
		var v model.Verification
		status, err := client.Get(ctx, "/verifications/"+id, &v)
		if err == nil && status == http.StatusOK {
			return v, true
		}
		select {
		case <-ctx.Done():
			return model.Verification{}, false
		case <-ticker.C:
		}
	}
}
