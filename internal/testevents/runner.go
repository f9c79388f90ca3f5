package testevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/types"
	"github.com/okian/keyguard/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0o750
	filePermission      = 0o600
)

// ErrNothingEnrolled is returned when no typist finished enrollment.
var ErrNothingEnrolled = errors.New("no typist finished enrollment")

// Report is the full outcome of a run.
type Report struct {
	Typists  []Typist  `json:"typists"`
	Attempts []Attempt `json:"attempts"`
	Stats    *Stats    `json:"-"`
}

// Run executes the complete load run: enroll every typist, then drive
// genuine, impostor, paste and (optionally) async answer verifications.
func Run(ctx context.Context, config *Config) (*Report, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("testevents")

	log.Info(ctx, "starting keyguard load run",
		logger.String("baseURL", config.BaseURL),
		logger.Int("typists", config.Typists),
		logger.Int("samplesPerTypist", config.SamplesPerTypist),
		logger.Int("verifyPerTypist", config.VerifyPerTypist),
		logger.Int("sampleChars", config.SampleChars),
		logger.Int("workers", config.Workers),
		logger.String("timeout", config.Timeout.String()),
		logger.Bool("answers", config.Answers),
	)

	client := newHTTPClient(config.BaseURL, config.Timeout)

	if err := checkServiceHealth(ctx, client); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	typists := generateTypists(ctx, config, stats)

	enrolled := enrollTypists(ctx, client, config, typists, stats)
	if len(enrolled) == 0 {
		return nil, ErrNothingEnrolled
	}

	attempts := verifyTypists(ctx, client, config, enrolled, stats)
	if config.Answers {
		attempts = append(attempts, submitAnswers(ctx, client, config, enrolled, stats)...)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	stats.Verdicts = tally(attempts)

	report := &Report{Typists: typists, Attempts: attempts, Stats: stats}
	if config.OutputFile != "" {
		if err := saveReport(ctx, config.OutputFile, report); err != nil {
			log.Warn(ctx, "failed to save report", logger.Error(err))
		}
	}

	displayFinalStats(ctx, stats)
	log.Info(ctx, "load run completed")
	return report, nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	status, err := client.Get(ctx, "/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", status)
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// enrollTypists posts every typist's samples and finishes enrollment. It
// returns the typists that ended up enrolled.
func enrollTypists(ctx context.Context, client *HTTPClient, config *Config, typists []Typist, stats *Stats) []Typist {
	log := logger.Get().Named("testevents")
	var submitted, rejected int64
	ok := make([]bool, len(typists))

	fanOut(ctx, config.Workers, len(typists), func(ctx context.Context, i int) {
		t := typists[i]
		for k := 0; k < config.SamplesPerTypist; k++ {
			r := t.Rand(uint64(k))
			req := types.EventsRequest{Identity: t.ID, Events: t.Type(r, SampleText(r, config.SampleChars))}

			var resp types.EnrollResponse
			status, err := client.Post(ctx, "/enroll", req, &resp)
			atomic.AddInt64(&submitted, 1)
			if err != nil || status != http.StatusCreated {
				atomic.AddInt64(&rejected, 1)
				if config.Verbose {
					log.Warn(ctx, "enrollment sample rejected",
						logger.String("identity", t.ID), logger.Int("status", status), logger.Error(err))
				}
			}
		}

		var fin types.FinishResponse
		status, err := client.Post(ctx, "/enroll/finish", types.FinishRequest{Identity: t.ID}, &fin)
		if err == nil && status == http.StatusOK && fin.Verdict == model.VerdictEnrolled {
			ok[i] = true
			return
		}
		log.Warn(ctx, "enrollment did not finish",
			logger.String("identity", t.ID), logger.Int("status", status), logger.Error(err))
	})

	enrolled := make([]Typist, 0, len(typists))
	for i, t := range typists {
		if ok[i] {
			enrolled = append(enrolled, t)
		}
	}

	stats.SamplesSubmitted = int(submitted)
	stats.SamplesRejected = int(rejected)
	stats.Enrolled = len(enrolled)
	log.Info(ctx, "enrollment phase completed",
		logger.Int("enrolled", stats.Enrolled),
		logger.Int("samples", stats.SamplesSubmitted),
		logger.Int("rejected", stats.SamplesRejected),
	)
	return enrolled
}

// verifyTypists runs the synchronous /verify scenarios for each typist.
func verifyTypists(ctx context.Context, client *HTTPClient, config *Config, typists []Typist, stats *Stats) []Attempt {
	var (
		mu       sync.Mutex
		attempts []Attempt
		failed   int64
	)
	record := func(a Attempt) {
		if a.Err != "" {
			atomic.AddInt64(&failed, 1)
		}
		mu.Lock()
		attempts = append(attempts, a)
		mu.Unlock()
	}

	fanOut(ctx, config.Workers, len(typists), func(ctx context.Context, i int) {
		t := typists[i]
		// streams past the enrollment ones so samples never repeat
		base := uint64(config.SamplesPerTypist)

		for k := 0; k < config.VerifyPerTypist; k++ {
			r := t.Rand(base + uint64(k))
			record(verifyOnce(ctx, client, ScenarioGenuine, t.ID, t.ID, t.Type(r, SampleText(r, config.SampleChars))))
		}

		if len(typists) > 1 {
			other := typists[(i+1)%len(typists)]
			r := other.Rand(base + uint64(config.VerifyPerTypist))
			record(verifyOnce(ctx, client, ScenarioImpostor, t.ID, other.ID, other.Type(r, SampleText(r, config.SampleChars))))
		}

		r := t.Rand(base + uint64(config.VerifyPerTypist) + 1)
		record(verifyOnce(ctx, client, ScenarioPaste, t.ID, t.ID, t.Paste(r, SampleText(r, config.SampleChars))))
	})

	stats.Verifications += len(attempts)
	stats.VerifyFailed += int(failed)
	return attempts
}

func verifyOnce(ctx context.Context, client *HTTPClient, scenario Scenario, identity, typedBy string, events []model.KeyEvent) Attempt {
	a := Attempt{Scenario: scenario, Identity: identity, TypedBy: typedBy}

	var v model.Verification
	status, err := client.Post(ctx, "/verify", types.EventsRequest{Identity: identity, Events: events}, &v)
	switch {
	case err != nil:
		a.Err = err.Error()
	case status != http.StatusOK:
		a.Err = fmt.Sprintf("unexpected status %d", status)
	default:
		a.ID, a.Verdict, a.Score = v.ID, v.Verdict, v.Score
	}
	return a
}

// saveReport writes the report as indented JSON.
func saveReport(ctx context.Context, filename string, report *Report) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	logger.Get().Info(ctx, "report saved to file", logger.String("filename", filename))
	return nil
}
