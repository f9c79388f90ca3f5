package testevents

import (
	"time"

	"github.com/okian/keyguard/internal/domain/model"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL          string        // Base URL of the service
	Typists          int           // Number of synthetic typists to enroll
	SamplesPerTypist int           // Enrollment samples per typist
	VerifyPerTypist  int           // Genuine verifications per typist
	SampleChars      int           // Characters typed per sample
	Answers          bool          // Also exercise the async /answers path
	AnswerWait       time.Duration // How long to poll for async answer verdicts
	Workers          int           // Number of concurrent workers
	Timeout          time.Duration // HTTP request timeout
	Seed             uint64        // Seed for the synthetic typists; 0 picks one
	OutputFile       string        // Output file for the run report
	LogFile          string        // Log file for run output
	Verbose          bool          // Enable verbose logging
}

// Scenario labels a class of verification attempt.
type Scenario string

// Scenarios driven by the runner.
const (
	ScenarioGenuine  Scenario = "genuine"
	ScenarioImpostor Scenario = "impostor"
	ScenarioPaste    Scenario = "paste"
	ScenarioAnswer   Scenario = "answer"
)

// Attempt is one verification request and its outcome.
type Attempt struct {
	Scenario Scenario      `json:"scenario"`
	Identity string        `json:"identity"`
	TypedBy  string        `json:"typed_by"`
	ID       string        `json:"id,omitempty"`
	Verdict  model.Verdict `json:"verdict,omitempty"`
	Score    float64       `json:"score"`
	Err      string        `json:"error,omitempty"`
}

// Stats holds run statistics.
type Stats struct {
	TypistsGenerated int
	SamplesSubmitted int
	SamplesRejected  int
	Enrolled         int
	Verifications    int
	VerifyFailed     int
	AnswersAccepted  int
	AnswersDuplicate int
	AnswersResolved  int
	Verdicts         map[Scenario]map[model.Verdict]int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
