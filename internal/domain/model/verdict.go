package model

import "time"

// Verdict is the categorical outcome of enrollment or verification.
type Verdict string

// Verdicts.
const (
	VerdictEnrolled        Verdict = "enrolled"
	VerdictAccepted        Verdict = "accepted"
	VerdictReview          Verdict = "review"
	VerdictRejected        Verdict = "rejected"
	VerdictSuspiciousPaste Verdict = "suspicious_paste"
	VerdictNoTemplate      Verdict = "no_template"
)

// SampleMeta carries diagnostics computed alongside a feature vector.
type SampleMeta struct {
	Chars                  int       `json:"chars"`
	KeyEvents              int       `json:"key_events"`
	DurationMS             float64   `json:"duration_ms"`
	MedianHold             float64   `json:"median_ht"`
	MADHold                float64   `json:"mad_ht"`
	MedianDD               float64   `json:"median_dd"`
	MADDD                  float64   `json:"mad_dd"`
	CPM                    float64   `json:"cpm"`
	Pauses                 int       `json:"pauses_over_200"`
	HoldSamples            int       `json:"hold_samples"`
	PasteDetectedExplicit  bool      `json:"paste_detected_explicit"`
	PasteDetectedHeuristic bool      `json:"paste_detected_heuristic"`
	BlurCount              int       `json:"blur_count"`
	FocusCount             int       `json:"focus_count"`
	SampleHoldTimes        []float64 `json:"sample_hold_times"`
	SampleDDTimes          []float64 `json:"sample_dd_times"`
	SkippedEvents          int       `json:"skipped_events"`
}

// MetaObject encodes a nil SampleMeta as an empty JSON object instead of null.
type MetaObject struct {
	*SampleMeta
}

// Verification is one recorded verification decision.
type Verification struct {
	ID           string      `json:"id"`
	Identity     string      `json:"identity"`
	SubmissionID string      `json:"submission_id,omitempty"`
	QuestionID   string      `json:"question_id,omitempty"`
	Score        float64     `json:"score"`
	Verdict      Verdict     `json:"verdict"`
	PasteFlag    bool        `json:"paste_flag"`
	ScalarScore  *int        `json:"scalar_score,omitempty"`
	ModelVersion string      `json:"model_version"`
	Meta         *SampleMeta `json:"meta,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// EnrollmentState is the per-identity lifecycle position.
type EnrollmentState string

// Enrollment states.
const (
	StateUnenrolled EnrollmentState = "unenrolled"
	StateEnrolling  EnrollmentState = "enrolling"
	StateEnrolled   EnrollmentState = "enrolled"
)

// Profile summarizes an identity's enrollment.
type Profile struct {
	Identity       string          `json:"identity"`
	State          EnrollmentState `json:"state"`
	PendingSamples int             `json:"pending_samples"`
	Templates      int             `json:"templates"`
	ModelVersion   string          `json:"model_version,omitempty"`
	MeanHold       *float64        `json:"mean_hold,omitempty"`
	MeanDD         *float64        `json:"mean_dd,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
