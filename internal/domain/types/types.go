// Package types contains the HTTP wire shapes shared by the API and tools.
package types

import (
	"time"

	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/template"
)

// EventsRequest is the body of POST /enroll, /verify and /extract.
type EventsRequest struct {
	Identity string           `json:"identity,omitempty"`
	Events   []model.KeyEvent `json:"events"`
}

// FinishRequest is the body of POST /enroll/finish.
type FinishRequest struct {
	Identity string `json:"identity"`
}

// AnswerRequest is the body of POST /answers.
type AnswerRequest struct {
	SubmissionID string           `json:"submission_id,omitempty"`
	Identity     string           `json:"identity"`
	QuestionID   string           `json:"question_id,omitempty"`
	FinalText    string           `json:"final_text,omitempty"`
	Events       []model.KeyEvent `json:"events"`
}

// Submission converts the request into its queued form.
func (r AnswerRequest) Submission() model.Submission { //nolint:gocritic // hugeParam: request values are small and short-lived
	return model.Submission{
		SubmissionID: r.SubmissionID,
		Identity:     r.Identity,
		QuestionID:   r.QuestionID,
		FinalText:    r.FinalText,
		Events:       r.Events,
	}
}

// EnrollResponse acknowledges a stored enrollment sample.
type EnrollResponse struct {
	Status       string            `json:"status"`
	SampleID     string            `json:"sample_id"`
	SamplesCount int               `json:"samples_count"`
	Meta         *model.SampleMeta `json:"meta,omitempty"`
}

// InsufficientResponse explains why an enrollment sample was rejected.
type InsufficientResponse struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Chars        int    `json:"chars"`
	KeyEvents    int    `json:"key_events"`
	MinChars     int    `json:"min_chars"`
	MinKeyEvents int    `json:"min_key_events"`
}

// TemplateSummary describes a stored template without its raw embedding.
type TemplateSummary struct {
	ID           string    `json:"id"`
	Identity     string    `json:"identity"`
	NSamples     int       `json:"n_samples"`
	Dim          int       `json:"dim"`
	ModelVersion string    `json:"model_version"`
	MeanHold     *float64  `json:"mean_hold"`
	MeanDD       *float64  `json:"mean_dd"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewTemplateSummary summarizes a stored record.
func NewTemplateSummary(r template.Record) TemplateSummary { //nolint:gocritic // hugeParam: read-only copy
	s := TemplateSummary{
		ID:           r.ID,
		Identity:     r.Identity,
		NSamples:     r.NSamples,
		Dim:          len(r.Embedding) / 4,
		ModelVersion: r.ModelVersion,
		CreatedAt:    r.CreatedAt,
	}
	if r.Scalars != nil {
		s.MeanHold = r.Scalars.MeanHold
		s.MeanDD = r.Scalars.MeanDD
	}
	return s
}

// FinishResponse reports a completed enrollment.
type FinishResponse struct {
	Verdict  model.Verdict   `json:"verdict"`
	Template TemplateSummary `json:"template"`
}

// ExtractResponse is the raw output of feature extraction.
type ExtractResponse struct {
	FeatureVector []float64        `json:"feature_vector"`
	PasteFlag     bool             `json:"paste_flag"`
	Meta          model.MetaObject `json:"meta"`
}

// AnswerResponse acknowledges an answer submission.
type AnswerResponse struct {
	Status       string `json:"status"`
	SubmissionID string `json:"submission_id"`
	Duplicate    bool   `json:"duplicate"`
}
