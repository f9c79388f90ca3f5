// Package scoring compares live feature vectors against enrolled templates
// and turns the similarity into a verdict.
package scoring

import (
	"fmt"
	"math"

	"github.com/okian/keyguard/internal/domain/features"
	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/template"
)

// Default decision thresholds.
const (
	DefaultAcceptThreshold = 0.70
	DefaultReviewThreshold = 0.55
)

// Thresholds are the calibrated cut points for verdicts.
type Thresholds struct {
	Accept float64
	Review float64
}

// DefaultThresholds returns the calibrated defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Accept: DefaultAcceptThreshold, Review: DefaultReviewThreshold}
}

// Validate checks 0 <= review <= accept <= 1.
func (t Thresholds) Validate() error {
	switch {
	case t.Accept < 0 || t.Accept > 1:
		return fmt.Errorf("%w: accept threshold %v outside [0,1]", ErrInvalidThresholds, t.Accept)
	case t.Review < 0 || t.Review > 1:
		return fmt.Errorf("%w: review threshold %v outside [0,1]", ErrInvalidThresholds, t.Review)
	case t.Review > t.Accept:
		return fmt.Errorf("%w: review threshold %v above accept threshold %v", ErrInvalidThresholds, t.Review, t.Accept)
	}
	return nil
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithThresholds sets the accept and review thresholds. Invalid pairs are ignored.
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) {
		if t.Validate() == nil {
			e.thresholds = t
		}
	}
}

// Decision is the outcome of one comparison.
type Decision struct {
	Score   float64
	Verdict model.Verdict
	// Compared is the number of templates averaged into the reference.
	Compared int
	// Excluded is the number of templates dropped for a dimension mismatch.
	Excluded int
}

// Decider turns a live vector and stored templates into a Decision.
type Decider interface {
	Decide(vector features.Vector, templates []features.Vector, pasteFlag bool) Decision
}

// Engine is the default Decider. It is immutable and safe for concurrent use.
type Engine struct {
	thresholds Thresholds
}

// NewEngine creates an Engine with the default thresholds unless overridden.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{thresholds: DefaultThresholds()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the engine's thresholds.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// Decide scores vector against the mean of the templates that share its
// dimensionality. An explicit or heuristic paste forces suspicious_paste
// while keeping the computed score.
func (e *Engine) Decide(vector features.Vector, templates []features.Vector, pasteFlag bool) Decision {
	if len(templates) == 0 {
		return Decision{Score: 0, Verdict: model.VerdictNoTemplate}
	}

	usable := make([]features.Vector, 0, len(templates))
	for _, t := range templates {
		if len(t) == len(vector) {
			usable = append(usable, t)
		}
	}
	excluded := len(templates) - len(usable)
	if len(usable) == 0 {
		return Decision{Score: 0, Verdict: model.VerdictNoTemplate, Excluded: excluded}
	}

	score := Cosine(vector, template.MeanVector(usable))
	return Decision{
		Score:    score,
		Verdict:  e.Classify(score, pasteFlag),
		Compared: len(usable),
		Excluded: excluded,
	}
}

// Classify maps a score to a verdict.
func (e *Engine) Classify(score float64, pasteFlag bool) model.Verdict {
	switch {
	case pasteFlag:
		return model.VerdictSuspiciousPaste
	case score >= e.thresholds.Accept:
		return model.VerdictAccepted
	case score >= e.thresholds.Review:
		return model.VerdictReview
	default:
		return model.VerdictRejected
	}
}

// Cosine returns the cosine similarity of a and b, or 0 when either has zero
// norm, the lengths differ or the result is not finite.
func Cosine(a, b features.Vector) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return 0
	}
	return c
}
