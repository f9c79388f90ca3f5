// Package repository persists enrollment samples, templates, and
// verification decisions.
package repository

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/template"
)

// Driver names.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Store provides read/write access to enrollment and verification state.
type Store interface {
	// AddSample appends a pending enrollment sample and returns the number of
	// pending samples for the identity after the append.
	AddSample(ctx context.Context, s model.Sample) (int, error)
	// Samples returns the pending samples for identity in insertion order.
	Samples(ctx context.Context, identity string) ([]model.Sample, error)
	// ClearSamples drops the identity's pending samples named by ids, or all
	// of them when no ids are given. Unknown ids are ignored.
	ClearSamples(ctx context.Context, identity string, ids ...string) error

	// ReplaceTemplates swaps the identity's templates for recs.
	ReplaceTemplates(ctx context.Context, identity string, recs []template.Record) error
	// Templates returns a copy of the identity's templates. Callers may keep
	// the slice; later writes do not affect it.
	Templates(ctx context.Context, identity string) ([]template.Record, error)

	// RecordVerification stores a verification decision.
	RecordVerification(ctx context.Context, v model.Verification) error
	// Verification returns a stored decision or ErrNotFound.
	Verification(ctx context.Context, id string) (model.Verification, error)

	// Profile summarizes identity. Returns ErrNotFound when the identity has
	// neither samples nor templates.
	Profile(ctx context.Context, identity string) (model.Profile, error)

	// Count returns the number of identities holding at least one template.
	Count(ctx context.Context) int

	Close() error
}

// NewID returns a lexically sortable unique id.
func NewID() string {
	return ulid.Make().String()
}

// buildProfile derives a Profile from pending samples and templates.
func buildProfile(identity string, pending int, recs []template.Record, updated time.Time) (model.Profile, error) {
	if pending == 0 && len(recs) == 0 {
		return model.Profile{}, ErrNotFound
	}
	p := model.Profile{
		Identity:       identity,
		State:          model.StateEnrolling,
		PendingSamples: pending,
		Templates:      len(recs),
		UpdatedAt:      updated,
	}
	if len(recs) > 0 {
		p.State = model.StateEnrolled
		latest := recs[len(recs)-1]
		p.ModelVersion = latest.ModelVersion
		if latest.Scalars != nil {
			p.MeanHold = latest.Scalars.MeanHold
			p.MeanDD = latest.Scalars.MeanDD
		}
	}
	return p, nil
}

func since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
