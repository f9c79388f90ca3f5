package template

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/okian/keyguard/internal/domain/features"
)

const float32Size = 4

// Record is a template row as persisted by a store. At least one of
// Embedding and Scalars is set.
type Record struct {
	ID           string
	Identity     string
	Embedding    []byte
	Scalars      *features.Scalars
	NSamples     int
	ModelVersion string
	CreatedAt    time.Time
}

// NewRecord converts a Template into its stored form.
func NewRecord(identity, modelVersion string, t Template) Record {
	r := Record{
		Identity:     identity,
		NSamples:     t.NSamples,
		ModelVersion: modelVersion,
		CreatedAt:    time.Now().UTC(),
	}
	if t.Vector != nil {
		r.Embedding = EncodeVector(t.Vector)
	}
	if t.Scalars.MeanHold != nil || t.Scalars.MeanDD != nil {
		s := t.Scalars
		r.Scalars = &s
	}
	return r
}

// EncodeVector serializes v as little-endian float32 values.
func EncodeVector(v features.Vector) []byte {
	buf := make([]byte, len(v)*float32Size)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*float32Size:], math.Float32bits(float32(x)))
	}
	return buf
}

// DecodeVector parses a little-endian float32 blob.
func DecodeVector(b []byte) (features.Vector, error) {
	if len(b) == 0 || len(b)%float32Size != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptEmbedding, len(b))
	}
	v := make(features.Vector, len(b)/float32Size)
	for i := range v {
		v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*float32Size:])))
	}
	return v, nil
}

// EncodeScalars serializes scalars as {"mean_hold":..,"mean_dd":..}.
func EncodeScalars(s features.Scalars) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeScalars parses the JSON scalar form.
func DecodeScalars(b []byte) (features.Scalars, error) {
	var s features.Scalars
	if err := json.Unmarshal(b, &s); err != nil {
		return features.Scalars{}, fmt.Errorf("%w: %v", ErrCorruptScalars, err)
	}
	return s, nil
}

// LegacyVector rebuilds a sparse vector from scalar-only templates: mean hold
// in slot 0, mean digraph in slot 2, L2-normalized. Values are not scaled the
// way Extract scales them, so similarity against these is lower fidelity.
func LegacyVector(s features.Scalars) (features.Vector, bool) {
	if s.MeanHold == nil && s.MeanDD == nil {
		return nil, false
	}
	v := features.Zero()
	if s.MeanHold != nil {
		v[features.SlotMedianHold] = *s.MeanHold
	}
	if s.MeanDD != nil {
		v[features.SlotMedianDD] = *s.MeanDD
	}
	return v.Normalized(), true
}

// ReferenceVectors turns stored rows into comparable vectors, preferring the
// embedding over the scalar form. Rows with neither usable form are counted
// in excluded.
func ReferenceVectors(rows []Record) (vectors []features.Vector, excluded int) {
	vectors = make([]features.Vector, 0, len(rows))
	for _, r := range rows {
		if len(r.Embedding) > 0 {
			if v, err := DecodeVector(r.Embedding); err == nil {
				vectors = append(vectors, v)
				continue
			}
		}
		if r.Scalars != nil {
			if v, ok := LegacyVector(*r.Scalars); ok {
				vectors = append(vectors, v)
				continue
			}
		}
		excluded++
	}
	return vectors, excluded
}
