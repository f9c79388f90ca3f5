// Package template aggregates enrollment samples into reference templates
// and converts templates to and from their stored forms.
package template

import (
	"github.com/okian/keyguard/internal/domain/features"
	"github.com/okian/keyguard/internal/domain/model"
)

// Template is the reference biometric profile for one identity.
type Template struct {
	// Vector is the element-wise mean of the sample feature vectors. Nil when
	// no sample produced features.
	Vector features.Vector
	// Scalars holds the mean hold and mean digraph times. Either may be nil.
	Scalars  features.Scalars
	NSamples int
}

// Aggregate combines enrollment samples into a Template. It returns false
// when there is nothing to aggregate: no samples, or only samples without a
// single timestamped event.
func Aggregate(samples [][]model.KeyEvent) (Template, bool) {
	if len(samples) == 0 {
		return Template{}, false
	}

	var (
		vectors     []features.Vector
		holds, dds  []float64
		contributed int
	)
	for _, events := range samples {
		if norm, _ := features.Normalize(events); len(norm) == 0 {
			continue
		}
		contributed++

		if res := features.Extract(events); res.Vector.Norm() > 0 {
			vectors = append(vectors, res.Vector)
		}
		s := features.ScalarStats(events)
		if s.MeanHold != nil {
			holds = append(holds, *s.MeanHold)
		}
		if s.MeanDD != nil {
			dds = append(dds, *s.MeanDD)
		}
	}
	if contributed == 0 {
		return Template{}, false
	}

	return Template{
		Vector:   MeanVector(vectors),
		Scalars:  features.Scalars{MeanHold: meanOrNil(holds), MeanDD: meanOrNil(dds)},
		NSamples: contributed,
	}, true
}

// MeanVector averages vectors element-wise. All vectors must share a length;
// it returns nil for an empty input.
func MeanVector(vectors []features.Vector) features.Vector {
	if len(vectors) == 0 {
		return nil
	}
	out := make(features.Vector, len(vectors[0]))
	for _, v := range vectors {
		for i := range out {
			out[i] += v[i]
		}
	}
	n := float64(len(vectors))
	for i := range out {
		out[i] /= n
	}
	return out
}

func meanOrNil(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	var m float64
	for i, x := range xs {
		m += (x - m) / float64(i+1)
	}
	return &m
}
