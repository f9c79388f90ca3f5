package scoring

import (
	"math"

	"github.com/okian/keyguard/internal/domain/features"
)

// Weights of the scalar similarity variant.
const (
	scalarHoldWeight = 0.6
	scalarDDWeight   = 0.4
	scalarScale      = 100
)

// ScalarSimilarity scores live scalar statistics against a scalar template
// on a 0-100 scale. ok is false when any operand is undefined.
func ScalarSimilarity(live, tmpl features.Scalars) (score int, ok bool) {
	if live.MeanHold == nil || live.MeanDD == nil || tmpl.MeanHold == nil || tmpl.MeanDD == nil {
		return 0, false
	}
	dHold := relDiff(*live.MeanHold, *tmpl.MeanHold)
	dDD := relDiff(*live.MeanDD, *tmpl.MeanDD)
	sim := math.Max(0, 1-(scalarHoldWeight*dHold+scalarDDWeight*dDD))
	return int(math.RoundToEven(sim * scalarScale)), true
}

// relDiff is |x-ref|/ref, using 1 as the denominator when ref is 0.
func relDiff(x, ref float64) float64 {
	den := ref
	if den == 0 {
		den = 1
	}
	return math.Abs(x-ref) / den
}
