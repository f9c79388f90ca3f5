package features

import "math"

// Dim is the length of every feature vector produced by Extract.
const Dim = 64

// Fixed slots of the feature vector. Slots from SlotReserved on are zero.
const (
	SlotMedianHold = iota
	SlotMADHold
	SlotMedianDD
	SlotMADDD
	SlotLogCPM
	SlotPauses
	SlotHoldSamples
	SlotHoldDDRatio
	SlotReserved
)

// Vector is an ordered numeric feature array.
type Vector []float64

// Zero returns the all-zero vector of length Dim.
func Zero() Vector { return make(Vector, Dim) }

// Norm returns the Euclidean norm. It may overflow to +Inf for vectors
// whose components are near the float64 limit.
func (v Vector) Norm() float64 {
	peak := v.peak()
	if peak == 0 || !isFinite(peak) {
		return peak
	}
	return peak * v.scaledNorm(peak)
}

// Normalized returns a unit-length copy, or a zero copy when the norm is 0
// or a component is not finite.
func (v Vector) Normalized() Vector {
	out := make(Vector, len(v))
	peak := v.peak()
	if peak == 0 || !isFinite(peak) {
		return out
	}
	n := v.scaledNorm(peak)
	for i, x := range v {
		out[i] = x / peak / n
	}
	return out
}

func (v Vector) peak() float64 {
	var peak float64
	for _, x := range v {
		if math.IsNaN(x) {
			return x
		}
		peak = math.Max(peak, math.Abs(x))
	}
	return peak
}

// scaledNorm is the norm of v/peak, which cannot overflow.
func (v Vector) scaledNorm(peak float64) float64 {
	var sum float64
	for _, x := range v {
		r := x / peak
		sum += r * r
	}
	return math.Sqrt(sum)
}

// Clone returns an independent copy.
func (v Vector) Clone() Vector {
	return append(Vector(nil), v...)
}
