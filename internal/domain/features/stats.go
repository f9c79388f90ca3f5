package features

import (
	"math"
	"sort"
)

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return s[mid-1] + (s[mid]-s[mid-1])/2
}

// mad is the median absolute deviation around the median.
func mad(xs []float64, med float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	dev := make([]float64, len(xs))
	for i, x := range xs {
		dev[i] = math.Abs(x - med)
	}
	return median(dev)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	// running mean stays finite for finite inputs
	var m float64
	for i, x := range xs {
		m += (x - m) / float64(i+1)
	}
	return m
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return finiteOrZero(a / b)
}

func finiteOrZero(x float64) float64 {
	if !isFinite(x) {
		return 0
	}
	return x
}

func head(xs []float64, n int) []float64 {
	if len(xs) > n {
		xs = xs[:n]
	}
	return append([]float64{}, xs...)
}
