package scoring_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/okian/keyguard/internal/domain/features"
	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/scoring"
)

func genVector() gopter.Gen {
	return gen.SliceOfN(features.Dim, gen.Float64Range(0, 1))
}

func toVectors(raw [][]float64) []features.Vector {
	out := make([]features.Vector, len(raw))
	for i, r := range raw {
		out[i] = features.Vector(r)
	}
	return out
}

func TestDecideProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	engine := scoring.NewEngine()

	properties.Property("shuffling templates does not change the score", prop.ForAll(
		func(live []float64, raw [][]float64, seed int64) bool {
			templates := toVectors(raw)
			shuffled := append([]features.Vector(nil), templates...)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			a := engine.Decide(live, templates, false)
			b := engine.Decide(live, shuffled, false)
			return math.Abs(a.Score-b.Score) <= 1e-12 && a.Verdict == b.Verdict
		},
		genVector(),
		gen.SliceOf(genVector()),
		gen.Int64(),
	))

	properties.Property("paste always yields suspicious_paste when a template exists", prop.ForAll(
		func(live []float64, raw [][]float64) bool {
			templates := append(toVectors(raw), features.Vector(live))
			return engine.Decide(live, templates, true).Verdict == model.VerdictSuspiciousPaste
		},
		genVector(),
		gen.SliceOf(genVector()),
	))

	properties.Property("no templates yields zero and no_template for any vector", prop.ForAll(
		func(live []float64, paste bool) bool {
			d := engine.Decide(live, nil, paste)
			return d.Score == 0 && d.Verdict == model.VerdictNoTemplate
		},
		gen.SliceOf(gen.Float64Range(-10, 10)),
		gen.Bool(),
	))

	properties.Property("scores of non-negative vectors stay within [0,1]", prop.ForAll(
		func(live []float64, raw [][]float64) bool {
			s := engine.Decide(live, toVectors(raw), false).Score
			return s >= 0 && s <= 1+1e-12
		},
		genVector(),
		gen.SliceOf(genVector()),
	))

	properties.TestingRun(t)
}
