package testevents

import (
	"context"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/pkg/logger"
)

// words feeds the synthetic sample texts.
var words = strings.Fields(`the quick brown fox jumps over lazy dog while seven
wizards quietly judge boxing matches and pack my box with five dozen liquor jugs
every morning before class we review notes write answers and check the results`)

// Typist is a synthetic typing rhythm. Two typists differ in their mean key
// hold and inter-key gap; samples from one typist vary only by jitter.
type Typist struct {
	ID       string  `json:"id"`
	MeanHold float64 `json:"mean_hold"`
	MeanGap  float64 `json:"mean_gap"`
	Seed     uint64  `json:"seed"`
}

// NewTypist draws a typist from r.
func NewTypist(r *rand.Rand) Typist {
	return Typist{
		ID:       uuid.NewString(),
		MeanHold: holdMin + r.Float64()*holdRange,
		MeanGap:  gapMin + r.Float64()*gapRange,
		Seed:     r.Uint64(),
	}
}

// Rand returns the typist's deterministic source for the given stream.
func (t Typist) Rand(stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(t.Seed, stream)) //nolint:gosec // synthetic data, not security sensitive
}

// Type renders text as paired keydown/keyup events in the typist's rhythm.
func (t Typist) Type(r *rand.Rand, text string) []model.KeyEvent {
	events := make([]model.KeyEvent, 0, 2*len(text))
	ts := sessionStart
	i := 0
	for _, ch := range text {
		key := string(ch)
		hold := jitter(r, t.MeanHold)
		events = append(events,
			model.KeyEvent{Type: model.KeyDown, Key: key, TS: model.Ptr(ts)},
			model.KeyEvent{Type: model.KeyUp, Key: key, TS: model.Ptr(ts + hold)},
		)

		gap := jitter(r, t.MeanGap)
		if i > 0 && i%pauseEvery == 0 {
			gap += pauseMin + r.Float64()*pauseRange
		}
		ts += gap
		i++
	}
	return events
}

// Paste types the first few characters of text and pastes the rest.
func (t Typist) Paste(r *rand.Rand, text string) []model.KeyEvent {
	typed := len(text) / 8
	events := t.Type(r, text[:typed])

	ts := sessionStart
	if n := len(events); n > 0 {
		ts = *events[n-1].TS + t.MeanGap
	}
	return append(events, model.KeyEvent{
		Type:            model.Paste,
		TS:              model.Ptr(ts),
		ClipboardLength: model.Ptr(len(text) - typed),
		TextLen:         model.Ptr(len(text)),
	})
}

// SampleText builds roughly n characters of lowercase words.
func SampleText(r *rand.Rand, n int) string {
	if n <= 0 {
		return ""
	}
	var b strings.Builder
	for b.Len() < n {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(words[r.IntN(len(words))])
	}
	return b.String()[:n]
}

// jitter draws a log-normal duration whose mean is mean, never below 5ms.
func jitter(r *rand.Rand, mean float64) float64 {
	return max(5, mean*math.Exp(jitterSigma*r.NormFloat64()-jitterSigma*jitterSigma/2))
}

// generateTypists creates the configured number of typists.
func generateTypists(ctx context.Context, config *Config, stats *Stats) []Typist {
	seed := config.Seed
	if seed == 0 {
		seed = rand.Uint64() //nolint:gosec // synthetic data
	}
	logger.Get().Info(ctx, "generating synthetic typists",
		logger.Int("typists", config.Typists),
		logger.Any("seed", seed),
	)

	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // synthetic data
	typists := make([]Typist, config.Typists)
	for i := range typists {
		typists[i] = NewTypist(r)
	}

	stats.TypistsGenerated = len(typists)
	return typists
}
