// Package features turns captured key-event streams into fixed-length
// biometric feature vectors.
package features

import (
	"math"
	"sort"

	"github.com/okian/keyguard/internal/domain/model"
)

// Event is a KeyEvent annotated with its time relative to the first event.
type Event struct {
	model.KeyEvent
	TS  float64
	RTS float64
}

// Normalize orders events by timestamp (stable, ties keep input order) and
// annotates each with RTS = TS - TS[0]. Events without a finite timestamp,
// or whose RTS overflows, are dropped and counted in skipped. The input slice
// is not modified.
func Normalize(events []model.KeyEvent) (out []Event, skipped int) {
	out = make([]Event, 0, len(events))
	for _, e := range events {
		if e.TS == nil || !isFinite(*e.TS) {
			skipped++
			continue
		}
		out = append(out, Event{KeyEvent: e, TS: *e.TS})
	}
	if len(out) == 0 {
		return out, skipped
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].TS < out[j].TS })

	first := out[0].TS
	kept := out[:0]
	for _, e := range out {
		e.RTS = e.TS - first
		if !isFinite(e.RTS) {
			skipped++
			continue
		}
		kept = append(kept, e)
	}
	return kept, skipped
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
