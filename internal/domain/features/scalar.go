package features

import "github.com/okian/keyguard/internal/domain/model"

// Scalars is the lightweight per-sample statistic: mean hold and mean
// digraph time. A nil field means nothing was observed.
type Scalars struct {
	MeanHold *float64 `json:"mean_hold"`
	MeanDD   *float64 `json:"mean_dd"`
}

// ScalarStats computes Scalars from a raw event stream. Unlike Extract, holds
// pair a keyup with the latest pending keydown of the same key.
func ScalarStats(events []model.KeyEvent) Scalars {
	norm, _ := Normalize(events)

	var holds, dds []float64
	pending := make(map[string]float64)
	havePrev := false
	var prevDown float64
	for _, e := range norm {
		switch e.Type {
		case model.KeyDown:
			pending[e.Key] = e.RTS
			if havePrev {
				dds = append(dds, e.RTS-prevDown)
			}
			prevDown, havePrev = e.RTS, true
		case model.KeyUp:
			if down, ok := pending[e.Key]; ok {
				holds = append(holds, e.RTS-down)
				delete(pending, e.Key)
			}
		}
	}

	var s Scalars
	if len(holds) > 0 {
		m := mean(holds)
		s.MeanHold = &m
	}
	if len(dds) > 0 {
		m := mean(dds)
		s.MeanDD = &m
	}
	return s
}
