package features

import (
	"math"

	"github.com/okian/keyguard/internal/domain/model"
)

const (
	// PauseThreshold separates ordinary inter-key gaps from hesitation pauses (ms).
	PauseThreshold = 200.0

	// sampleLimit bounds the raw hold/digraph arrays kept in meta.
	sampleLimit = 32

	timeScale   = 2000.0
	logCPMScale = 10.0
)

// slotScale divides the first five slots before L2 normalization.
var slotScale = [...]float64{timeScale, timeScale, timeScale, timeScale, logCPMScale} //nolint:gochecknoglobals // fixed scaling table

// Result is the output of Extract.
type Result struct {
	Vector    Vector
	PasteFlag bool
	// Meta is nil for empty input.
	Meta *model.SampleMeta
}

// Extract derives the feature vector, paste flag and diagnostics from a raw
// event stream. It is pure and safe for concurrent use.
func Extract(events []model.KeyEvent) Result {
	norm, skipped := Normalize(events)
	if len(norm) == 0 {
		res := Result{Vector: Zero()}
		if skipped > 0 {
			res.Meta = &model.SampleMeta{SkippedEvents: skipped, SampleHoldTimes: []float64{}, SampleDDTimes: []float64{}}
		}
		return res
	}

	var kds, kus []Event
	meta := &model.SampleMeta{SkippedEvents: skipped}
	explicitPaste := false
	for _, e := range norm {
		switch e.Type {
		case model.KeyDown:
			kds = append(kds, e)
			if e.Printable() {
				meta.Chars++
			}
		case model.KeyUp:
			kus = append(kus, e)
		case model.Paste:
			explicitPaste = true
		case model.Blur:
			meta.BlurCount++
		case model.Focus:
			meta.FocusCount++
		}
	}

	holds := holdTimes(kds, kus)
	meta.HoldSamples = len(holds)
	if len(holds) == 0 {
		holds = []float64{0}
	}
	dds := digraphLatencies(kds)
	if len(dds) == 0 {
		dds = []float64{0}
	}

	meta.MedianHold = median(holds)
	meta.MADHold = mad(holds, meta.MedianHold)
	meta.MedianDD = median(dds)
	meta.MADDD = mad(dds, meta.MedianDD)

	meta.KeyEvents = len(kds) + len(kus)
	meta.DurationMS = norm[len(norm)-1].RTS - norm[0].RTS
	if meta.DurationMS > 0 {
		meta.CPM = finiteOrZero(float64(meta.KeyEvents) / meta.DurationMS * 60000)
	}
	for _, d := range dds {
		if d > PauseThreshold {
			meta.Pauses++
		}
	}

	pasteFlag := explicitPaste || clipboardHeuristic(norm, meta.KeyEvents) || textGrowthHeuristic(norm, meta.KeyEvents)
	meta.PasteDetectedExplicit = explicitPaste
	meta.PasteDetectedHeuristic = pasteFlag && !explicitPaste
	meta.SampleHoldTimes = head(holds, sampleLimit)
	meta.SampleDDTimes = head(dds, sampleLimit)

	vec := make(Vector, Dim)
	vec[SlotMedianHold] = meta.MedianHold
	vec[SlotMADHold] = meta.MADHold
	vec[SlotMedianDD] = meta.MedianDD
	vec[SlotMADDD] = meta.MADDD
	vec[SlotLogCPM] = math.Log1p(meta.CPM)
	vec[SlotPauses] = float64(meta.Pauses)
	vec[SlotHoldSamples] = float64(meta.HoldSamples)
	vec[SlotHoldDDRatio] = safeDiv(meta.MedianHold, meta.MedianDD)
	for i, s := range slotScale {
		vec[i] /= s
	}
	for i := range vec {
		vec[i] = finiteOrZero(vec[i])
	}

	return Result{Vector: vec.Normalized(), PasteFlag: pasteFlag, Meta: meta}
}

// holdTimes pairs each keydown with the next unconsumed keyup at or after it,
// by position only. Keyups that precede the keydown are consumed unmatched.
func holdTimes(kds, kus []Event) []float64 {
	holds := make([]float64, 0, len(kds))
	j := 0
	for _, kd := range kds {
		for j < len(kus) && kus[j].RTS < kd.RTS {
			j++
		}
		if j >= len(kus) {
			break
		}
		holds = append(holds, math.Max(0, kus[j].RTS-kd.RTS))
		j++
	}
	return holds
}

func digraphLatencies(kds []Event) []float64 {
	if len(kds) < 2 {
		return nil
	}
	dds := make([]float64, 0, len(kds)-1)
	for i := 1; i < len(kds); i++ {
		dds = append(dds, math.Max(0, kds[i].RTS-kds[i-1].RTS))
	}
	return dds
}

// clipboardHeuristic fires when a clipboard insertion dwarfs the typed volume.
func clipboardHeuristic(events []Event, keyEvents int) bool {
	largest := 0
	for _, e := range events {
		if e.ClipboardLength != nil && *e.ClipboardLength > largest {
			largest = *e.ClipboardLength
		}
	}
	return float64(largest) > math.Max(5, 3*float64(keyEvents))
}

// textGrowthHeuristic fires when consecutive textLen samples jump by more than
// keystroke volume can explain.
func textGrowthHeuristic(events []Event, keyEvents int) bool {
	limit := math.Max(10, 5*float64(keyEvents))
	prev := -1
	for _, e := range events {
		if e.TextLen == nil {
			continue
		}
		if prev >= 0 && float64(*e.TextLen-prev) > limit {
			return true
		}
		prev = *e.TextLen
	}
	return false
}
