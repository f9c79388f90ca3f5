package features_test

import (
	"math"
	"testing"

	"github.com/okian/keyguard/internal/domain/features"
	"github.com/okian/keyguard/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// typed builds n keydown/keyup pairs starting at start, with a fixed hold and
// a fixed gap between consecutive keydowns.
func typed(n int, start, hold, gap float64) []model.KeyEvent {
	events := make([]model.KeyEvent, 0, 2*n)
	for i := 0; i < n; i++ {
		down := start + float64(i)*gap
		key := string(rune('a' + i%26))
		events = append(events,
			model.KeyEvent{Type: model.KeyDown, Key: key, TS: model.Ptr(down)},
			model.KeyEvent{Type: model.KeyUp, Key: key, TS: model.Ptr(down + hold)},
		)
	}
	return events
}

func TestNormalize(t *testing.T) {
	Convey("Given the event stream normalizer", t, func() {
		Convey("When the input is empty", func() {
			out, skipped := features.Normalize(nil)

			Convey("Then it should return an explicit empty result", func() {
				So(out, ShouldNotBeNil)
				So(out, ShouldBeEmpty)
				So(skipped, ShouldEqual, 0)
			})
		})

		Convey("When events arrive out of order with ties", func() {
			in := []model.KeyEvent{
				{Type: model.KeyUp, Key: "b", TS: model.Ptr(1030.0)},
				{Type: model.KeyDown, Key: "a", TS: model.Ptr(1000.0)},
				{Type: model.KeyDown, Key: "b", TS: model.Ptr(1010.0)},
				{Type: model.KeyUp, Key: "a", TS: model.Ptr(1010.0)},
			}
			out, skipped := features.Normalize(in)

			Convey("Then it should sort stably and compute relative times", func() {
				So(skipped, ShouldEqual, 0)
				So(out, ShouldHaveLength, 4)
				So(out[0].Key, ShouldEqual, "a")
				So(out[0].RTS, ShouldEqual, 0)
				So(out[1].Type, ShouldEqual, model.KeyDown)
				So(out[1].Key, ShouldEqual, "b")
				So(out[2].Type, ShouldEqual, model.KeyUp)
				So(out[2].Key, ShouldEqual, "a")
				So(out[1].RTS, ShouldEqual, 10)
				So(out[3].RTS, ShouldEqual, 30)
			})

			Convey("And the input should be left untouched", func() {
				So(in[0].Type, ShouldEqual, model.KeyUp)
				So(*in[0].TS, ShouldEqual, 1030.0)
			})
		})

		Convey("When some events lack a timestamp", func() {
			in := []model.KeyEvent{
				{Type: model.KeyDown, Key: "a", TS: model.Ptr(5.0)},
				{Type: model.Blur},
				{Type: model.KeyUp, Key: "a", TS: model.Ptr(9.0)},
			}
			out, skipped := features.Normalize(in)

			Convey("Then they should be skipped and counted", func() {
				So(out, ShouldHaveLength, 2)
				So(skipped, ShouldEqual, 1)
				So(out[1].RTS, ShouldEqual, 4)
			})
		})

		Convey("When timestamps are not finite or overflow the relative time", func() {
			in := []model.KeyEvent{
				{Type: model.KeyDown, Key: "a", TS: model.Ptr(-1e308)},
				{Type: model.KeyUp, Key: "a", TS: model.Ptr(1e308)},
				{Type: model.KeyDown, Key: "b", TS: model.Ptr(math.Inf(1))},
				{Type: model.KeyUp, Key: "b", TS: model.Ptr(math.NaN())},
			}
			out, skipped := features.Normalize(in)

			Convey("Then they should be skipped and counted", func() {
				So(out, ShouldHaveLength, 1)
				So(out[0].Key, ShouldEqual, "a")
				So(out[0].RTS, ShouldEqual, 0)
				So(skipped, ShouldEqual, 3)
			})
		})
	})
}

func TestExtract(t *testing.T) {
	Convey("Given the feature extractor", t, func() {
		Convey("When the input is empty", func() {
			res := features.Extract(nil)

			Convey("Then it should return the zero vector, no paste and no meta", func() {
				So(res.Vector, ShouldHaveLength, features.Dim)
				So(res.Vector.Norm(), ShouldEqual, 0)
				So(res.PasteFlag, ShouldBeFalse)
				So(res.Meta, ShouldBeNil)
			})
		})

		Convey("When every event is malformed", func() {
			res := features.Extract([]model.KeyEvent{{Type: model.KeyDown, Key: "a"}, {Type: model.KeyUp, Key: "a"}})

			Convey("Then the vector should be zero and the skips reported", func() {
				So(res.Vector.Norm(), ShouldEqual, 0)
				So(res.PasteFlag, ShouldBeFalse)
				So(res.Meta, ShouldNotBeNil)
				So(res.Meta.SkippedEvents, ShouldEqual, 2)
			})
		})

		Convey("When timestamps are extreme", func() {
			overflow := features.Extract([]model.KeyEvent{
				{Type: model.KeyDown, Key: "a", TS: model.Ptr(-1e308)},
				{Type: model.KeyUp, Key: "a", TS: model.Ptr(1e308)},
			})
			huge := features.Extract([]model.KeyEvent{
				{Type: model.KeyDown, Key: "a", TS: model.Ptr(0.0)},
				{Type: model.KeyDown, Key: "b", TS: model.Ptr(1e-300)},
				{Type: model.KeyUp, Key: "a", TS: model.Ptr(1.7e308)},
				{Type: model.KeyUp, Key: "b", TS: model.Ptr(1.7e308)},
			})

			Convey("Then every output should stay finite and the norm invariant hold", func() {
				for _, res := range []features.Result{overflow, huge} {
					n := res.Vector.Norm()
					So(n == 0 || math.Abs(n-1) < 1e-9, ShouldBeTrue)
					for _, x := range res.Vector {
						So(math.IsNaN(x) || math.IsInf(x, 0), ShouldBeFalse)
					}
					So(res.Meta, ShouldNotBeNil)
					for _, x := range []float64{res.Meta.MedianHold, res.Meta.MADHold, res.Meta.MedianDD, res.Meta.MADDD, res.Meta.CPM, res.Meta.DurationMS} {
						So(math.IsNaN(x) || math.IsInf(x, 0), ShouldBeFalse)
					}
				}
				So(overflow.Meta.SkippedEvents, ShouldEqual, 1)
				So(math.Abs(huge.Vector.Norm()-1), ShouldBeLessThan, 1e-9)
			})
		})

		Convey("When ten keys are typed with 100ms holds and 150ms digraphs", func() {
			res := features.Extract(typed(10, 1_700_000_000_000, 100, 150))

			Convey("Then the rhythm statistics should be exact", func() {
				So(res.PasteFlag, ShouldBeFalse)
				So(res.Meta.Pauses, ShouldEqual, 0)
				So(res.Meta.MedianHold, ShouldEqual, 100)
				So(res.Meta.MADHold, ShouldEqual, 0)
				So(res.Meta.MedianDD, ShouldEqual, 150)
				So(res.Meta.HoldSamples, ShouldEqual, 10)
				So(res.Meta.KeyEvents, ShouldEqual, 20)
				So(res.Meta.Chars, ShouldEqual, 10)
				So(res.Meta.DurationMS, ShouldEqual, 1450)
				So(res.Meta.CPM, ShouldAlmostEqual, 20.0/1450*60000, 1e-9)
				So(res.Meta.PasteDetectedExplicit, ShouldBeFalse)
				So(res.Meta.PasteDetectedHeuristic, ShouldBeFalse)
			})

			Convey("And the vector should be unit length with scaled slots", func() {
				So(res.Vector.Norm(), ShouldAlmostEqual, 1.0, 1e-9)
				So(res.Vector[features.SlotMedianHold]/res.Vector[features.SlotMedianDD], ShouldAlmostEqual, 100.0/150.0, 1e-9)
				So(res.Vector[features.SlotMADHold], ShouldEqual, 0)
				So(res.Vector[features.SlotPauses], ShouldEqual, 0)
				for i := features.SlotReserved; i < features.Dim; i++ {
					So(res.Vector[i], ShouldEqual, 0)
				}
			})
		})

		Convey("When the same rhythm is captured in seconds", func() {
			res := features.Extract(typed(10, 12.0, 0.1, 0.15))

			Convey("Then the median hold should be 0.1", func() {
				So(res.Meta.MedianHold, ShouldAlmostEqual, 0.1, 1e-9)
				So(res.Meta.Pauses, ShouldEqual, 0)
				So(res.PasteFlag, ShouldBeFalse)
			})
		})

		Convey("When a paste of 500 characters follows ten key events", func() {
			events := typed(5, 0, 100, 150)
			events = append(events, model.KeyEvent{Type: model.Paste, TS: model.Ptr(2000.0), ClipboardLength: model.Ptr(500)})
			res := features.Extract(events)

			Convey("Then the paste flag should be explicit", func() {
				So(res.PasteFlag, ShouldBeTrue)
				So(res.Meta.PasteDetectedExplicit, ShouldBeTrue)
				So(res.Meta.PasteDetectedHeuristic, ShouldBeFalse)
			})
		})

		Convey("When a large clipboard length appears without a paste event", func() {
			events := typed(5, 0, 100, 150)
			events[3].ClipboardLength = model.Ptr(31)
			res := features.Extract(events)

			Convey("Then the heuristic should fire above max(5, 3*key events)", func() {
				So(res.PasteFlag, ShouldBeTrue)
				So(res.Meta.PasteDetectedExplicit, ShouldBeFalse)
				So(res.Meta.PasteDetectedHeuristic, ShouldBeTrue)
			})

			Convey("And a clipboard length at the limit should not", func() {
				events[3].ClipboardLength = model.Ptr(30)
				So(features.Extract(events).PasteFlag, ShouldBeFalse)
			})
		})

		Convey("When the text length jumps between samples", func() {
			events := typed(2, 0, 80, 120)
			events[0].TextLen = model.Ptr(1)
			events[2].TextLen = model.Ptr(2)
			events[3].TextLen = model.Ptr(40)
			res := features.Extract(events)

			Convey("Then growth beyond max(10, 5*key events) should flag a paste", func() {
				So(res.PasteFlag, ShouldBeTrue)
				So(res.Meta.PasteDetectedHeuristic, ShouldBeTrue)
			})
		})

		Convey("When keys roll over", func() {
			events := []model.KeyEvent{
				{Type: model.KeyDown, Key: "a", TS: model.Ptr(0.0)},
				{Type: model.KeyDown, Key: "b", TS: model.Ptr(50.0)},
				{Type: model.KeyUp, Key: "b", TS: model.Ptr(120.0)},
				{Type: model.KeyUp, Key: "a", TS: model.Ptr(200.0)},
			}
			res := features.Extract(events)

			Convey("Then holds should pair by position, not by key", func() {
				So(res.Meta.SampleHoldTimes, ShouldResemble, []float64{120, 150})
				So(res.Meta.SampleDDTimes, ShouldResemble, []float64{50})
			})
		})

		Convey("When a keyup precedes every keydown", func() {
			events := []model.KeyEvent{
				{Type: model.KeyUp, Key: "x", TS: model.Ptr(0.0)},
				{Type: model.KeyDown, Key: "a", TS: model.Ptr(10.0)},
			}
			res := features.Extract(events)

			Convey("Then the placeholder hold keeps statistics defined", func() {
				So(res.Meta.HoldSamples, ShouldEqual, 0)
				So(res.Meta.MedianHold, ShouldEqual, 0)
				So(res.Meta.SampleHoldTimes, ShouldResemble, []float64{0})
				So(res.Meta.SampleDDTimes, ShouldResemble, []float64{0})
			})
		})

		Convey("When there are long pauses, blurs and focus changes", func() {
			events := typed(4, 0, 90, 400)
			events = append(events,
				model.KeyEvent{Type: model.Blur, TS: model.Ptr(500.0)},
				model.KeyEvent{Type: model.Focus, TS: model.Ptr(700.0)},
			)
			res := features.Extract(events)

			Convey("Then pauses over 200ms and window events should be counted", func() {
				So(res.Meta.Pauses, ShouldEqual, 3)
				So(res.Meta.BlurCount, ShouldEqual, 1)
				So(res.Meta.FocusCount, ShouldEqual, 1)
			})
		})

		Convey("When more than 32 holds are observed", func() {
			res := features.Extract(typed(40, 0, 100, 150))

			Convey("Then the stored samples should be truncated", func() {
				So(res.Meta.SampleHoldTimes, ShouldHaveLength, 32)
				So(res.Meta.SampleDDTimes, ShouldHaveLength, 32)
				So(res.Meta.HoldSamples, ShouldEqual, 40)
			})
		})
	})
}

func TestScalarStats(t *testing.T) {
	Convey("Given the lightweight scalar statistic", t, func() {
		Convey("When keys are typed with a steady rhythm", func() {
			s := features.ScalarStats(typed(6, 0, 100, 150))

			Convey("Then the means should match the rhythm", func() {
				So(s.MeanHold, ShouldNotBeNil)
				So(*s.MeanHold, ShouldEqual, 100)
				So(*s.MeanDD, ShouldEqual, 150)
			})
		})

		Convey("When keys roll over", func() {
			events := []model.KeyEvent{
				{Type: model.KeyDown, Key: "a", TS: model.Ptr(0.0)},
				{Type: model.KeyDown, Key: "b", TS: model.Ptr(50.0)},
				{Type: model.KeyUp, Key: "b", TS: model.Ptr(120.0)},
				{Type: model.KeyUp, Key: "a", TS: model.Ptr(200.0)},
			}
			s := features.ScalarStats(events)

			Convey("Then holds should pair by key identity", func() {
				So(*s.MeanHold, ShouldEqual, (70.0+200.0)/2)
			})
		})

		Convey("When only a single keydown is present", func() {
			s := features.ScalarStats([]model.KeyEvent{{Type: model.KeyDown, Key: "a", TS: model.Ptr(1.0)}})

			Convey("Then both fields should be undefined", func() {
				So(s.MeanHold, ShouldBeNil)
				So(s.MeanDD, ShouldBeNil)
			})
		})
	})
}

func TestVector(t *testing.T) {
	Convey("Given a vector", t, func() {
		v := features.Vector{3, 4}

		Convey("Then norm, normalization and clone should behave", func() {
			So(v.Norm(), ShouldEqual, 5)
			n := v.Normalized()
			So(n[0], ShouldAlmostEqual, 0.6, 1e-12)
			So(math.Abs(n.Norm()-1), ShouldBeLessThan, 1e-12)
			c := v.Clone()
			c[0] = 9
			So(v[0], ShouldEqual, 3)
			So(features.Vector{0, 0}.Normalized(), ShouldResemble, features.Vector{0, 0})
		})
	})
}
