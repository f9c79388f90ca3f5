package testevents

import (
	"math/rand/v2"
	"testing"

	"github.com/okian/keyguard/internal/domain/features"
	"github.com/okian/keyguard/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTypist(t *testing.T) {
	Convey("Given a synthetic typist", t, func() {
		r := rand.New(rand.NewPCG(1, 2))
		typist := NewTypist(r)

		Convey("Then its rhythm should fall in the configured ranges", func() {
			So(typist.ID, ShouldNotBeEmpty)
			So(typist.MeanHold, ShouldBeBetweenOrEqual, holdMin, holdMin+holdRange)
			So(typist.MeanGap, ShouldBeBetweenOrEqual, gapMin, gapMin+gapRange)
		})

		Convey("When it types a sample", func() {
			sr := typist.Rand(0)
			text := SampleText(sr, 80)
			events := typist.Type(sr, text)

			Convey("Then every character should be a keydown/keyup pair", func() {
				So(text, ShouldHaveLength, 80)
				So(events, ShouldHaveLength, 160)
				for i := 0; i < len(events); i += 2 {
					So(events[i].Type, ShouldEqual, model.KeyDown)
					So(events[i+1].Type, ShouldEqual, model.KeyUp)
					So(events[i].Key, ShouldEqual, events[i+1].Key)
					So(*events[i+1].TS, ShouldBeGreaterThan, *events[i].TS)
				}
			})

			Convey("And keydowns should be in time order", func() {
				for i := 2; i < len(events); i += 2 {
					So(*events[i].TS, ShouldBeGreaterThan, *events[i-2].TS)
				}
			})

			Convey("And the extractor should count every character", func() {
				res := features.Extract(events)
				So(res.Meta.Chars, ShouldEqual, 80)
				So(res.Meta.KeyEvents, ShouldEqual, 160)
				So(res.PasteFlag, ShouldBeFalse)
			})
		})

		Convey("When the same stream is replayed", func() {
			a := typist.Type(typist.Rand(7), "hello world")
			b := typist.Type(typist.Rand(7), "hello world")

			Convey("Then the events should be identical", func() {
				So(a, ShouldResemble, b)
			})
		})

		Convey("When it pastes a sample", func() {
			text := SampleText(typist.Rand(3), 80)
			events := typist.Paste(typist.Rand(3), text)
			last := events[len(events)-1]

			Convey("Then the stream should end with a paste of the remainder", func() {
				So(last.Type, ShouldEqual, model.Paste)
				So(*last.ClipboardLength, ShouldEqual, 70)
				So(*last.TextLen, ShouldEqual, 80)
				So(features.Extract(events).PasteFlag, ShouldBeTrue)
			})
		})
	})

	Convey("Given SampleText", t, func() {
		r := rand.New(rand.NewPCG(9, 9))
		So(SampleText(r, 0), ShouldEqual, "")
		So(SampleText(r, -3), ShouldEqual, "")
		So(SampleText(r, 1), ShouldHaveLength, 1)
	})
}

func TestTally(t *testing.T) {
	Convey("Given a set of attempts", t, func() {
		attempts := []Attempt{
			{Scenario: ScenarioGenuine, Verdict: model.VerdictAccepted},
			{Scenario: ScenarioGenuine, Verdict: model.VerdictAccepted},
			{Scenario: ScenarioGenuine, Verdict: model.VerdictReview},
			{Scenario: ScenarioGenuine, Err: "timeout"},
			{Scenario: ScenarioImpostor, Verdict: model.VerdictRejected},
		}
		stats := &Stats{Verdicts: tally(attempts)}

		Convey("Then failed attempts should not be counted", func() {
			So(stats.Verdicts[ScenarioGenuine][model.VerdictAccepted], ShouldEqual, 2)
			So(stats.Verdicts[ScenarioGenuine][model.VerdictReview], ShouldEqual, 1)
			So(stats.Verdicts[ScenarioImpostor][model.VerdictRejected], ShouldEqual, 1)
		})

		Convey("Then rates should be percentages of counted attempts", func() {
			So(stats.Rate(ScenarioGenuine, model.VerdictAccepted), ShouldAlmostEqual, 200.0/3, 1e-9)
			So(stats.Rate(ScenarioImpostor, model.VerdictRejected), ShouldEqual, 100)
			So(stats.Rate(ScenarioPaste, model.VerdictSuspiciousPaste), ShouldEqual, 0)
		})
	})
}
