package model_test

import (
	"encoding/json"
	"testing"

	model "github.com/okian/keyguard/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestKeyEvent(t *testing.T) {
	convey.Convey("Given key events", t, func() {
		convey.Convey("When classifying event types", func() {
			convey.So(model.KeyEvent{Type: model.KeyDown}.IsKey(), convey.ShouldBeTrue)
			convey.So(model.KeyEvent{Type: model.KeyUp}.IsKey(), convey.ShouldBeTrue)
			convey.So(model.KeyEvent{Type: model.Paste}.IsKey(), convey.ShouldBeFalse)
			convey.So(model.KeyEvent{Type: model.Blur}.IsKey(), convey.ShouldBeFalse)
		})

		convey.Convey("When checking printable keydowns", func() {
			convey.Convey("Then single visible characters count", func() {
				convey.So(model.KeyEvent{Type: model.KeyDown, Key: "a"}.Printable(), convey.ShouldBeTrue)
				convey.So(model.KeyEvent{Type: model.KeyDown, Key: "é"}.Printable(), convey.ShouldBeTrue)
				convey.So(model.KeyEvent{Type: model.KeyDown, Key: " "}.Printable(), convey.ShouldBeTrue)
			})

			convey.Convey("And named keys and keyups do not", func() {
				convey.So(model.KeyEvent{Type: model.KeyDown, Key: "Shift"}.Printable(), convey.ShouldBeFalse)
				convey.So(model.KeyEvent{Type: model.KeyDown, Key: ""}.Printable(), convey.ShouldBeFalse)
				convey.So(model.KeyEvent{Type: model.KeyUp, Key: "a"}.Printable(), convey.ShouldBeFalse)
			})
		})

		convey.Convey("When decoding client JSON", func() {
			raw := `[{"type":"keydown","key":"h","ts":1000.5},{"type":"paste","clipboardLength":500,"textLen":520},{"type":"keyup"}]`
			var events []model.KeyEvent
			err := json.Unmarshal([]byte(raw), &events)

			convey.Convey("Then optional fields should map to nil or values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(events, convey.ShouldHaveLength, 3)
				convey.So(*events[0].TS, convey.ShouldEqual, 1000.5)
				convey.So(events[1].TS, convey.ShouldBeNil)
				convey.So(*events[1].ClipboardLength, convey.ShouldEqual, 500)
				convey.So(*events[1].TextLen, convey.ShouldEqual, 520)
				convey.So(events[2].Key, convey.ShouldEqual, "")
			})
		})

		convey.Convey("When using Ptr", func() {
			p := model.Ptr(12.5)
			convey.So(*p, convey.ShouldEqual, 12.5)
		})
	})
}
