package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLogger(t *testing.T) {
	Convey("Given a logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(InitWithWriter(&buf), ShouldBeNil)
		ctx := context.Background()

		Convey("Info records carry fields and a source location", func() {
			Get().Info(ctx, "attempt processed", String("player", "p1"), Float64("beta", 0.55))
			out := buf.String()
			So(out, ShouldContainSubstring, "attempt processed")
			So(out, ShouldContainSubstring, "player=p1")
			So(out, ShouldContainSubstring, "beta=0.55")
			So(out, ShouldContainSubstring, "source=")
		})

		Convey("Named loggers nest their component name", func() {
			Named("matchmaking").Named("scheduler").Warn(ctx, "tick skipped", Bool("busy", true))
			So(buf.String(), ShouldContainSubstring, "component=matchmaking.scheduler")
			So(buf.String(), ShouldContainSubstring, "busy=true")
		})

		Convey("Debug is filtered at the default level", func() {
			Get().Debug(ctx, "hidden")
			So(buf.String(), ShouldNotContainSubstring, "hidden")

			So(SetLevelString("debug"), ShouldBeNil)
			Get().Debug(ctx, "visible", Duration("wait", time.Second))
			So(buf.String(), ShouldContainSubstring, "visible")
		})

		Convey("Errors are logged under the error key", func() {
			Get().Error(ctx, "publish failed", Error(errors.New("broker down")))
			So(buf.String(), ShouldContainSubstring, `error="broker down"`)
		})

		Convey("Unknown levels are rejected", func() {
			So(SetLevelString("verbose"), ShouldNotBeNil)
			So(SetLevelString("WARNING"), ShouldBeNil)
		})

		Convey("A nil writer is rejected", func() {
			So(InitWithWriter(nil), ShouldNotBeNil)
		})

		Reset(func() {
			_ = SetLevelString("info")
			So(Sync(), ShouldBeNil)
		})
	})
}
