package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When a manager is created with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10}),
				WithConstLabels(map[string]string{"instance": "a"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors are registered under the namespace", func() {
				m.attempts.WithLabelValues("processed").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_unit_attempts_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetValue(), ShouldNotBeEmpty)
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("Registering the same names twice panics", func() {
			NewManager(WithPrometheusRegistry(registry))
			So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("Attempt outcomes are counted per label", func() {
			before := testutil.ToFloat64(globalManager.attempts.WithLabelValues("replayed"))
			RecordAttempt("replayed", 3)
			RecordAttempt("replayed", -1)
			So(testutil.ToFloat64(globalManager.attempts.WithLabelValues("replayed")), ShouldEqual, before+2)
		})

		Convey("An empty rule is reported as continuous", func() {
			before := testutil.ToFloat64(globalManager.difficultyChanges.WithLabelValues("continuous"))
			RecordDifficultyChange("")
			So(testutil.ToFloat64(globalManager.difficultyChanges.WithLabelValues("continuous")), ShouldEqual, before+1)
		})

		Convey("Gauges reflect the last value", func() {
			UpdateMatchmakingQueueSize(7)
			UpdateActiveSessions(3)
			UpdateOutboxSize(11)
			UpdateRealtimeClients(2)
			So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
			So(testutil.ToFloat64(globalManager.activeSessions), ShouldEqual, 3)
			So(testutil.ToFloat64(globalManager.outboxSize), ShouldEqual, 11)
			So(testutil.ToFloat64(globalManager.realtimeClients), ShouldEqual, 2)
		})

		Convey("The remaining recorders do not panic", func() {
			So(func() {
				RecordLockRetry()
				RecordComputeFallback("timeout")
				RecordSummaryRebuild()
				RecordAuditPublished("ok")
				RecordOutboxDropped()
				RecordTick("ran", 4)
				RecordTick("skipped", 0)
				RecordMatchCreated("queue", 0.95)
				RecordNoMatch(2)
				RecordSessionResolved("submitted")
				RecordChallenge("accepted")
				RecordRealtimeEvent("dropped")
				RecordHTTPRequest("attempts", "POST", "200", 12)
				RecordErrorByComponent("scheduler", "panic")
			}, ShouldNotPanic)
		})

		Convey("The registry exposes the service namespace", func() {
			families, err := GetRegistry().Gather()
			So(err, ShouldBeNil)
			So(len(families), ShouldBeGreaterThan, 0)
			for _, f := range families {
				So(strings.HasPrefix(f.GetName(), "puzzcode_engine_"), ShouldBeTrue)
			}
		})
	})
}
