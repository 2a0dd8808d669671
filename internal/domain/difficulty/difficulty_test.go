package difficulty_test

import (
	"errors"
	"math"
	"testing"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/difficulty"
	. "github.com/smartystreets/goconvey/convey"
)

func mustController(p difficulty.Params) *difficulty.Controller {
	c, err := difficulty.NewController(p)
	if err != nil {
		panic(err)
	}
	return c
}

func TestContinuousRule(t *testing.T) {
	Convey("Given the default controller", t, func() {
		c := mustController(difficulty.DefaultParams())

		Convey("Over-performance raises beta by rate·(observed−target)", func() {
			d, err := c.Adjust(difficulty.Input{BetaOld: 0.5, ObservedRate: 1})
			So(err, ShouldBeNil)
			So(d.BetaNew, ShouldAlmostEqual, 0.53, 1e-12)
			So(d.Rule, ShouldBeEmpty)
			So(d.Label, ShouldEqual, difficulty.LabelMedium)
		})

		Convey("Under-performance lowers beta", func() {
			d, err := c.Adjust(difficulty.Input{BetaOld: 0.5, ObservedRate: 0.2})
			So(err, ShouldBeNil)
			So(d.BetaNew, ShouldAlmostEqual, 0.45, 1e-12)
		})

		Convey("Hitting the target keeps beta", func() {
			d, _ := c.Adjust(difficulty.Input{BetaOld: 0.42, ObservedRate: 0.7})
			So(d.BetaNew, ShouldAlmostEqual, 0.42, 1e-12)
		})

		Convey("Results are always clamped to the configured bounds", func() {
			for beta := -1.0; beta <= 2.0; beta += 0.1 {
				for rate := 0.0; rate <= 1.0; rate += 0.25 {
					d, err := c.Adjust(difficulty.Input{BetaOld: beta, ObservedRate: rate})
					So(err, ShouldBeNil)
					So(d.BetaNew, ShouldBeBetweenOrEqual, 0.1, 1.0)
				}
			}
		})

		Convey("The controller is deterministic", func() {
			in := difficulty.Input{BetaOld: 0.33, ObservedRate: 0.9}
			a, _ := c.Adjust(in)
			b, _ := c.Adjust(in)
			So(a, ShouldResemble, b)
		})

		Convey("Invalid inputs are rejected", func() {
			_, err := c.Adjust(difficulty.Input{BetaOld: math.NaN(), ObservedRate: 0.5})
			So(errors.Is(err, difficulty.ErrInvalidInput), ShouldBeTrue)
			_, err = c.Adjust(difficulty.Input{BetaOld: 0.5, ObservedRate: 1.5})
			So(errors.Is(err, difficulty.ErrInvalidInput), ShouldBeTrue)
		})
	})
}

func TestRuleOverride(t *testing.T) {
	Convey("Given a controller with rules enabled", t, func() {
		p := difficulty.DefaultParams()
		p.RulesEnabled = true
		c := mustController(p)

		Convey("A failure streak forces a fixed step down", func() {
			d, _ := c.Adjust(difficulty.Input{BetaOld: 0.5, ObservedRate: 0.9, FailStreak: 3})
			So(d.BetaNew, ShouldAlmostEqual, 0.4, 1e-12)
			So(d.Rule, ShouldEqual, difficulty.RuleFailureStreak)
		})

		Convey("Five of the last eight with a latest success forces a step up", func() {
			d, _ := c.Adjust(difficulty.Input{BetaOld: 0.5, ObservedRate: 0.6, RecentSuccesses: 5, LastSuccess: true})
			So(d.BetaNew, ShouldAlmostEqual, 0.6, 1e-12)
			So(d.Rule, ShouldEqual, difficulty.RuleSuccessStreak)
		})

		Convey("Without a matching pattern the continuous rule applies", func() {
			d, _ := c.Adjust(difficulty.Input{BetaOld: 0.5, ObservedRate: 0.6, FailStreak: 2, RecentSuccesses: 4, LastSuccess: true})
			So(d.Rule, ShouldBeEmpty)
			So(d.BetaNew, ShouldAlmostEqual, 0.49, 1e-12)
		})

		Convey("Rule steps are clamped too", func() {
			d, _ := c.Adjust(difficulty.Input{BetaOld: 0.12, ObservedRate: 0, FailStreak: 10})
			So(d.BetaNew, ShouldEqual, 0.1)
		})

		Convey("With rules disabled the same pattern is ignored", func() {
			plain := mustController(difficulty.DefaultParams())
			d, _ := plain.Adjust(difficulty.Input{BetaOld: 0.5, ObservedRate: 0.9, FailStreak: 3})
			So(d.Rule, ShouldBeEmpty)
			So(d.BetaNew, ShouldAlmostEqual, 0.52, 1e-12)
		})
	})
}

func TestLabels(t *testing.T) {
	Convey("Labels partition the range into four ordered bins", t, func() {
		So(difficulty.Label(0.1), ShouldEqual, difficulty.LabelEasy)
		So(difficulty.Label(difficulty.EasyMax-1e-9), ShouldEqual, difficulty.LabelEasy)
		So(difficulty.Label(difficulty.EasyMax), ShouldEqual, difficulty.LabelMedium)
		So(difficulty.Label(difficulty.MediumMax), ShouldEqual, difficulty.LabelHard)
		So(difficulty.Label(difficulty.HardMax), ShouldEqual, difficulty.LabelExpert)
		So(difficulty.Label(1.0), ShouldEqual, difficulty.LabelExpert)

		So(difficulty.LabelIndex(difficulty.LabelEasy), ShouldEqual, 0)
		So(difficulty.LabelIndex(difficulty.LabelExpert), ShouldEqual, 3)
		So(difficulty.LabelIndex("unknown"), ShouldEqual, 0)
	})
}

func TestParamsValidation(t *testing.T) {
	Convey("Invalid params are rejected", t, func() {
		p := difficulty.DefaultParams()
		p.BetaMin, p.BetaMax = 0.8, 0.2
		_, err := difficulty.NewController(p)
		So(errors.Is(err, difficulty.ErrInvalidParams), ShouldBeTrue)

		p = difficulty.DefaultParams()
		p.Target = 1
		_, err = difficulty.NewController(p)
		So(errors.Is(err, difficulty.ErrInvalidParams), ShouldBeTrue)

		p = difficulty.DefaultParams()
		p.RulesEnabled = true
		p.Step = 0
		_, err = difficulty.NewController(p)
		So(errors.Is(err, difficulty.ErrInvalidParams), ShouldBeTrue)
	})
}
