package progression_test

import (
	"testing"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/difficulty"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/progression"
	. "github.com/smartystreets/goconvey/convey"
)

func TestAward(t *testing.T) {
	Convey("Awards scale with label and streak", t, func() {
		So(progression.Award(difficulty.LabelEasy, 0), ShouldEqual, 50)
		So(progression.Award(difficulty.LabelExpert, 0), ShouldEqual, 100)
		So(progression.Award(difficulty.LabelMedium, 4), ShouldEqual, 75)
		So(progression.Award(difficulty.LabelHard, -3), ShouldEqual, 75)
	})
}

func TestRanks(t *testing.T) {
	Convey("Ranks follow the power curve over normalized experience", t, func() {
		So(progression.RankFor(0), ShouldEqual, "novice")
		So(progression.RankFor(-5), ShouldEqual, "novice")
		So(progression.RankFor(progression.MaxExp), ShouldEqual, "code_overlord")
		So(progression.RankFor(progression.MaxExp*10), ShouldEqual, "code_overlord")
		// (1/9)^1.6 ≈ 0.0296
		So(progression.RankFor(290), ShouldEqual, "novice")
		So(progression.RankFor(300), ShouldEqual, "apprentice")

		prev := 0
		for exp := 0; exp <= progression.MaxExp; exp += 100 {
			idx := progression.RankIndex(progression.RankFor(exp))
			So(idx, ShouldBeGreaterThanOrEqualTo, prev)
			prev = idx
		}
		So(progression.RankIndex("nobody"), ShouldEqual, 0)
	})
}

func TestApply(t *testing.T) {
	Convey("Given a fresh skill state", t, func() {
		s := model.SkillState{PlayerID: "p1", Successes: 1}

		Convey("A first success awards experience and an achievement", func() {
			out := progression.Apply(&s, difficulty.LabelEasy, true, 1)
			So(out.ExpDelta, ShouldEqual, 53)
			So(s.Exp, ShouldEqual, 53)
			So(out.Achievements, ShouldResemble, []string{"successes_1"})
			So(s.Achievements, ShouldEqual, 1)
			So(s.Rank, ShouldEqual, "novice")
		})

		Convey("A failure keeps experience", func() {
			s.Exp = 400
			out := progression.Apply(&s, difficulty.LabelEasy, false, 0)
			So(out.ExpDelta, ShouldEqual, 0)
			So(s.Exp, ShouldEqual, 400)
			So(s.Rank, ShouldEqual, "apprentice")
			So(out.RankChanged, ShouldBeFalse)
		})

		Convey("Experience is capped", func() {
			s.Exp = progression.MaxExp - 10
			s.Rank = progression.RankFor(s.Exp)
			out := progression.Apply(&s, difficulty.LabelExpert, true, 0)
			So(s.Exp, ShouldEqual, progression.MaxExp)
			So(out.ExpDelta, ShouldEqual, 10)
		})

		Convey("Crossing a threshold reports a rank change", func() {
			s.Exp = 280
			s.Rank = "novice"
			out := progression.Apply(&s, difficulty.LabelEasy, true, 0)
			So(out.RankChanged, ShouldBeTrue)
			So(out.Rank, ShouldEqual, "apprentice")
		})
	})

	Convey("Streak milestones unlock separately", t, func() {
		So(progression.Achievements(7, 5), ShouldResemble, []string{"streak_5"})
		So(progression.Achievements(10, 10), ShouldResemble, []string{"successes_10", "streak_10"})
		So(progression.Achievements(11, 3), ShouldBeEmpty)
	})
}

func TestBattleDeltas(t *testing.T) {
	Convey("Wagers are five percent of experience with a floor", t, func() {
		So(progression.Wager(0), ShouldEqual, progression.MinWager)
		So(progression.Wager(4000), ShouldEqual, 200)
	})

	Convey("The winner takes the pool", t, func() {
		d := progression.BattleDeltas(progression.BattleResult{
			Exp:       map[string]int{"a": 4000, "b": 1000},
			Winners:   []string{"a"},
			Completed: map[string]bool{"a": true},
		})
		// pool = 200 + 100; b also pays the no-code penalty.
		So(d["a"], ShouldEqual, 100)
		So(d["b"], ShouldEqual, -200)
	})

	Convey("Without winners everyone loses the stake", t, func() {
		d := progression.BattleDeltas(progression.BattleResult{
			Exp:       map[string]int{"a": 50, "b": 3000},
			Completed: map[string]bool{},
		})
		So(d["a"], ShouldEqual, -50)
		So(d["b"], ShouldEqual, -250)
	})

	Convey("A fixed wager replaces the default and winners split evenly", t, func() {
		d := progression.BattleDeltas(progression.BattleResult{
			Exp:        map[string]int{"a": 500, "b": 500, "c": 500},
			Winners:    []string{"a", "b"},
			Completed:  map[string]bool{"a": true, "b": true},
			FixedWager: 30,
		})
		So(d["a"], ShouldEqual, 15)
		So(d["b"], ShouldEqual, 15)
		So(d["c"], ShouldEqual, -130)
	})
}
