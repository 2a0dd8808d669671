// Package progression computes experience, rank tiers and achievements.
package progression

import (
	"fmt"
	"math"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/difficulty"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
)

// Experience bounds and the base award for a solved puzzle.
const (
	MaxExp      = 10_000
	BaseAward   = 50
	StreakBonus = 0.05
	rankPower   = 1.6
)

// Ranks, lowest first.
var Ranks = [...]string{
	"novice",
	"apprentice",
	"bronze_coder",
	"silver_coder",
	"gold_developer",
	"platinum_engineer",
	"diamond_hacker",
	"master_coder",
	"grandmaster_dev",
	"code_overlord",
}

// labelMultiplier is indexed by difficulty.LabelIndex.
var labelMultiplier = [...]float64{1, 1.25, 1.5, 2}

var (
	successMilestones = []int{1, 10, 25, 50, 100}
	streakMilestones  = []int{5, 10}
)

// thresholds[i] is the normalized experience needed for Ranks[i].
var thresholds = func() [len(Ranks)]float64 {
	var t [len(Ranks)]float64
	top := float64(len(Ranks) - 1)
	for i := 1; i < len(Ranks); i++ {
		t[i] = math.Pow(float64(i)/top, rankPower)
	}
	return t
}()

// Award returns the experience for a success at label with the given streak
// (the streak including this success).
func Award(label string, streak int) int {
	if streak < 0 {
		streak = 0
	}
	gain := BaseAward * labelMultiplier[difficulty.LabelIndex(label)] * (1 + StreakBonus*float64(streak))
	return int(math.Round(gain))
}

// ClampExp bounds experience to [0, MaxExp].
func ClampExp(exp int) int {
	return max(0, min(MaxExp, exp))
}

// RankFor returns the highest rank whose threshold exp reaches.
func RankFor(exp int) string {
	norm := float64(ClampExp(exp)) / MaxExp
	for i := len(thresholds) - 1; i > 0; i-- {
		if norm >= thresholds[i] {
			return Ranks[i]
		}
	}
	return Ranks[0]
}

// RankIndex returns the position of name in Ranks, or 0 if unknown.
func RankIndex(name string) int {
	for i, r := range Ranks {
		if r == name {
			return i
		}
	}
	return 0
}

// Achievements lists the milestones reached exactly at these counts.
func Achievements(successes, streak int) []string {
	var out []string
	for _, m := range successMilestones {
		if successes == m {
			out = append(out, fmt.Sprintf("successes_%d", m))
		}
	}
	for _, m := range streakMilestones {
		if streak == m {
			out = append(out, fmt.Sprintf("streak_%d", m))
		}
	}
	return out
}

// Outcome is the progression change caused by one attempt.
type Outcome struct {
	ExpDelta     int      `json:"expDelta"`
	Rank         string   `json:"rank"`
	RankChanged  bool     `json:"rankChanged"`
	Achievements []string `json:"achievements,omitempty"`
}

// Apply updates the experience, rank and achievement count of s after an
// attempt. Successes must already include the attempt; streak is the current
// success streak.
func Apply(s *model.SkillState, label string, success bool, streak int) Outcome {
	prevRank := s.Rank
	if prevRank == "" {
		prevRank = RankFor(s.Exp)
	}

	var out Outcome
	if success {
		before := s.Exp
		s.Exp = ClampExp(s.Exp + Award(label, streak))
		out.ExpDelta = s.Exp - before
		out.Achievements = Achievements(s.Successes, streak)
		s.Achievements += len(out.Achievements)
	}
	s.Rank = RankFor(s.Exp)
	out.Rank = s.Rank
	out.RankChanged = s.Rank != prevRank
	return out
}
