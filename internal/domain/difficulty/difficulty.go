// Package difficulty implements the dynamic difficulty adjustment rule.
//
// The controller is stateless and deterministic: the same Input always yields
// the same Decision, which is what makes idempotent replay safe.
package difficulty

import (
	"fmt"
	"math"
)

// Difficulty labels, ordered easiest first.
const (
	LabelEasy   = "Easy"
	LabelMedium = "Medium"
	LabelHard   = "Hard"
	LabelExpert = "Expert"
)

// Upper bounds (exclusive) of the first three label bins.
const (
	EasyMax   = 0.3
	MediumMax = 0.6
	HardMax   = 0.85
)

// Rule names reported when an override fires.
const (
	RuleFailureStreak = "failure_streak"
	RuleSuccessStreak = "success_streak"
)

// Params configures the controller.
type Params struct {
	BetaMin float64
	BetaMax float64
	Target  float64
	Rate    float64

	// RulesEnabled turns on the pattern overrides below.
	RulesEnabled bool
	// FailStreak consecutive latest failures force a step down.
	FailStreak int
	// SuccessStreak successes among the last SuccessWindow attempts, with the
	// latest one a success, force a step up.
	SuccessStreak int
	SuccessWindow int
	// Step is the fixed size of a rule-driven change.
	Step float64
}

// DefaultParams returns the calibrated defaults.
func DefaultParams() Params {
	return Params{
		BetaMin:       0.1,
		BetaMax:       1.0,
		Target:        0.7,
		Rate:          0.1,
		FailStreak:    3,
		SuccessStreak: 5,
		SuccessWindow: 8,
		Step:          0.1,
	}
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	switch {
	case !finite(p.BetaMin) || !finite(p.BetaMax) || p.BetaMin >= p.BetaMax:
		return fmt.Errorf("%w: beta bounds [%v, %v]", ErrInvalidParams, p.BetaMin, p.BetaMax)
	case !finite(p.Target) || p.Target <= 0 || p.Target >= 1:
		return fmt.Errorf("%w: target %v", ErrInvalidParams, p.Target)
	case !finite(p.Rate) || p.Rate < 0:
		return fmt.Errorf("%w: rate %v", ErrInvalidParams, p.Rate)
	case p.RulesEnabled && (p.FailStreak < 1 || p.SuccessStreak < 1 || p.SuccessWindow < p.SuccessStreak || !finite(p.Step) || p.Step <= 0):
		return fmt.Errorf("%w: rule settings", ErrInvalidParams)
	}
	return nil
}

// Input is the performance snapshot the controller decides on.
type Input struct {
	BetaOld float64
	// ObservedRate is the success rate over the current summary window.
	ObservedRate float64
	// FailStreak counts consecutive failures ending at the latest attempt.
	FailStreak int
	// RecentSuccesses counts successes among the last SuccessWindow attempts.
	RecentSuccesses int
	LastSuccess     bool
}

// Decision is the controller output.
type Decision struct {
	BetaNew float64
	Label   string
	// Rule names the override that fired; empty for the continuous rule.
	Rule string
}

// Controller applies Params to Inputs.
type Controller struct {
	params Params
}

// NewController validates params and returns a Controller.
func NewController(params Params) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Controller{params: params}, nil
}

// Params returns the controller configuration.
func (c *Controller) Params() Params { return c.params }

// Adjust computes β_new = clamp(β_old + rate·(observed − target)), unless an
// enabled rule override fires first.
func (c *Controller) Adjust(in Input) (Decision, error) {
	if !finite(in.BetaOld) {
		return Decision{}, fmt.Errorf("%w: beta %v", ErrInvalidInput, in.BetaOld)
	}
	if !finite(in.ObservedRate) || in.ObservedRate < 0 || in.ObservedRate > 1 {
		return Decision{}, fmt.Errorf("%w: observed rate %v", ErrInvalidInput, in.ObservedRate)
	}

	p := c.params
	beta := c.Clamp(in.BetaOld)

	if p.RulesEnabled {
		switch {
		case in.FailStreak >= p.FailStreak:
			return c.decide(beta-p.Step, RuleFailureStreak), nil
		case in.LastSuccess && in.RecentSuccesses >= p.SuccessStreak:
			return c.decide(beta+p.Step, RuleSuccessStreak), nil
		}
	}
	return c.decide(beta+p.Rate*(in.ObservedRate-p.Target), ""), nil
}

func (c *Controller) decide(beta float64, rule string) Decision {
	beta = c.Clamp(beta)
	return Decision{BetaNew: beta, Label: Label(beta), Rule: rule}
}

// Clamp bounds beta to [BetaMin, BetaMax].
func (c *Controller) Clamp(beta float64) float64 {
	return math.Max(c.params.BetaMin, math.Min(c.params.BetaMax, beta))
}

// Label maps a difficulty to one of four ordered bins.
func Label(beta float64) string {
	switch {
	case beta < EasyMax:
		return LabelEasy
	case beta < MediumMax:
		return LabelMedium
	case beta < HardMax:
		return LabelHard
	default:
		return LabelExpert
	}
}

// LabelIndex returns the 0-based position of label (Easy=0 … Expert=3), or 0 if unknown.
func LabelIndex(label string) int {
	switch label {
	case LabelMedium:
		return 1
	case LabelHard:
		return 2
	case LabelExpert:
		return 3
	default:
		return 0
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
