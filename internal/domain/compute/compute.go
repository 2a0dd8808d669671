// Package compute defines the "compute skill/difficulty update" capability.
//
// Local runs the skill and difficulty packages in process. Remote delegates to
// an out-of-process service over HTTP. Fallback selects between the two under
// a timeout policy.
package compute

import (
	"context"
	"fmt"
	"math"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/difficulty"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/skill"
)

// Request is the input of one update computation.
type Request struct {
	Theta   float64 `json:"theta"`
	BetaOld float64 `json:"betaOld"`
	Success bool    `json:"success"`

	// Window aggregates, already including the attempt being processed.
	ObservedRate    float64 `json:"observedRate"`
	FailStreak      int     `json:"failStreak"`
	RecentSuccesses int     `json:"recentSuccesses"`
	LastSuccess     bool    `json:"lastSuccess"`
}

// Update is the result of one computation.
type Update struct {
	PredictedSuccess float64 `json:"predictedSuccess"`
	ThetaNew         float64 `json:"thetaNew"`
	BetaNew          float64 `json:"betaNew"`
	Label            string  `json:"label"`
	Rule             string  `json:"rule,omitempty"`
}

// Computer computes skill/difficulty updates, honoring ctx for cancellation.
type Computer interface {
	Compute(ctx context.Context, req Request) (Update, error)
}

// Local implements Computer in process.
type Local struct {
	model      skill.Model
	controller *difficulty.Controller
}

// NewLocal creates a local computer.
func NewLocal(model skill.Model, controller *difficulty.Controller) *Local {
	return &Local{model: model, controller: controller}
}

// Compute predicts with the prior state, then updates ability and difficulty.
func (l *Local) Compute(ctx context.Context, req Request) (Update, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, fmt.Errorf("context cancelled: %w", err)
	}
	p, err := l.model.Predict(req.Theta, req.BetaOld)
	if err != nil {
		return Update{}, fmt.Errorf("predict: %w", err)
	}
	theta, err := l.model.UpdateAbility(req.Theta, p, req.Success)
	if err != nil {
		return Update{}, fmt.Errorf("update ability: %w", err)
	}
	d, err := l.controller.Adjust(difficulty.Input{
		BetaOld:         req.BetaOld,
		ObservedRate:    req.ObservedRate,
		FailStreak:      req.FailStreak,
		RecentSuccesses: req.RecentSuccesses,
		LastSuccess:     req.LastSuccess,
	})
	if err != nil {
		return Update{}, fmt.Errorf("adjust difficulty: %w", err)
	}
	return Update{
		PredictedSuccess: p,
		ThetaNew:         theta,
		BetaNew:          d.BetaNew,
		Label:            d.Label,
		Rule:             d.Rule,
	}, nil
}

// Validate checks an update against the difficulty bounds. Results from
// outside the process are not trusted blindly.
func (u Update) Validate(params difficulty.Params) error {
	switch {
	case !finite(u.PredictedSuccess) || u.PredictedSuccess < 0 || u.PredictedSuccess > 1:
		return fmt.Errorf("%w: predicted success %v", ErrInvalidUpdate, u.PredictedSuccess)
	case !finite(u.ThetaNew) || u.ThetaNew < skill.ThetaMin || u.ThetaNew > skill.ThetaMax:
		return fmt.Errorf("%w: theta %v", ErrInvalidUpdate, u.ThetaNew)
	case !finite(u.BetaNew) || u.BetaNew < params.BetaMin || u.BetaNew > params.BetaMax:
		return fmt.Errorf("%w: beta %v", ErrInvalidUpdate, u.BetaNew)
	case u.Label != difficulty.Label(u.BetaNew):
		return fmt.Errorf("%w: label %q for beta %v", ErrInvalidUpdate, u.Label, u.BetaNew)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
