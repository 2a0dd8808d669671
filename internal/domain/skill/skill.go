// Package skill implements the IRT-style model mapping a player's ability and a
// puzzle difficulty to a predicted success probability.
package skill

import (
	"fmt"
	"math"
)

// Model constants.
const (
	DefaultDiscrimination = 1.7
	DefaultLearningRate   = 0.1
	ThetaMin              = -3.0
	ThetaMax              = 3.0
)

// Model is a one-parameter logistic model with a discrimination factor.
type Model struct {
	discrimination float64
	learningRate   float64
}

// Option configures a Model.
type Option func(*Model)

// WithDiscrimination sets the slope applied to (θ − β).
func WithDiscrimination(d float64) Option {
	return func(m *Model) { m.discrimination = d }
}

// WithLearningRate sets the ability update step.
func WithLearningRate(k float64) Option {
	return func(m *Model) { m.learningRate = k }
}

// Default returns the model with default constants.
func Default() Model {
	return Model{discrimination: DefaultDiscrimination, learningRate: DefaultLearningRate}
}

// NewModel builds a Model; both constants must be finite and positive.
func NewModel(opts ...Option) (Model, error) {
	m := Default()
	for _, opt := range opts {
		opt(&m)
	}
	if !finite(m.discrimination) || m.discrimination <= 0 {
		return Model{}, fmt.Errorf("%w: discrimination %v", ErrInvalidParameter, m.discrimination)
	}
	if !finite(m.learningRate) || m.learningRate <= 0 {
		return Model{}, fmt.Errorf("%w: learning rate %v", ErrInvalidParameter, m.learningRate)
	}
	return m, nil
}

// Predict returns P(success) = σ(D·(θ − β)).
// Strictly increasing in θ and strictly decreasing in β.
func (m Model) Predict(theta, beta float64) (float64, error) {
	if !finite(theta) {
		return 0, fmt.Errorf("%w: theta %v", ErrInvalidParameter, theta)
	}
	if !finite(beta) {
		return 0, fmt.Errorf("%w: beta %v", ErrInvalidParameter, beta)
	}
	return logistic(m.discrimination * (theta - beta)), nil
}

// UpdateAbility moves θ toward the observed outcome: θ + k·(y − p), clamped
// to [ThetaMin, ThetaMax]. p is the probability predicted before the outcome.
func (m Model) UpdateAbility(theta, p float64, success bool) (float64, error) {
	if !finite(theta) || !finite(p) || p < 0 || p > 1 {
		return 0, fmt.Errorf("%w: theta %v, p %v", ErrInvalidParameter, theta, p)
	}
	y := 0.0
	if success {
		y = 1
	}
	return ClampTheta(theta + m.learningRate*(y-p)), nil
}

// Predict evaluates the default model.
func Predict(theta, beta float64) (float64, error) {
	return Default().Predict(theta, beta)
}

// ClampTheta bounds an ability estimate.
func ClampTheta(theta float64) float64 {
	return math.Max(ThetaMin, math.Min(ThetaMax, theta))
}

// logistic is 1/(1+e^-x) evaluated without overflow for large |x|.
func logistic(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
