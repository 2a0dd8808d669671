package battle

import (
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithReadyTimeout sets how long a new session waits for every participant.
func WithReadyTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.readyTimeout = d
		}
	}
}

// WithTimeLimit sets how long an in-progress battle may run.
func WithTimeLimit(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeLimit = d
		}
	}
}

// WithRetainResolved bounds how many resolved sessions are kept for reporting.
func WithRetainResolved(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.retain = n
		}
	}
}

// WithNotifier sets where state transitions are announced.
func WithNotifier(n model.Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithSettler sets who applies experience changes on resolution.
func WithSettler(s Settler) Option {
	return func(m *Manager) { m.settler = s }
}

// WithProblemPicker sets how a problem is assigned to a new session.
func WithProblemPicker(pick func(model.MatchRequest) string) Option {
	return func(m *Manager) {
		if pick != nil {
			m.pickProblem = pick
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
