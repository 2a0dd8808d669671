package matchmaking

import (
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
)

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMaxWait sets how long a player may stay queued.
func WithMaxWait(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.maxWait = d
		}
	}
}

// WithClusters sets k for the ability clustering.
func WithClusters(k int) Option {
	return func(s *Scheduler) {
		if k > 0 {
			s.clusters = k
		}
	}
}

// WithMinMatchScore sets the lowest acceptable match score.
func WithMinMatchScore(score float64) Option {
	return func(s *Scheduler) {
		if score >= 0 && score <= 1 {
			s.minScore = score
		}
	}
}

// WithCrossCluster allows pooling adjacent clusters for short clusters.
func WithCrossCluster(allow bool) Option {
	return func(s *Scheduler) { s.allowCross = allow }
}

// WithNotifier sets where no-match signals go.
func WithNotifier(n model.Notifier) Option {
	return func(s *Scheduler) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}
