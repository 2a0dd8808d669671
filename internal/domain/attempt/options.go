package attempt

import (
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/idempotency"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/summary"
	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
)

// Defaults for a player's first attempt and for audit filtering.
const (
	DefaultEpsilon      = 1e-6
	DefaultInitialTheta = 0.0
	DefaultInitialBeta  = 0.5
)

// Option applies a configuration option to the Processor.
type Option func(*Processor)

// WithReplayCache sets the in-memory idempotency cache.
func WithReplayCache(c idempotency.Cache) Option {
	return func(p *Processor) { p.replays = c }
}

// WithSummaryCache sets the window cache used by progress queries.
func WithSummaryCache(c *summary.Cache) Option {
	return func(p *Processor) { p.windows = c }
}

// WithAuditSink sets where committed audit records are queued.
func WithAuditSink(s AuditSink) Option {
	return func(p *Processor) { p.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithWindowSize sets the performance window length.
func WithWindowSize(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.windowSize = n
		}
	}
}

// WithSuccessWindow sets how many recent attempts feed the success-streak rule.
func WithSuccessWindow(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.successWindow = n
		}
	}
}

// WithEpsilon sets the smallest difficulty change that is audited.
func WithEpsilon(eps float64) Option {
	return func(p *Processor) {
		if eps >= 0 {
			p.epsilon = eps
		}
	}
}

// WithInitialState sets θ and β for a key's first attempt.
func WithInitialState(theta, beta float64) Option {
	return func(p *Processor) {
		p.initialTheta, p.initialBeta = theta, beta
	}
}

// WithLockRetry sets the lock retry budget and first backoff.
func WithLockRetry(attempts int, delay time.Duration) Option {
	return func(p *Processor) {
		if attempts > 0 {
			p.lockRetries = attempts
		}
		if delay >= 0 {
			p.lockRetryDelay = delay
		}
	}
}
