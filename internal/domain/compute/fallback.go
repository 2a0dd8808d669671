package compute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
	"github.com/kurogames77/puzzcode-sub003/pkg/metrics"
)

// Fallback reasons reported to metrics.
const (
	reasonTimeout = "timeout"
	reasonError   = "error"
)

// DefaultTimeout bounds the primary call when none is configured.
const DefaultTimeout = 300 * time.Millisecond

// Fallback tries Primary under a timeout and falls back to Secondary.
type Fallback struct {
	primary   Computer
	secondary Computer
	timeout   time.Duration
	logger    logger.Logger
}

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback)

// WithTimeout sets the bound on the primary call.
func WithTimeout(d time.Duration) FallbackOption {
	return func(f *Fallback) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) FallbackOption {
	return func(f *Fallback) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFallback composes primary and secondary. A nil primary uses secondary only.
func NewFallback(primary, secondary Computer, opts ...FallbackOption) *Fallback {
	f := &Fallback{
		primary:   primary,
		secondary: secondary,
		timeout:   DefaultTimeout,
		logger:    logger.Default().Named("compute"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Compute returns the primary result, or the secondary one if the primary
// fails or exceeds the timeout. Both failing yields ErrUnavailable.
func (f *Fallback) Compute(ctx context.Context, req Request) (Update, error) {
	if f.primary == nil {
		return f.fromSecondary(ctx, req, nil)
	}

	pctx, cancel := context.WithTimeout(ctx, f.timeout)
	u, err := f.primary.Compute(pctx, req)
	cancel()
	if err == nil {
		return u, nil
	}
	if ctx.Err() != nil {
		return Update{}, fmt.Errorf("compute: %w", ctx.Err())
	}

	reason := reasonError
	if errors.Is(err, context.DeadlineExceeded) {
		reason = reasonTimeout
	}
	metrics.RecordComputeFallback(reason)
	f.logger.Warn(ctx, "primary compute failed, using fallback",
		logger.String("reason", reason), logger.Error(err))
	return f.fromSecondary(ctx, req, err)
}

func (f *Fallback) fromSecondary(ctx context.Context, req Request, primaryErr error) (Update, error) {
	if f.secondary == nil {
		return Update{}, errors.Join(ErrUnavailable, primaryErr)
	}
	u, err := f.secondary.Compute(ctx, req)
	if err != nil {
		return Update{}, errors.Join(ErrUnavailable, primaryErr, err)
	}
	return u, nil
}
