package worker

import (
	"time"

	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithPublishRetry sets how often a failed publish is retried and the first backoff.
func WithPublishRetry(attempts int, delay time.Duration) Option {
	return func(w *InMemoryWorker) {
		if attempts > 0 {
			w.attempts = attempts
		}
		if delay >= 0 {
			w.delay = delay
		}
	}
}
