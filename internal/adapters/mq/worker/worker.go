// Package worker drains the audit outbox into a publisher.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/adapters/mq/queue"
	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
	"github.com/kurogames77/puzzcode-sub003/pkg/metrics"
	"github.com/kurogames77/puzzcode-sub003/pkg/retry"
)

// Default worker configuration constants.
const (
	defaultPublishAttempts = 3
	defaultPublishDelay    = 100 * time.Millisecond
	poolShutdownTimeout    = 30 * time.Second
)

// Publisher sends one record downstream.
type Publisher interface {
	Publish(ctx context.Context, e queue.Event) error
}

// Queue defines how workers receive records.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Event
}

// Worker publishes records until its queue closes or ctx ends.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue     Queue
	publisher Publisher
	name      string
	attempts  int
	delay     time.Duration

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker reading from q and writing to p.
func NewInMemoryWorker(q Queue, p Publisher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     q,
		publisher: p,
		name:      "worker",
		attempts:  defaultPublishAttempts,
		delay:     defaultPublishDelay,
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.Default().Named("outbox"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run publishes records until the queue is closed and drained, Shutdown is
// called, or ctx ends.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := w.publish(ctx, e); err != nil {
				w.logger.Error(ctx, "audit record not published",
					logger.String("player", e.PlayerID),
					logger.String("level", e.LevelID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker after the record in flight.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) publish(ctx context.Context, e queue.Event) error { //nolint:gocritic // hugeParam: passed by value for channel semantics
	err := retry.Do(ctx, func(ctx context.Context) error {
		return w.publisher.Publish(ctx, e)
	},
		retry.WithMaxAttempts(w.attempts),
		retry.WithInitialDelay(w.delay),
	)
	if err != nil {
		metrics.RecordAuditPublished("failed")
		metrics.RecordErrorByComponent("outbox", "publish")
		return fmt.Errorf("publish audit record: %w", err)
	}
	metrics.RecordAuditPublished("published")
	return nil
}

// Pool manages the workers draining one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates workerCount workers; below 1 selects one per CPU.
func NewPool(workerCount int, q Queue, p Publisher, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Default().Named("outbox-pool"),
	}
	for i := range pool.workers {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, p, wopts...)
	}
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker did not drain before shutdown", logger.Int("worker_id", i))
			for _, rest := range p.workers[i:] {
				rest.shutdownOnce.Do(func() { close(rest.shutdown) })
			}
			return fmt.Errorf("outbox shutdown: %w", ctx.Err())
		}
	}
	return nil
}
