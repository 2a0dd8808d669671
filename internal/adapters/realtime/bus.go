package realtime

import (
	"context"
	"sync"
)

// Handler receives messages forwarded by a Bus.
type Handler func(ctx context.Context, msg Message)

// Bus fans messages out to every instance that holds connections.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Start(ctx context.Context, h Handler) error
	Close() error
}

// LocalBus delivers in-process. Messages published before Start are dropped.
type LocalBus struct {
	mu      sync.RWMutex
	handler Handler
}

// NewLocalBus creates a single-instance bus.
func NewLocalBus() *LocalBus { return &LocalBus{} }

// Publish hands msg to the registered handler.
func (b *LocalBus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	if h != nil {
		h(ctx, msg)
	}
	return nil
}

// Start registers h.
func (b *LocalBus) Start(_ context.Context, h Handler) error {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
	return nil
}

// Close unregisters the handler.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.handler = nil
	b.mu.Unlock()
	return nil
}
