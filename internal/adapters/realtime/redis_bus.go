package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "puzzcode-realtime"

// RedisBus fans messages out across instances over Redis pub/sub.
type RedisBus struct {
	rdb     goredis.UniversalClient
	channel string
	logger  logger.Logger
}

// NewRedisBus wraps an existing client. The caller owns the client.
func NewRedisBus(rdb goredis.UniversalClient, channel string, l logger.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if l == nil {
		l = logger.Default().Named("realtime.bus")
	}
	return &RedisBus{rdb: rdb, channel: channel, logger: l}
}

// Publish encodes msg as JSON and publishes it.
func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode realtime message: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBusUnavailable, err)
	}
	return nil
}

// Start subscribes and forwards every message to h until ctx ends.
func (b *RedisBus) Start(ctx context.Context, h Handler) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.logger.Warn(ctx, "bad realtime payload", logger.Error(err))
					continue
				}
				h(ctx, msg)
			}
		}
	}()
	return nil
}

// Close is a no-op; the subscription ends with the Start context.
func (b *RedisBus) Close() error { return nil }
