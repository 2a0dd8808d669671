package realtime

import (
	"context"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
	"github.com/kurogames77/puzzcode-sub003/pkg/metrics"
)

// Gateway implements model.Notifier on top of a Bus and a Hub.
type Gateway struct {
	hub    *Hub
	bus    Bus
	logger logger.Logger
}

// NewGateway wires hub behind bus. A nil bus means a LocalBus.
func NewGateway(hub *Hub, bus Bus, l logger.Logger) *Gateway {
	if bus == nil {
		bus = NewLocalBus()
	}
	if l == nil {
		l = logger.Default().Named("realtime")
	}
	return &Gateway{hub: hub, bus: bus, logger: l}
}

// Hub returns the local connection hub.
func (g *Gateway) Hub() *Hub { return g.hub }

// Start begins forwarding bus messages to local connections.
func (g *Gateway) Start(ctx context.Context) error {
	return g.bus.Start(ctx, func(ctx context.Context, msg Message) {
		g.hub.Deliver(ctx, msg)
	})
}

// Close releases the bus.
func (g *Gateway) Close() error { return g.bus.Close() }

// Notify publishes n once per recipient. Failures are logged and dropped.
func (g *Gateway) Notify(ctx context.Context, n model.Notification) { //nolint:gocritic // hugeParam: Notifier contract
	for _, player := range n.Recipients {
		msg := Message{Channel: player, Event: n.Kind, Data: n}
		if err := g.bus.Publish(ctx, msg); err != nil {
			metrics.RecordRealtimeEvent("publish_failed")
			g.logger.Warn(ctx, "realtime publish failed",
				logger.String("player", player),
				logger.String("event", string(n.Kind)),
				logger.Error(err))
		}
	}
}
