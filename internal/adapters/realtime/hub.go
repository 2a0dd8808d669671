// Package realtime delivers battle and challenge notifications to connected players
// over server-sent events. Delivery is at-most-once: a slow connection loses messages
// and is expected to pull current state over HTTP.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
	"github.com/kurogames77/puzzcode-sub003/pkg/metrics"
)

// Hub defaults.
const (
	DefaultBuffer    = 16
	DefaultHeartbeat = 15 * time.Second
)

// Message is one notification addressed to one player.
type Message struct {
	Channel string             `json:"channel"`
	Event   model.EventKind    `json:"event"`
	Data    model.Notification `json:"data"`
}

// Client is a single SSE connection.
type Client struct {
	ID       string
	PlayerID string
	Outbound chan Message

	done chan struct{}
	once sync.Once
}

// Done is closed when the client is removed from the hub.
func (c *Client) Done() <-chan struct{} { return c.done }

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-connection outbound buffer.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHeartbeat sets the SSE comment ping interval.
func WithHeartbeat(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

// WithHubLogger sets the logger.
func WithHubLogger(l logger.Logger) HubOption {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithOnDisconnect registers a callback for a player's last connection closing.
func WithOnDisconnect(fn func(ctx context.Context, playerID string)) HubOption {
	return func(h *Hub) {
		h.onDisconnect = fn
	}
}

// Hub tracks live connections per player.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[*Client]struct{}
	clients       int

	buffer       int
	heartbeat    time.Duration
	logger       logger.Logger
	onDisconnect func(ctx context.Context, playerID string)
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subscriptions: make(map[string]map[*Client]struct{}),
		buffer:        DefaultBuffer,
		heartbeat:     DefaultHeartbeat,
		logger:        logger.Default().Named("realtime"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a new connection for playerID.
func (h *Hub) Subscribe(playerID string) *Client {
	c := &Client{
		ID:       uuid.NewString(),
		PlayerID: playerID,
		Outbound: make(chan Message, h.buffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	set, ok := h.subscriptions[playerID]
	if !ok {
		set = make(map[*Client]struct{})
		h.subscriptions[playerID] = set
	}
	set[c] = struct{}{}
	h.clients++
	n := h.clients
	h.mu.Unlock()

	metrics.UpdateRealtimeClients(n)
	return c
}

// Close removes the connection and closes its outbound channel. Safe to call twice.
func (h *Hub) Close(ctx context.Context, c *Client) {
	c.once.Do(func() {
		h.mu.Lock()
		last := false
		if set, ok := h.subscriptions[c.PlayerID]; ok {
			if _, member := set[c]; member {
				delete(set, c)
				h.clients--
			}
			if len(set) == 0 {
				delete(h.subscriptions, c.PlayerID)
				last = true
			}
		}
		n := h.clients
		h.mu.Unlock()

		close(c.done)
		close(c.Outbound)
		metrics.UpdateRealtimeClients(n)

		if last && h.onDisconnect != nil {
			h.onDisconnect(ctx, c.PlayerID)
		}
	})
}

// CloseAll closes every live connection, ending their streams.
func (h *Hub) CloseAll(ctx context.Context) {
	h.mu.RLock()
	var all []*Client
	for _, set := range h.subscriptions {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.Close(ctx, c)
	}
}

// Deliver pushes msg to every connection of msg.Channel without blocking and
// returns how many connections accepted it.
func (h *Hub) Deliver(ctx context.Context, msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.subscriptions[msg.Channel] {
		select {
		case c.Outbound <- msg:
			delivered++
			metrics.RecordRealtimeEvent("delivered")
		default:
			metrics.RecordRealtimeEvent("dropped")
			h.logger.Warn(ctx, "dropping realtime message; outbound buffer full",
				logger.String("client", c.ID),
				logger.String("player", c.PlayerID),
				logger.String("event", string(msg.Event)))
		}
	}
	return delivered
}

// Connected reports whether playerID has at least one live connection.
func (h *Hub) Connected(playerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[playerID]) > 0
}

// Clients returns the number of live connections.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients
}

// Stream writes c's messages to w as server-sent events until the request ends
// or the client is closed.
func (h *Hub) Stream(w http.ResponseWriter, r *http.Request, c *Client) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return ErrStreaming
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return fmt.Errorf("write heartbeat: %w", err)
			}
			flusher.Flush()
		case msg, ok := <-c.Outbound:
			if !ok {
				return nil
			}
			raw, err := json.Marshal(msg.Data)
			if err != nil {
				h.logger.Warn(ctx, "failed to marshal realtime message", logger.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, raw); err != nil {
				return fmt.Errorf("write event: %w", err)
			}
			flusher.Flush()
		}
	}
}
