package api

import (
	"errors"
	"net/http"

	"github.com/kurogames77/puzzcode-sub003/internal/adapters/realtime"
	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
)

// RealtimeHandler serves the server-sent event stream.
type RealtimeHandler struct {
	hub  *realtime.Hub
	auth Authenticator
}

// NewRealtimeHandler creates a new realtime handler.
func NewRealtimeHandler(hub *realtime.Hub, auth Authenticator) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, auth: auth}
}

// HandleStream handles GET /realtime requests. Authentication happens before
// the connection is subscribed, so a rejected client sees nothing but 401.
func (h *RealtimeHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	playerID, err := h.auth.Authenticate(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", realtime.ErrStreaming)
		return
	}

	ctx := r.Context()
	c := h.hub.Subscribe(playerID)
	defer h.hub.Close(ctx, c)

	if err := h.hub.Stream(w, r, c); err != nil && !errors.Is(err, ctx.Err()) {
		logger.Get().Debug(ctx, "realtime stream ended",
			logger.String("player", playerID),
			logger.Error(err))
	}
}
