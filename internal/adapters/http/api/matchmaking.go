package api

import (
	"context"
	"net/http"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
)

// MatchmakingDependencies defines the interface for queue handling.
type MatchmakingDependencies interface {
	JoinQueue(ctx context.Context, playerID, matchType, language string, matchSize int) (model.QueueEntry, error)
	LeaveQueue(ctx context.Context, playerID string) error
	ActiveSession(playerID string) (string, bool)
}

// MatchmakingHandler handles queue membership.
type MatchmakingHandler struct {
	deps MatchmakingDependencies
}

// NewMatchmakingHandler creates a new matchmaking handler.
func NewMatchmakingHandler(deps MatchmakingDependencies) *MatchmakingHandler {
	return &MatchmakingHandler{deps: deps}
}

type joinRequest struct {
	MatchType string `json:"matchType"`
	Language  string `json:"language"`
	MatchSize int    `json:"matchSize"`
}

type queueResponse struct {
	Status string            `json:"status"`
	Entry  *model.QueueEntry `json:"entry,omitempty"`
}

type statusResponse struct {
	Matched   bool   `json:"matched"`
	SessionID string `json:"sessionId,omitempty"`
}

// HandleJoin handles POST /matchmaking/join requests. A missing match size
// defaults to a duel.
func (h *MatchmakingHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.MatchSize == 0 {
		req.MatchSize = 2
	}
	e, err := h.deps.JoinQueue(r.Context(), PlayerFrom(r.Context()), req.MatchType, req.Language, req.MatchSize)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, queueResponse{Status: "queued", Entry: &e})
}

// HandleLeave handles POST /matchmaking/leave requests.
func (h *MatchmakingHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.LeaveQueue(r.Context(), PlayerFrom(r.Context())); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queueResponse{Status: "left"})
}

// HandleStatus handles GET /matchmaking/status requests.
func (h *MatchmakingHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deps.ActiveSession(PlayerFrom(r.Context()))
	writeJSON(w, http.StatusOK, statusResponse{Matched: ok, SessionID: id})
}
