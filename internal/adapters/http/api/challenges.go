package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/challenge"
)

// ChallengeDependencies defines the interface for direct challenges.
type ChallengeDependencies interface {
	CreateChallenge(ctx context.Context, playerID, opponent, language string, wager int) (challenge.Challenge, error)
	RespondChallenge(ctx context.Context, playerID, id string, accept bool) (challenge.Challenge, error)
	Challenge(ctx context.Context, playerID, id string) (challenge.Challenge, error)
}

// ChallengesHandler handles challenge creation and responses.
type ChallengesHandler struct {
	deps ChallengeDependencies
}

// NewChallengesHandler creates a new challenges handler.
func NewChallengesHandler(deps ChallengeDependencies) *ChallengesHandler {
	return &ChallengesHandler{deps: deps}
}

type challengeRequest struct {
	Opponent string `json:"opponentId"`
	Language string `json:"language"`
	Wager    int    `json:"wager"`
}

type respondRequest struct {
	Accept *bool `json:"accept"`
}

// HandleCreate handles POST /challenges requests.
func (h *ChallengesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req challengeRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	c, err := h.deps.CreateChallenge(r.Context(), PlayerFrom(r.Context()), req.Opponent, req.Language, req.Wager)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HandleRespond handles POST /challenges/{id}/respond requests.
func (h *ChallengesHandler) HandleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Accept == nil {
		respondError(w, fmt.Errorf("%w: accept is required", ErrBadRequest))
		return
	}
	c, err := h.deps.RespondChallenge(r.Context(), PlayerFrom(r.Context()), r.PathValue("id"), *req.Accept)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleGet handles GET /challenges/{id} requests.
func (h *ChallengesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.deps.Challenge(r.Context(), PlayerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
