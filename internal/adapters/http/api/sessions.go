package api

import (
	"context"
	"net/http"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/battle"
)

// SessionDependencies defines the interface for battle session handling.
type SessionDependencies interface {
	Session(ctx context.Context, playerID, id string) (battle.Session, error)
	JoinSession(ctx context.Context, playerID, id string) (battle.Session, error)
	ReadySession(ctx context.Context, playerID, id string) (battle.Session, error)
	SubmitSolution(ctx context.Context, playerID, id, code, language string, passed bool) (battle.Session, error)
	ExitSession(ctx context.Context, playerID, id string) (battle.Session, error)
}

// SessionsHandler handles battle session actions.
type SessionsHandler struct {
	deps SessionDependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

type submitRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	// Passed is the judge verdict for the code.
	Passed bool `json:"passed"`
}

type sessionAction func(ctx context.Context, playerID, id string) (battle.Session, error)

func (h *SessionsHandler) run(w http.ResponseWriter, r *http.Request, action sessionAction) {
	s, err := action(r.Context(), PlayerFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleGet handles GET /sessions/{id} requests.
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.deps.Session)
}

// HandleJoin handles POST /sessions/{id}/join requests.
func (h *SessionsHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.deps.JoinSession)
}

// HandleReady handles POST /sessions/{id}/ready requests.
func (h *SessionsHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.deps.ReadySession)
}

// HandleExit handles POST /sessions/{id}/exit requests.
func (h *SessionsHandler) HandleExit(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.deps.ExitSession)
}

// HandleSubmit handles POST /sessions/{id}/submit requests.
func (h *SessionsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	h.run(w, r, func(ctx context.Context, playerID, id string) (battle.Session, error) {
		return h.deps.SubmitSolution(ctx, playerID, id, req.Code, req.Language, req.Passed)
	})
}
