package api

import (
	"context"
	"net/http"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/attempt"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/progression"
)

// AttemptDependencies defines the interface for puzzle attempt handling.
type AttemptDependencies interface {
	SubmitAttempt(ctx context.Context, playerID string, body []byte) (attempt.Outcome, error)
	Progress(ctx context.Context, playerID, levelID string) (attempt.Snapshot, error)
}

// AttemptsHandler handles puzzle submissions and progress queries.
type AttemptsHandler struct {
	deps AttemptDependencies
}

// NewAttemptsHandler creates a new attempts handler.
func NewAttemptsHandler(deps AttemptDependencies) *AttemptsHandler {
	return &AttemptsHandler{deps: deps}
}

type attemptResponse struct {
	Success          bool                 `json:"success"`
	NewDifficulty    float64              `json:"newDifficulty"`
	DifficultyLabel  string               `json:"difficultyLabel"`
	Switched         bool                 `json:"switched"`
	PredictedSuccess float64              `json:"predictedSuccess"`
	Replayed         bool                 `json:"replayed"`
	Progress         *progression.Outcome `json:"progress,omitempty"`
}

// HandleSubmit handles POST /attempts requests.
func (h *AttemptsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		respondError(w, err)
		return
	}
	out, err := h.deps.SubmitAttempt(r.Context(), PlayerFrom(r.Context()), body)
	if err != nil {
		respondError(w, err)
		return
	}
	resp := attemptResponse{
		Success:          true,
		NewDifficulty:    out.Result.NewDifficulty,
		DifficultyLabel:  out.Result.DifficultyLabel,
		Switched:         out.Result.Switched,
		PredictedSuccess: out.Result.PredictedSuccess,
		Replayed:         out.Replayed,
	}
	if !out.Replayed {
		resp.Progress = &out.Progress
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleProgress handles GET /progress/{levelId} requests.
func (h *AttemptsHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Progress(r.Context(), PlayerFrom(r.Context()), r.PathValue("levelId"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
