package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/kurogames77/puzzcode-sub003/internal/adapters/realtime"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/attempt"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/battle"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/challenge"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/matchmaking"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
)

// retryAfterSeconds is advertised on retryable 503 responses.
const retryAfterSeconds = 1

type errorClass struct {
	status int
	code   string
	retry  bool
}

// classify maps domain errors to HTTP semantics. Order matters: the first
// matching sentinel wins.
func classify(err error) errorClass {
	switch {
	case errors.Is(err, attempt.ErrValidation):
		return errorClass{status: http.StatusBadRequest, code: "validation_failed"}
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, matchmaking.ErrInvalidEntry),
		errors.Is(err, matchmaking.ErrInvalidMatchSize),
		errors.Is(err, challenge.ErrInvalidChallenge),
		errors.Is(err, challenge.ErrSelfChallenge),
		errors.Is(err, battle.ErrInvalidMatch),
		errors.Is(err, battle.ErrEmptySubmission):
		return errorClass{status: http.StatusBadRequest, code: "bad_request"}
	case errors.Is(err, realtime.ErrUnauthorized):
		return errorClass{status: http.StatusUnauthorized, code: "unauthorized"}
	case errors.Is(err, battle.ErrNotParticipant),
		errors.Is(err, challenge.ErrNotTarget):
		return errorClass{status: http.StatusForbidden, code: "forbidden"}
	case errors.Is(err, battle.ErrSessionNotFound),
		errors.Is(err, challenge.ErrNotFound):
		return errorClass{status: http.StatusNotFound, code: "not_found"}
	case errors.Is(err, battle.ErrPlayerBusy),
		errors.Is(err, battle.ErrInvalidTransition),
		errors.Is(err, matchmaking.ErrAlreadyQueued),
		errors.Is(err, matchmaking.ErrNotQueued),
		errors.Is(err, challenge.ErrNotPending):
		return errorClass{status: http.StatusConflict, code: "conflict"}
	case errors.Is(err, attempt.ErrRetryable),
		errors.Is(err, matchmaking.ErrQueueFull),
		errors.Is(err, challenge.ErrTooManyPending):
		return errorClass{status: http.StatusServiceUnavailable, code: "retry_later", retry: true}
	case errors.Is(err, attempt.ErrComputeUnavailable):
		return errorClass{status: http.StatusServiceUnavailable, code: "compute_unavailable"}
	default:
		return errorClass{status: http.StatusInternalServerError, code: "internal_error"}
	}
}

// respondError writes err with its mapped status. Internal errors hide their
// message.
func respondError(w http.ResponseWriter, err error) {
	c := classify(err)
	if c.retry {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	resp := errorResponse{Code: c.code, Message: err.Error()}
	if c.status == http.StatusInternalServerError {
		resp.Message = http.StatusText(c.status)
	}
	var verr *attempt.ValidationError
	if errors.As(err, &verr) {
		resp.Message = attempt.ErrValidation.Error()
		for _, f := range verr.Fields {
			resp.Fields = append(resp.Fields, fieldError{Field: f.Field, Message: f.Message})
		}
	}
	writeJSON(w, c.status, resp)
}
