// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kurogames77/puzzcode-sub003/internal/adapters/realtime"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 16

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	AttemptDependencies
	MatchmakingDependencies
	SessionDependencies
	ChallengeDependencies
	HealthChecker
	StatsProvider

	// Hub is the local realtime connection hub.
	Hub() *realtime.Hub
}

// Authenticator resolves the player behind a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	auth               Authenticator
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	attemptsHandler    *AttemptsHandler
	matchmakingHandler *MatchmakingHandler
	sessionsHandler    *SessionsHandler
	challengesHandler  *ChallengesHandler
	realtimeHandler    *RealtimeHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, auth Authenticator) *Server {
	return &Server{
		auth:               auth,
		healthHandler:      NewHealthHandler(deps),
		statsHandler:       NewStatsHandler(deps),
		attemptsHandler:    NewAttemptsHandler(deps),
		matchmakingHandler: NewMatchmakingHandler(deps),
		sessionsHandler:    NewSessionsHandler(deps),
		challengesHandler:  NewChallengesHandler(deps),
		realtimeHandler:    NewRealtimeHandler(deps.Hub(), auth),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	s.handle(mux, "POST /attempts", "attempts", s.attemptsHandler.HandleSubmit)
	s.handle(mux, "GET /progress/{levelId}", "progress", s.attemptsHandler.HandleProgress)

	s.handle(mux, "POST /matchmaking/join", "matchmaking_join", s.matchmakingHandler.HandleJoin)
	s.handle(mux, "POST /matchmaking/leave", "matchmaking_leave", s.matchmakingHandler.HandleLeave)
	s.handle(mux, "GET /matchmaking/status", "matchmaking_status", s.matchmakingHandler.HandleStatus)

	s.handle(mux, "GET /sessions/{id}", "session", s.sessionsHandler.HandleGet)
	s.handle(mux, "POST /sessions/{id}/join", "session_join", s.sessionsHandler.HandleJoin)
	s.handle(mux, "POST /sessions/{id}/ready", "session_ready", s.sessionsHandler.HandleReady)
	s.handle(mux, "POST /sessions/{id}/submit", "session_submit", s.sessionsHandler.HandleSubmit)
	s.handle(mux, "POST /sessions/{id}/exit", "session_exit", s.sessionsHandler.HandleExit)

	s.handle(mux, "POST /challenges", "challenge_create", s.challengesHandler.HandleCreate)
	s.handle(mux, "GET /challenges/{id}", "challenge", s.challengesHandler.HandleGet)
	s.handle(mux, "POST /challenges/{id}/respond", "challenge_respond", s.challengesHandler.HandleRespond)

	// The stream authenticates itself so it can reject before subscribing.
	mux.HandleFunc("GET /realtime", MetricsMiddleware(s.realtimeHandler.HandleStream, "realtime"))
}

func (s *Server) handle(mux *http.ServeMux, pattern, endpoint string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, MetricsMiddleware(RequirePlayer(s.auth, h), endpoint))
}

type errorResponse struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []fieldError `json:"fields,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// readBody returns the bounded request body.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrBadRequest, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrBadRequest, maxBodyBytes)
	}
	return body, nil
}

// decode reads a JSON object into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		var syntax *json.SyntaxError
		var typ *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntax):
			return fmt.Errorf("%w: malformed JSON at offset %d", ErrBadRequest, syntax.Offset)
		case errors.As(err, &typ):
			return fmt.Errorf("%w: field %q must be %s", ErrBadRequest, typ.Field, typ.Type)
		default:
			return fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
	}
	return nil
}

type playerKey struct{}

// WithPlayer returns ctx carrying the authenticated player id.
func WithPlayer(ctx context.Context, playerID string) context.Context {
	return context.WithValue(ctx, playerKey{}, playerID)
}

// PlayerFrom returns the authenticated player id of ctx.
func PlayerFrom(ctx context.Context) string {
	id, _ := ctx.Value(playerKey{}).(string)
	return id
}
