// Package battle runs battle sessions from match creation to resolution.
//
// A Session moves Created → AwaitingReady → InProgress → {Submitted | Exited}
// → Resolved. Resolved is terminal and kept for result reporting. The Manager
// owns every session and the player → active session index that prevents a
// player from being placed in two live sessions.
package battle

import (
	"fmt"
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
)

// State is a session state.
type State string

const (
	Created       State = "created"
	AwaitingReady State = "awaiting_ready"
	InProgress    State = "in_progress"
	Submitted     State = "submitted"
	Exited        State = "exited"
	Resolved      State = "resolved"
)

var transitions = map[State][]State{
	Created:       {AwaitingReady, InProgress, Exited},
	AwaitingReady: {InProgress, Exited},
	InProgress:    {Submitted, Exited},
	Submitted:     {Resolved},
	Exited:        {Resolved},
}

// CanTransition reports whether from → to is a defined transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Live reports whether the session still occupies its players.
func (s State) Live() bool { return s != Resolved }

// Resolution reasons.
const (
	ReasonSolved       = "solved"
	ReasonForfeit      = "forfeit"
	ReasonTimeLimit    = "time_limit"
	ReasonReadyTimeout = "ready_timeout"
)

// Participant is one player's progress in a session.
type Participant struct {
	PlayerID  string `json:"playerId"`
	Joined    bool   `json:"joined"`
	Ready     bool   `json:"ready"`
	Forfeited bool   `json:"forfeited"`
	// Completed is set by a passing submission.
	Completed   bool   `json:"completed"`
	Submissions int    `json:"submissions"`
	Language    string `json:"language,omitempty"`
}

// Outcome is computed once, on resolution.
type Outcome struct {
	Winners    []string       `json:"winners"`
	Reason     string         `json:"reason"`
	ExpDelta   map[string]int `json:"expDelta,omitempty"`
	ResolvedAt time.Time      `json:"resolvedAt"`
}

// Session is one battle between matched players.
type Session struct {
	ID            string        `json:"id"`
	State         State         `json:"state"`
	Participants  []Participant `json:"participants"`
	MatchType     string        `json:"matchType"`
	Language      string        `json:"language"`
	Origin        string        `json:"origin"`
	MatchScore    float64       `json:"matchScore"`
	Problem       string        `json:"problem,omitempty"`
	Wager         int           `json:"wager,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	ReadyDeadline time.Time     `json:"readyDeadline"`
	StartedAt     time.Time     `json:"startedAt,omitempty"`
	TimeLimit     time.Duration `json:"timeLimit"`
	// Path is the state the session resolved through: Submitted or Exited.
	Path    State    `json:"path,omitempty"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

// PlayerIDs lists the participants in order.
func (s *Session) PlayerIDs() []string {
	ids := make([]string, len(s.Participants))
	for i, p := range s.Participants {
		ids[i] = p.PlayerID
	}
	return ids
}

// Deadline is when an in-progress session runs out of time.
func (s *Session) Deadline() time.Time {
	if s.StartedAt.IsZero() {
		return time.Time{}
	}
	return s.StartedAt.Add(s.TimeLimit)
}

func (s *Session) participant(playerID string) (*Participant, error) {
	for i := range s.Participants {
		if s.Participants[i].PlayerID == playerID {
			return &s.Participants[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrNotParticipant, playerID, s.ID)
}

func (s *Session) all(pred func(Participant) bool) bool {
	for _, p := range s.Participants {
		if !pred(p) {
			return false
		}
	}
	return true
}

func (s *Session) transition(to State) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	return nil
}

// resolve moves a Submitted or Exited session to Resolved. Winners are the
// submitter with passing code, or everyone who did not forfeit.
func (s *Session) resolve(now time.Time, reason string) error {
	path := s.State
	if err := s.transition(Resolved); err != nil {
		return err
	}
	var winners []string
	for _, p := range s.Participants {
		switch {
		case path == Submitted && p.Completed:
			winners = append(winners, p.PlayerID)
		case path == Exited && !p.Forfeited:
			winners = append(winners, p.PlayerID)
		}
	}
	s.Path = path
	s.Outcome = &Outcome{Winners: winners, Reason: reason, ResolvedAt: now}
	return nil
}

// clone returns a deep copy safe to hand out.
func (s *Session) clone() Session {
	c := *s
	c.Participants = append([]Participant(nil), s.Participants...)
	if s.Outcome != nil {
		o := *s.Outcome
		o.Winners = append([]string(nil), s.Outcome.Winners...)
		if s.Outcome.ExpDelta != nil {
			o.ExpDelta = make(map[string]int, len(s.Outcome.ExpDelta))
			for k, v := range s.Outcome.ExpDelta {
				o.ExpDelta[k] = v
			}
		}
		c.Outcome = &o
	}
	return c
}

func (s *Session) notification(kind model.EventKind, at time.Time) model.Notification {
	return model.Notification{
		Kind:         kind,
		Recipients:   s.PlayerIDs(),
		SessionID:    s.ID,
		State:        string(s.State),
		Participants: s.PlayerIDs(),
		MatchScore:   s.MatchScore,
		At:           at,
	}
}
