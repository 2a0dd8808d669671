package battle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
	"github.com/kurogames77/puzzcode-sub003/pkg/metrics"
)

// Manager defaults.
const (
	DefaultReadyTimeout   = 30 * time.Second
	DefaultTimeLimit      = 15 * time.Minute
	DefaultRetainResolved = 10_000
	sweepInterval         = time.Second
)

// Settler applies the experience changes of a resolved session and reports them.
type Settler interface {
	Settle(ctx context.Context, s Session) (map[string]int, error)
}

// Manager owns all battle sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	active   map[string]string
	resolved []string
	live     int

	notifier    model.Notifier
	settler     Settler
	pickProblem func(model.MatchRequest) string
	logger      logger.Logger
	now         func() time.Time

	readyTimeout time.Duration
	timeLimit    time.Duration
	retain       int
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:     make(map[string]*Session),
		active:       make(map[string]string),
		notifier:     model.Discard,
		pickProblem:  func(model.MatchRequest) string { return "" },
		logger:       logger.Default().Named("battle"),
		now:          time.Now,
		readyTimeout: DefaultReadyTimeout,
		timeLimit:    DefaultTimeLimit,
		retain:       DefaultRetainResolved,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// effects are applied after the lock is released.
type effects struct {
	notes    []model.Notification
	resolved *Session
}

func (e *effects) announce(s *Session, kind model.EventKind, at time.Time) {
	e.notes = append(e.notes, s.notification(kind, at))
}

// CreateMatch starts a session for req. It fails with ErrPlayerBusy if any
// player is already in a live session; nothing is created in that case.
func (m *Manager) CreateMatch(ctx context.Context, req model.MatchRequest) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}
	now := m.now()
	s := &Session{
		ID:            uuid.NewString(),
		State:         Created,
		MatchType:     req.MatchType,
		Language:      req.Language,
		Origin:        req.Origin,
		MatchScore:    req.Score,
		Problem:       m.pickProblem(req),
		Wager:         req.Wager,
		CreatedAt:     now,
		ReadyDeadline: now.Add(m.readyTimeout),
		TimeLimit:     m.timeLimit,
	}
	for _, id := range req.Players {
		s.Participants = append(s.Participants, Participant{PlayerID: id})
	}

	m.mu.Lock()
	for _, id := range req.Players {
		if sid, ok := m.active[id]; ok {
			m.mu.Unlock()
			return "", fmt.Errorf("%w: %s in %s", ErrPlayerBusy, id, sid)
		}
	}
	m.sessions[s.ID] = s
	for _, id := range req.Players {
		m.active[id] = s.ID
	}
	m.live++
	metrics.UpdateActiveSessions(m.live)
	var fx effects
	fx.announce(s, model.EventMatchFound, now)
	m.mu.Unlock()

	m.apply(ctx, fx)
	return s.ID, nil
}

func validateRequest(req model.MatchRequest) error {
	if len(req.Players) < 2 {
		return fmt.Errorf("%w: need at least two players", ErrInvalidMatch)
	}
	seen := make(map[string]bool, len(req.Players))
	for _, id := range req.Players {
		if id == "" || seen[id] {
			return fmt.Errorf("%w: players must be distinct and non-empty", ErrInvalidMatch)
		}
		seen[id] = true
	}
	return nil
}

// Get returns a copy of the session.
func (m *Manager) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.clone(), nil
}

// ActiveSession returns the live session playerID is in.
func (m *Manager) ActiveSession(playerID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[playerID]
	return id, ok
}

// Live returns the number of unresolved sessions.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Join records that playerID connected to the session.
func (m *Manager) Join(ctx context.Context, id, playerID string) (Session, error) {
	return m.mutate(ctx, id, playerID, func(s *Session, p *Participant, now time.Time, fx *effects) error {
		if s.State != Created && s.State != AwaitingReady && s.State != InProgress {
			return fmt.Errorf("%w: join in %s", ErrInvalidTransition, s.State)
		}
		if p.Forfeited {
			return fmt.Errorf("%w: %s forfeited", ErrInvalidTransition, playerID)
		}
		p.Joined = true
		return m.advance(s, now, fx)
	})
}

// Ready marks playerID ready, joining them if needed.
func (m *Manager) Ready(ctx context.Context, id, playerID string) (Session, error) {
	return m.mutate(ctx, id, playerID, func(s *Session, p *Participant, now time.Time, fx *effects) error {
		if s.State != Created && s.State != AwaitingReady {
			return fmt.Errorf("%w: ready in %s", ErrInvalidTransition, s.State)
		}
		p.Joined, p.Ready = true, true
		return m.advance(s, now, fx)
	})
}

// advance applies the join and ready transitions that the participants allow.
func (m *Manager) advance(s *Session, now time.Time, fx *effects) error {
	if s.State == Created && s.all(func(p Participant) bool { return p.Joined }) {
		if err := s.transition(AwaitingReady); err != nil {
			return err
		}
		fx.announce(s, model.EventStateTransition, now)
	}
	if s.State == AwaitingReady && s.all(func(p Participant) bool { return p.Ready }) {
		return m.start(s, now, fx)
	}
	return nil
}

func (m *Manager) start(s *Session, now time.Time, fx *effects) error {
	if err := s.transition(InProgress); err != nil {
		return err
	}
	s.StartedAt = now
	fx.announce(s, model.EventStateTransition, now)
	return nil
}

// Submit records a graded code submission. Passing code ends the battle
// with the submitter as winner; failing code leaves it in progress.
func (m *Manager) Submit(ctx context.Context, id, playerID, code, language string, passed bool) (Session, error) {
	return m.mutate(ctx, id, playerID, func(s *Session, p *Participant, now time.Time, fx *effects) error {
		if s.State != InProgress {
			return fmt.Errorf("%w: submit in %s", ErrInvalidTransition, s.State)
		}
		if p.Forfeited {
			return fmt.Errorf("%w: %s forfeited", ErrInvalidTransition, playerID)
		}
		if code == "" {
			return ErrEmptySubmission
		}
		p.Submissions++
		p.Language = language
		if !passed {
			return nil
		}
		p.Completed = true
		return m.end(s, Submitted, ReasonSolved, now, fx)
	})
}

// Exit forfeits playerID; the remaining participants win.
func (m *Manager) Exit(ctx context.Context, id, playerID string) (Session, error) {
	return m.mutate(ctx, id, playerID, func(s *Session, p *Participant, now time.Time, fx *effects) error {
		if !CanTransition(s.State, Exited) {
			return fmt.Errorf("%w: exit in %s", ErrInvalidTransition, s.State)
		}
		p.Forfeited = true
		return m.end(s, Exited, ReasonForfeit, now, fx)
	})
}

// end moves s through the terminal path state to Resolved.
func (m *Manager) end(s *Session, path State, reason string, now time.Time, fx *effects) error {
	if err := s.transition(path); err != nil {
		return err
	}
	fx.announce(s, model.EventStateTransition, now)
	if err := s.resolve(now, reason); err != nil {
		return err
	}
	m.release(s)
	fx.announce(s, model.EventStateTransition, now)
	c := s.clone()
	fx.resolved = &c
	return nil
}

// release frees the players of a resolved session. Caller holds mu.
func (m *Manager) release(s *Session) {
	for _, id := range s.PlayerIDs() {
		if m.active[id] == s.ID {
			delete(m.active, id)
		}
	}
	m.live--
	metrics.UpdateActiveSessions(m.live)
	metrics.RecordSessionResolved(string(s.Path))

	m.resolved = append(m.resolved, s.ID)
	for len(m.resolved) > m.retain {
		delete(m.sessions, m.resolved[0])
		m.resolved = m.resolved[1:]
	}
}

func (m *Manager) mutate(ctx context.Context, id, playerID string, fn func(*Session, *Participant, time.Time, *effects) error) (Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	p, err := s.participant(playerID)
	if err != nil {
		m.mu.Unlock()
		return Session{}, err
	}
	var fx effects
	if err := fn(s, p, m.now(), &fx); err != nil {
		m.mu.Unlock()
		return Session{}, err
	}
	out := s.clone()
	m.mu.Unlock()

	if m.apply(ctx, fx) {
		return m.Get(ctx, id)
	}
	return out, nil
}

// apply settles a resolved session and sends notifications. It reports
// whether settlement changed the stored session.
func (m *Manager) apply(ctx context.Context, fx effects) bool {
	settled := false
	if fx.resolved != nil && m.settler != nil {
		deltas, err := m.settler.Settle(ctx, *fx.resolved)
		if err != nil {
			m.logger.Error(ctx, "battle settlement failed",
				logger.String("session", fx.resolved.ID), logger.Error(err))
		} else {
			m.mu.Lock()
			if s, ok := m.sessions[fx.resolved.ID]; ok && s.Outcome != nil {
				s.Outcome.ExpDelta = deltas
				settled = true
			}
			m.mu.Unlock()
		}
	}
	for _, n := range fx.notes {
		m.notifier.Notify(ctx, n)
	}
	return settled
}

// SweepReadyTimeouts starts sessions whose ready deadline passed. Players
// not ready by then forfeit; a session with nobody ready resolves without a
// winner. It returns the number of sessions changed.
func (m *Manager) SweepReadyTimeouts(ctx context.Context, now time.Time) int {
	var all []effects
	m.mu.Lock()
	for _, s := range m.sessions {
		if (s.State != Created && s.State != AwaitingReady) || now.Before(s.ReadyDeadline) {
			continue
		}
		var fx effects
		anyReady := false
		for i := range s.Participants {
			if s.Participants[i].Ready {
				anyReady = true
			} else {
				s.Participants[i].Forfeited = true
			}
		}
		var err error
		if anyReady {
			err = m.start(s, now, &fx)
		} else {
			err = m.end(s, Exited, ReasonReadyTimeout, now, &fx)
		}
		if err != nil {
			m.logger.Error(ctx, "ready timeout transition failed", logger.String("session", s.ID), logger.Error(err))
			continue
		}
		all = append(all, fx)
	}
	m.mu.Unlock()

	for _, fx := range all {
		m.apply(ctx, fx)
	}
	return len(all)
}

// SweepTimeLimits resolves in-progress sessions past their time limit.
// Nobody solved in time, so nobody wins.
func (m *Manager) SweepTimeLimits(ctx context.Context, now time.Time) int {
	var all []effects
	m.mu.Lock()
	for _, s := range m.sessions {
		if s.State != InProgress || now.Before(s.Deadline()) {
			continue
		}
		for i := range s.Participants {
			s.Participants[i].Forfeited = true
		}
		var fx effects
		if err := m.end(s, Exited, ReasonTimeLimit, now, &fx); err != nil {
			m.logger.Error(ctx, "time limit transition failed", logger.String("session", s.ID), logger.Error(err))
			continue
		}
		all = append(all, fx)
	}
	m.mu.Unlock()

	for _, fx := range all {
		m.apply(ctx, fx)
	}
	return len(all)
}

// Run sweeps deadlines until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := m.now()
			m.SweepReadyTimeouts(ctx, now)
			m.SweepTimeLimits(ctx, now)
		}
	}
}
