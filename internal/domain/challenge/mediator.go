// Package challenge mediates direct battle invitations between two players.
package challenge

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

// Mediator defaults.
const (
	DefaultTTL        = 5 * time.Minute
	DefaultMaxPending = 10_000
	DefaultRetain     = 10_000
	sweepInterval     = time.Second
)

// Status is a challenge status.
type Status string

const (
	Pending  Status = "pending"
	Accepted Status = "accepted"
	Declined Status = "declined"
	Expired  Status = "expired"
)

// Challenge is a direct invite from one player to another.
type Challenge struct {
	ID          string    `json:"id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Language    string    `json:"language"`
	Wager       int       `json:"wager,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	RespondedAt time.Time `json:"respondedAt,omitempty"`
	SessionID   string    `json:"sessionId,omitempty"`
}

// SessionFactory creates the battle for an accepted challenge.
type SessionFactory interface {
	CreateMatch(ctx context.Context, req model.MatchRequest) (string, error)
}

// Option applies a configuration option to the Mediator.
type Option func(*Mediator)

// WithTTL sets how long a challenge stays pending.
func WithTTL(d time.Duration) Option {
	return func(m *Mediator) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithMaxPending bounds the number of pending challenges.
func WithMaxPending(n int) Option {
	return func(m *Mediator) {
		if n > 0 {
			m.maxPending = n
		}
	}
}

// WithNotifier sets where status changes are announced.
func WithNotifier(n model.Notifier) Option {
	return func(m *Mediator) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Mediator) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Mediator) {
		if l != nil {
			m.logger = l
		}
	}
}

// Mediator owns all challenges.
type Mediator struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
	accepting  map[string]struct{}
	closed     []string
	pending    int

	sessions SessionFactory
	notifier model.Notifier
	logger   logger.Logger
	now      func() time.Time

	ttl        time.Duration
	maxPending int
	retain     int
}

// NewMediator creates a Mediator that starts battles through sessions.
func NewMediator(sessions SessionFactory, opts ...Option) *Mediator {
	m := &Mediator{
		challenges: make(map[string]*Challenge),
		accepting:  make(map[string]struct{}),
		sessions:   sessions,
		notifier:   model.Discard,
		logger:     logger.Default().Named("challenge"),
		now:        time.Now,
		ttl:        DefaultTTL,
		maxPending: DefaultMaxPending,
		retain:     DefaultRetain,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a pending challenge from → to.
func (m *Mediator) Create(ctx context.Context, from, to, language string, wager int) (Challenge, error) {
	switch {
	case from == "" || to == "" || language == "":
		return Challenge{}, fmt.Errorf("%w: from, to and language are required", ErrInvalidChallenge)
	case from == to:
		return Challenge{}, ErrSelfChallenge
	case wager < 0:
		return Challenge{}, fmt.Errorf("%w: negative wager", ErrInvalidChallenge)
	}

	now := m.now()
	c := &Challenge{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Language:  language,
		Wager:     wager,
		Status:    Pending,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	m.mu.Lock()
	if m.pending >= m.maxPending {
		m.mu.Unlock()
		return Challenge{}, ErrTooManyPending
	}
	m.challenges[c.ID] = c
	m.pending++
	out := *c
	m.mu.Unlock()

	metrics.RecordChallenge(string(Pending))
	m.announce(ctx, out)
	return out, nil
}

// Respond accepts or declines a pending challenge on behalf of its target.
// Acceptance creates the battle; if that fails the challenge stays pending.
// The battle is created without holding mu, so other challenges are not held up
// by a slow factory; while it runs the challenge answers ErrNotPending.
func (m *Mediator) Respond(ctx context.Context, id, by string, accept bool) (Challenge, error) {
	m.mu.Lock()
	c, ok := m.challenges[id]
	if !ok {
		m.mu.Unlock()
		return Challenge{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if c.To != by {
		m.mu.Unlock()
		return Challenge{}, ErrNotTarget
	}
	if _, busy := m.accepting[id]; busy {
		m.mu.Unlock()
		return Challenge{}, fmt.Errorf("%w: accept in progress", ErrNotPending)
	}
	now := m.now()
	if c.Status == Pending && !now.Before(c.ExpiresAt) {
		m.close(c, Expired, now)
		out := *c
		m.mu.Unlock()
		m.announce(ctx, out)
		return out, fmt.Errorf("%w: expired", ErrNotPending)
	}
	if c.Status != Pending {
		m.mu.Unlock()
		return Challenge{}, fmt.Errorf("%w: %s", ErrNotPending, c.Status)
	}

	if !accept {
		m.close(c, Declined, now)
		out := *c
		m.mu.Unlock()
		m.announce(ctx, out)
		return out, nil
	}

	m.accepting[id] = struct{}{}
	req := model.MatchRequest{
		Players:   []string{c.From, c.To},
		MatchType: "challenge",
		Language:  c.Language,
		Score:     1,
		Origin:    model.OriginChallenge,
		Wager:     c.Wager,
	}
	m.mu.Unlock()

	sid, err := m.sessions.CreateMatch(ctx, req)

	m.mu.Lock()
	delete(m.accepting, id)
	if err != nil {
		m.mu.Unlock()
		return Challenge{}, fmt.Errorf("accept challenge %s: %w", id, err)
	}
	c.SessionID = sid
	m.close(c, Accepted, now)
	out := *c
	m.mu.Unlock()

	metrics.RecordMatchCreated(model.OriginChallenge, 1)
	m.announce(ctx, out)
	return out, nil
}

// Get returns a copy of the challenge.
func (m *Mediator) Get(_ context.Context, id string) (Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok {
		return Challenge{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *c, nil
}

// Sweep expires pending challenges past their TTL and returns how many.
func (m *Mediator) Sweep(ctx context.Context, now time.Time) int {
	var expired []Challenge
	m.mu.Lock()
	for id, c := range m.challenges {
		if _, busy := m.accepting[id]; busy {
			continue
		}
		if c.Status == Pending && !now.Before(c.ExpiresAt) {
			m.close(c, Expired, now)
			expired = append(expired, *c)
		}
	}
	m.mu.Unlock()

	for _, c := range expired {
		m.announce(ctx, c)
	}
	return len(expired)
}

// Run sweeps expirations until ctx ends.
func (m *Mediator) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Sweep(ctx, m.now()); n > 0 {
				m.logger.Debug(ctx, "challenges expired", logger.Int("count", n))
			}
		}
	}
}

// close ends a pending challenge. Caller holds mu.
func (m *Mediator) close(c *Challenge, status Status, now time.Time) {
	c.Status = status
	c.RespondedAt = now
	m.pending--
	metrics.RecordChallenge(string(status))

	m.closed = append(m.closed, c.ID)
	for len(m.closed) > m.retain {
		delete(m.challenges, m.closed[0])
		m.closed = m.closed[1:]
	}
}

func (m *Mediator) announce(ctx context.Context, c Challenge) { //nolint:gocritic // hugeParam: copies are handed out by value
	m.notifier.Notify(ctx, model.Notification{
		Kind:        model.EventChallengeUpdate,
		Recipients:  []string{c.From, c.To},
		ChallengeID: c.ID,
		SessionID:   c.SessionID,
		State:       string(c.Status),
		At:          m.now(),
	})
}
