package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/summary"
)

type ledgerEntry struct {
	key    model.PlayerKey
	result model.AttemptResult
}

type storedAttempt struct {
	attempt model.Attempt
	result  model.AttemptResult
}

// Memory is an in-process Store. Each Update stages its writes and applies
// them under the data mutex on commit.
type Memory struct {
	mu       sync.RWMutex
	skills   map[model.PlayerKey]model.SkillState
	windows  map[model.PlayerKey]*summary.Window
	attempts map[model.PlayerKey][]model.Attempt
	audits   map[model.PlayerKey][]model.AuditRecord
	ledger   map[string]ledgerEntry // player + idempotency key
	levels   map[string]string      // player + level -> lesson of latest attempt
	latest   map[string]model.Attempt

	seq         atomic.Int64
	locks       *keyLocks
	lockTimeout time.Duration
	closed      atomic.Bool
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...Option) *Memory {
	s := &Memory{
		skills:      make(map[model.PlayerKey]model.SkillState),
		windows:     make(map[model.PlayerKey]*summary.Window),
		attempts:    make(map[model.PlayerKey][]model.Attempt),
		audits:      make(map[model.PlayerKey][]model.AuditRecord),
		ledger:      make(map[string]ledgerEntry),
		levels:      make(map[string]string),
		latest:      make(map[string]model.Attempt),
		locks:       newKeyLocks(DefaultMaxLocks),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func ledgerID(playerID, idempotencyKey string) string {
	return playerID + "\x00" + idempotencyKey
}

// Update implements Store.
func (s *Memory) Update(ctx context.Context, key model.PlayerKey, fn func(ctx context.Context, tx Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	release, err := s.locks.acquire(ctx, key, s.lockTimeout)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()

	tx := &memoryTx{store: s, key: key}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

// Result implements Store.
func (s *Memory) Result(_ context.Context, playerID, idempotencyKey string) (model.AttemptResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.ledger[ledgerID(playerID, idempotencyKey)]
	return e.result, ok, nil
}

// Skill implements Store.
func (s *Memory) Skill(_ context.Context, key model.PlayerKey) (model.SkillState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.skills[key]
	return st, ok, nil
}

// Attempts implements Store.
func (s *Memory) Attempts(_ context.Context, key model.PlayerKey) ([]model.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedAttempts(s.attempts[key]), nil
}

// Audits implements Store.
func (s *Memory) Audits(_ context.Context, key model.PlayerKey) ([]model.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.AuditRecord(nil), s.audits[key]...), nil
}

// LessonForLevel implements Store.
func (s *Memory) LessonForLevel(_ context.Context, playerID, levelID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lesson, ok := s.levels[ledgerID(playerID, levelID)]
	return lesson, ok, nil
}

// Ping implements Store.
func (s *Memory) Ping(context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close implements Store.
func (s *Memory) Close() error {
	s.closed.Store(true)
	return nil
}

// HeldLocks returns the number of keys currently held or awaited.
func (s *Memory) HeldLocks() int { return s.locks.size() }

func sortedAttempts(in []model.Attempt) []model.Attempt {
	out := append([]model.Attempt(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[j].NewerThan(out[i]) })
	return out
}

type memoryTx struct {
	store    *Memory
	key      model.PlayerKey
	skill    *model.SkillState
	window   *summary.Window
	attempts []storedAttempt
	audits   []model.AuditRecord
}

func (t *memoryTx) Skill(ctx context.Context) (model.SkillState, bool, error) {
	if t.skill != nil {
		return *t.skill, true, nil
	}
	return t.store.Skill(ctx, t.key)
}

func (t *memoryTx) SaveSkill(_ context.Context, st model.SkillState) error {
	if st.Key() != t.key {
		return fmt.Errorf("save skill %s inside tx for %s", st.Key(), t.key)
	}
	t.skill = &st
	return nil
}

func (t *memoryTx) Summary(_ context.Context) (*summary.Window, bool, error) {
	if t.window != nil {
		return t.window.Clone(), true, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	w, ok := t.store.windows[t.key]
	if !ok {
		return nil, false, nil
	}
	return w.Clone(), true, nil
}

func (t *memoryTx) SaveSummary(_ context.Context, w *summary.Window) error {
	t.window = w.Clone()
	return nil
}

func (t *memoryTx) Attempts(ctx context.Context) ([]model.Attempt, error) {
	committed, err := t.store.Attempts(ctx, t.key)
	if err != nil {
		return nil, err
	}
	for _, sa := range t.attempts {
		committed = append(committed, sa.attempt)
	}
	return sortedAttempts(committed), nil
}

func (t *memoryTx) Result(ctx context.Context, idempotencyKey string) (model.AttemptResult, bool, error) {
	for _, sa := range t.attempts {
		if sa.attempt.IdempotencyKey == idempotencyKey {
			return sa.result, true, nil
		}
	}
	return t.store.Result(ctx, t.key.PlayerID, idempotencyKey)
}

func (t *memoryTx) AppendAttempt(ctx context.Context, a model.Attempt, res model.AttemptResult) (model.Attempt, error) {
	if a.Key() != t.key {
		return model.Attempt{}, fmt.Errorf("append attempt %s inside tx for %s", a.Key(), t.key)
	}
	if a.IdempotencyKey != "" {
		if _, dup, _ := t.Result(ctx, a.IdempotencyKey); dup {
			return model.Attempt{}, ErrDuplicateKey
		}
	}
	a.Seq = t.store.seq.Add(1)
	t.attempts = append(t.attempts, storedAttempt{attempt: a, result: res})
	return a, nil
}

func (t *memoryTx) AppendAudit(_ context.Context, r model.AuditRecord) error {
	t.audits = append(t.audits, r)
	return nil
}

// commit applies the staged writes. Idempotency keys are re-checked here
// because another lesson of the same player may have committed meanwhile.
func (t *memoryTx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sa := range t.attempts {
		if sa.attempt.IdempotencyKey == "" {
			continue
		}
		if _, dup := s.ledger[ledgerID(t.key.PlayerID, sa.attempt.IdempotencyKey)]; dup {
			return ErrDuplicateKey
		}
	}

	for _, sa := range t.attempts {
		a := sa.attempt
		s.attempts[t.key] = append(s.attempts[t.key], a)
		if a.IdempotencyKey != "" {
			s.ledger[ledgerID(a.PlayerID, a.IdempotencyKey)] = ledgerEntry{key: t.key, result: sa.result}
		}
		lvl := ledgerID(a.PlayerID, a.LevelID)
		if prev, ok := s.latest[lvl]; !ok || a.NewerThan(prev) {
			s.latest[lvl] = a
			s.levels[lvl] = a.LessonID
		}
	}
	if t.skill != nil {
		s.skills[t.key] = *t.skill
	}
	if t.window != nil {
		s.windows[t.key] = t.window
	}
	s.audits[t.key] = append(s.audits[t.key], t.audits...)
	return nil
}
