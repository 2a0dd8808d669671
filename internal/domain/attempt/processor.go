// Package attempt processes puzzle submissions into skill and difficulty updates.
//
// A submission is validated, checked against the idempotency ledger, then
// applied under the exclusive scope of its (player, lesson) key: the skill
// model and difficulty controller run on the locked state, and the attempt
// row, performance window, audit record and new state commit together.
package attempt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/adapters/repository"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/compute"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/difficulty"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/idempotency"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/progression"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/summary"
	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
	"github.com/kurogames77/puzzcode-sub003/pkg/metrics"
	"github.com/kurogames77/puzzcode-sub003/pkg/retry"
)

// Attempt outcomes reported to metrics.
const (
	outcomeProcessed = "processed"
	outcomeReplayed  = "replayed"
	outcomeRejected  = "rejected"
	outcomeRetryable = "retryable"
	outcomeFailed    = "failed"
)

// AuditSink receives committed audit records for publication.
type AuditSink interface {
	Enqueue(ctx context.Context, r model.AuditRecord) error
}

// Outcome is what Submit returns.
type Outcome struct {
	Result model.AttemptResult
	// Replayed is set when the result was served from the idempotency ledger.
	Replayed bool
	// Progress is the experience change; empty on replay.
	Progress progression.Outcome
}

// Snapshot is the progress view of one (player, lesson).
type Snapshot struct {
	LevelID string           `json:"levelId"`
	Found   bool             `json:"found"`
	State   model.SkillState `json:"state"`
	Summary summary.Stats    `json:"summary"`
}

// Processor implements the attempt pipeline.
type Processor struct {
	store    repository.Store
	computer compute.Computer
	replays  idempotency.Cache
	windows  *summary.Cache
	sink     AuditSink
	logger   logger.Logger
	now      func() time.Time

	windowSize     int
	successWindow  int
	epsilon        float64
	initialTheta   float64
	initialBeta    float64
	lockRetries    int
	lockRetryDelay time.Duration
}

// NewProcessor creates a Processor over store and computer.
func NewProcessor(store repository.Store, computer compute.Computer, opts ...Option) *Processor {
	p := &Processor{
		store:          store,
		computer:       computer,
		logger:         logger.Default().Named("attempt"),
		now:            time.Now,
		windowSize:     summary.DefaultSize,
		successWindow:  difficulty.DefaultParams().SuccessWindow,
		epsilon:        DefaultEpsilon,
		initialTheta:   DefaultInitialTheta,
		initialBeta:    DefaultInitialBeta,
		lockRetries:    retry.DefaultConfig().MaxAttempts,
		lockRetryDelay: retry.DefaultConfig().InitialDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.replays == nil {
		p.replays = idempotency.NewInMemory()
	}
	if p.windows == nil {
		p.windows = summary.NewCache(summary.DefaultCacheCapacity)
	}
	return p
}

// Submit processes one submission for playerID.
func (p *Processor) Submit(ctx context.Context, playerID string, sub Submission) (Outcome, error) {
	start := time.Now()
	out, err := p.submit(ctx, playerID, sub)
	outcome := outcomeProcessed
	switch {
	case err == nil && out.Replayed:
		outcome = outcomeReplayed
	case errors.Is(err, ErrValidation):
		outcome = outcomeRejected
	case errors.Is(err, ErrRetryable):
		outcome = outcomeRetryable
	case err != nil:
		outcome = outcomeFailed
	}
	metrics.RecordAttempt(outcome, float64(time.Since(start).Milliseconds()))
	return out, err
}

func (p *Processor) submit(ctx context.Context, playerID string, sub Submission) (Outcome, error) {
	if err := sub.Validate(playerID); err != nil {
		return Outcome{}, err
	}

	idem := sub.IdempotencyKey
	if idem != "" {
		if res, ok, err := p.replay(ctx, playerID, idem); err != nil || ok {
			return Outcome{Result: res, Replayed: ok}, err
		}
	}

	key := model.PlayerKey{PlayerID: playerID, LessonID: sub.LessonID}
	var (
		out    Outcome
		audit  *model.AuditRecord
		window *summary.Window
	)
	err := retry.Do(ctx, func(ctx context.Context) error {
		out, audit, window = Outcome{}, nil, nil
		return p.store.Update(ctx, key, func(ctx context.Context, tx repository.Tx) error {
			var err error
			out, audit, window, err = p.apply(ctx, tx, key, sub)
			return err
		})
	},
		retry.WithMaxAttempts(p.lockRetries),
		retry.WithInitialDelay(p.lockRetryDelay),
		retry.WithRetryIf(func(err error) bool { return errors.Is(err, repository.ErrLockTimeout) }),
		retry.WithOnRetry(func(n int, err error, delay time.Duration) {
			metrics.RecordLockRetry()
			p.logger.Warn(ctx, "skill state locked, retrying",
				logger.String("key", key.String()), logger.Int("attempt", n),
				logger.Duration("delay", delay), logger.Error(err))
		}),
	)

	switch {
	case err == nil:
	case errors.Is(err, repository.ErrDuplicateKey):
		// Another lesson of the same player committed this key first.
		res, ok, lerr := p.replay(ctx, playerID, idem)
		if lerr != nil {
			return Outcome{}, lerr
		}
		if !ok {
			return Outcome{}, fmt.Errorf("submit: duplicate key %q without stored result", idem)
		}
		return Outcome{Result: res, Replayed: true}, nil
	case errors.Is(err, repository.ErrLockTimeout):
		return Outcome{}, fmt.Errorf("submit %s: %w", key, errors.Join(ErrRetryable, err))
	default:
		return Outcome{}, fmt.Errorf("submit %s: %w", key, err)
	}

	if out.Replayed {
		p.replays.Remember(ctx, playerID, idem, out.Result)
		return out, nil
	}

	p.replays.Remember(ctx, playerID, idem, out.Result)
	if window != nil {
		p.windows.Put(key, window)
	}
	if audit != nil {
		metrics.RecordDifficultyChange(audit.Rule)
		if p.sink != nil {
			if err := p.sink.Enqueue(ctx, *audit); err != nil {
				p.logger.Warn(ctx, "audit record not queued for publication",
					logger.String("key", key.String()), logger.Error(err))
			}
		}
	}
	return out, nil
}

// replay looks the key up in the cache, then in the durable ledger.
func (p *Processor) replay(ctx context.Context, playerID, idem string) (model.AttemptResult, bool, error) {
	if res, ok := p.replays.Lookup(ctx, playerID, idem); ok {
		return res, true, nil
	}
	res, ok, err := p.store.Result(ctx, playerID, idem)
	if err != nil {
		return model.AttemptResult{}, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if ok {
		p.replays.Remember(ctx, playerID, idem, res)
	}
	return res, ok, nil
}

// apply runs inside the exclusive scope of key.
func (p *Processor) apply(ctx context.Context, tx repository.Tx, key model.PlayerKey, sub Submission) (Outcome, *model.AuditRecord, *summary.Window, error) {
	if sub.IdempotencyKey != "" {
		res, ok, err := tx.Result(ctx, sub.IdempotencyKey)
		if err != nil {
			return Outcome{}, nil, nil, err
		}
		if ok {
			return Outcome{Result: res, Replayed: true}, nil, nil, nil
		}
	}

	st, found, err := tx.Skill(ctx)
	if err != nil {
		return Outcome{}, nil, nil, err
	}
	if !found {
		st = p.initialState(key)
	}

	w, err := p.loadWindow(ctx, tx)
	if err != nil {
		return Outcome{}, nil, nil, err
	}

	success := *sub.Success
	a := model.Attempt{
		PlayerID:       key.PlayerID,
		LessonID:       key.LessonID,
		LevelID:        sub.LevelID,
		Success:        success,
		IdempotencyKey: sub.IdempotencyKey,
		CreatedAt:      p.timestamp(st.UpdatedAt),
	}
	if sub.AttemptTime != nil {
		a.ElapsedSeconds = *sub.AttemptTime
	}

	// The window the controller sees includes this attempt.
	probe := w.Clone()
	probe.Push(a)
	u, err := p.computer.Compute(ctx, compute.Request{
		Theta:           st.Theta,
		BetaOld:         st.Beta,
		Success:         success,
		ObservedRate:    probe.SuccessRate(),
		FailStreak:      probe.Stats.CurrentFailStreak,
		RecentSuccesses: probe.SuccessesInLast(p.successWindow),
		LastSuccess:     probe.LastSuccess(),
	})
	if err != nil {
		return Outcome{}, nil, nil, errors.Join(ErrComputeUnavailable, err)
	}

	res := model.AttemptResult{
		NewDifficulty:    u.BetaNew,
		DifficultyLabel:  u.Label,
		PredictedSuccess: u.PredictedSuccess,
		Switched:         u.Label != st.Label,
	}

	stored, err := tx.AppendAttempt(ctx, a, res)
	if err != nil {
		return Outcome{}, nil, nil, err
	}
	w.Push(stored)
	if err := tx.SaveSummary(ctx, w); err != nil {
		return Outcome{}, nil, nil, err
	}

	var audit *model.AuditRecord
	if math.Abs(u.BetaNew-st.Beta) > p.epsilon {
		audit = &model.AuditRecord{
			PlayerID:       key.PlayerID,
			LessonID:       key.LessonID,
			LevelID:        sub.LevelID,
			OldDifficulty:  st.Beta,
			NewDifficulty:  u.BetaNew,
			Rule:           u.Rule,
			IdempotencyKey: sub.IdempotencyKey,
			CreatedAt:      stored.CreatedAt,
		}
		if err := tx.AppendAudit(ctx, *audit); err != nil {
			return Outcome{}, nil, nil, err
		}
	}

	st.Theta, st.Beta, st.Label = u.ThetaNew, u.BetaNew, u.Label
	if success {
		st.Successes++
	} else {
		st.Failures++
	}
	st.Version++
	st.UpdatedAt = stored.CreatedAt
	progress := progression.Apply(&st, u.Label, success, w.Stats.CurrentSuccessStreak)
	if err := tx.SaveSkill(ctx, st); err != nil {
		return Outcome{}, nil, nil, err
	}

	return Outcome{Result: res, Progress: progress}, audit, w, nil
}

func (p *Processor) initialState(key model.PlayerKey) model.SkillState {
	return model.SkillState{
		PlayerID: key.PlayerID,
		LessonID: key.LessonID,
		Theta:    p.initialTheta,
		Beta:     p.initialBeta,
		Label:    difficulty.Label(p.initialBeta),
		Rank:     progression.RankFor(0),
	}
}

// loadWindow returns the persisted window, rebuilding it from the attempt log
// when it is missing or sized differently.
func (p *Processor) loadWindow(ctx context.Context, tx repository.Tx) (*summary.Window, error) {
	w, ok, err := tx.Summary(ctx)
	if err != nil {
		return nil, err
	}
	if ok && w.Size == p.windowSize {
		return w, nil
	}
	attempts, err := tx.Attempts(ctx)
	if err != nil {
		return nil, err
	}
	if len(attempts) > 0 {
		metrics.RecordSummaryRebuild()
	}
	return summary.Rebuild(attempts, p.windowSize), nil
}

// timestamp returns a server time strictly after last. Timestamps are taken
// inside the exclusive scope, so their order is the order updates apply in.
func (p *Processor) timestamp(last time.Time) time.Time {
	now := p.now().UTC().Truncate(time.Microsecond)
	if !last.IsZero() && !now.After(last) {
		now = last.Add(time.Microsecond)
	}
	return now
}

// Progress returns the state of the lesson the player last attempted levelID in.
func (p *Processor) Progress(ctx context.Context, playerID, levelID string) (Snapshot, error) {
	snap := Snapshot{LevelID: levelID}
	if playerID == "" || levelID == "" {
		verr := &ValidationError{}
		if playerID == "" {
			verr.add("playerId", "required")
		}
		if levelID == "" {
			verr.add("levelId", "required")
		}
		return snap, verr
	}

	lesson, ok, err := p.store.LessonForLevel(ctx, playerID, levelID)
	if err != nil {
		return snap, fmt.Errorf("progress: %w", err)
	}
	if !ok {
		lesson = model.GlobalLesson
	}
	key := model.PlayerKey{PlayerID: playerID, LessonID: lesson}

	st, found, err := p.store.Skill(ctx, key)
	if err != nil {
		return snap, fmt.Errorf("progress: %w", err)
	}
	if !found {
		snap.State = p.initialState(key)
		return snap, nil
	}
	snap.Found, snap.State = true, st

	w, cached := p.windows.Get(key)
	if !cached || !w.Stats.LastAttemptAt.Equal(st.UpdatedAt) {
		attempts, err := p.store.Attempts(ctx, key)
		if err != nil {
			return snap, fmt.Errorf("progress: %w", err)
		}
		w = summary.Rebuild(attempts, p.windowSize)
		p.windows.Put(key, w)
	}
	snap.Summary = w.Stats
	return snap, nil
}

// RebuildSummary recomputes key's window from the attempt log and persists it.
func (p *Processor) RebuildSummary(ctx context.Context, key model.PlayerKey) (*summary.Window, error) {
	var w *summary.Window
	err := retry.Do(ctx, func(ctx context.Context) error {
		return p.store.Update(ctx, key, func(ctx context.Context, tx repository.Tx) error {
			attempts, err := tx.Attempts(ctx)
			if err != nil {
				return err
			}
			w = summary.Rebuild(attempts, p.windowSize)
			return tx.SaveSummary(ctx, w)
		})
	},
		retry.WithMaxAttempts(p.lockRetries),
		retry.WithInitialDelay(p.lockRetryDelay),
		retry.WithRetryIf(func(err error) bool { return errors.Is(err, repository.ErrLockTimeout) }),
	)
	if errors.Is(err, repository.ErrLockTimeout) {
		return nil, fmt.Errorf("rebuild %s: %w", key, errors.Join(ErrRetryable, err))
	}
	if err != nil {
		return nil, fmt.Errorf("rebuild %s: %w", key, err)
	}
	metrics.RecordSummaryRebuild()
	p.windows.Put(key, w)
	return w, nil
}
