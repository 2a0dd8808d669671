package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/summary"
)

func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("PUZZ_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("PUZZ_TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, err := NewPostgres(ctx, url, WithPostgresLockTimeout(200*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPostgres_UpdateAndReplay(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()
	key := model.PlayerKey{PlayerID: "pg-" + uuid.NewString(), LessonID: "l1"}
	want := model.AttemptResult{NewDifficulty: 0.53, DifficultyLabel: "Medium", PredictedSuccess: 0.5}

	err := p.Update(ctx, key, func(ctx context.Context, tx Tx) error {
		_, found, err := tx.Skill(ctx)
		require.NoError(t, err)
		require.False(t, found)

		a, err := tx.AppendAttempt(ctx, attemptFor(key, "lvl", "abc-123", true, time.Now().UTC()), want)
		require.NoError(t, err)
		require.NotZero(t, a.Seq)

		w := summary.New(summary.DefaultSize)
		w.Push(a)
		require.NoError(t, tx.SaveSummary(ctx, w))
		require.NoError(t, tx.AppendAudit(ctx, model.AuditRecord{PlayerID: key.PlayerID, LessonID: key.LessonID, LevelID: "lvl", OldDifficulty: 0.5, NewDifficulty: 0.53, CreatedAt: a.CreatedAt}))
		return tx.SaveSkill(ctx, model.SkillState{PlayerID: key.PlayerID, LessonID: key.LessonID, Beta: 0.53, Label: "Medium", Version: 1, UpdatedAt: a.CreatedAt})
	})
	require.NoError(t, err)

	got, found, err := p.Result(ctx, key.PlayerID, "abc-123")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, want, got)

	st, found, err := p.Skill(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.InDelta(t, 0.53, st.Beta, 1e-12)

	audits, err := p.Audits(ctx, key)
	require.NoError(t, err)
	require.Len(t, audits, 1)

	lesson, found, err := p.LessonForLevel(ctx, key.PlayerID, "lvl")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "l1", lesson)

	err = p.Update(ctx, model.PlayerKey{PlayerID: key.PlayerID, LessonID: "l2"}, func(ctx context.Context, tx Tx) error {
		_, err := tx.AppendAttempt(ctx, attemptFor(model.PlayerKey{PlayerID: key.PlayerID, LessonID: "l2"}, "lvl", "abc-123", false, time.Now().UTC()), model.AttemptResult{})
		return err
	})
	require.True(t, errors.Is(err, ErrDuplicateKey), "got %v", err)
}

func TestPostgres_LockTimeout(t *testing.T) {
	p := newTestPostgres(t)
	ctx := context.Background()
	key := model.PlayerKey{PlayerID: "pg-" + uuid.NewString()}

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = p.Update(ctx, key, func(context.Context, Tx) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := p.Update(ctx, key, func(context.Context, Tx) error { return nil })
	close(done)
	require.True(t, errors.Is(err, ErrLockTimeout), "got %v", err)
}
