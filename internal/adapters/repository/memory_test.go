package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/summary"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func attemptFor(key model.PlayerKey, level, idem string, success bool, at time.Time) model.Attempt {
	return model.Attempt{
		PlayerID:       key.PlayerID,
		LessonID:       key.LessonID,
		LevelID:        level,
		Success:        success,
		IdempotencyKey: idem,
		CreatedAt:      at,
	}
}

func TestMemory_UpdateCommitsAtomically(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	key := model.PlayerKey{PlayerID: "p1", LessonID: "l1"}

	err := s.Update(ctx, key, func(ctx context.Context, tx Tx) error {
		if _, found, _ := tx.Skill(ctx); found {
			t.Error("expected no state for a new key")
		}
		a, err := tx.AppendAttempt(ctx, attemptFor(key, "lvl1", "k1", true, t0), model.AttemptResult{NewDifficulty: 0.53})
		if err != nil {
			return err
		}
		if a.Seq == 0 {
			t.Error("expected a sequence number")
		}
		w := summary.New(3)
		w.Push(a)
		if err := tx.SaveSummary(ctx, w); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, model.AuditRecord{PlayerID: "p1", LessonID: "l1", OldDifficulty: 0.5, NewDifficulty: 0.53}); err != nil {
			return err
		}
		return tx.SaveSkill(ctx, model.SkillState{PlayerID: "p1", LessonID: "l1", Beta: 0.53, Version: 1})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, found, _ := s.Skill(ctx, key)
	if !found || st.Beta != 0.53 {
		t.Errorf("expected committed state, got %+v found=%v", st, found)
	}
	res, found, _ := s.Result(ctx, "p1", "k1")
	if !found || res.NewDifficulty != 0.53 {
		t.Errorf("expected stored result, got %+v found=%v", res, found)
	}
	attempts, _ := s.Attempts(ctx, key)
	if len(attempts) != 1 {
		t.Errorf("expected 1 attempt, got %d", len(attempts))
	}
	audits, _ := s.Audits(ctx, key)
	if len(audits) != 1 {
		t.Errorf("expected 1 audit record, got %d", len(audits))
	}
	lesson, found, _ := s.LessonForLevel(ctx, "p1", "lvl1")
	if !found || lesson != "l1" {
		t.Errorf("expected lesson l1, got %q found=%v", lesson, found)
	}
}

func TestMemory_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	key := model.PlayerKey{PlayerID: "p1"}
	boom := errors.New("boom")

	err := s.Update(ctx, key, func(ctx context.Context, tx Tx) error {
		if _, err := tx.AppendAttempt(ctx, attemptFor(key, "lvl", "k1", true, t0), model.AttemptResult{}); err != nil {
			return err
		}
		if err := tx.SaveSkill(ctx, model.SkillState{PlayerID: "p1", Version: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if _, found, _ := s.Skill(ctx, key); found {
		t.Error("expected no state after rollback")
	}
	if _, found, _ := s.Result(ctx, "p1", "k1"); found {
		t.Error("expected no ledger entry after rollback")
	}
	if n := s.HeldLocks(); n != 0 {
		t.Errorf("expected lock table to drain, got %d", n)
	}
}

func TestMemory_DuplicateKeyAcrossLessons(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	a := model.PlayerKey{PlayerID: "p1", LessonID: "a"}
	b := model.PlayerKey{PlayerID: "p1", LessonID: "b"}

	if err := s.Update(ctx, a, func(ctx context.Context, tx Tx) error {
		_, err := tx.AppendAttempt(ctx, attemptFor(a, "lvl", "same", true, t0), model.AttemptResult{})
		return err
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := s.Update(ctx, b, func(ctx context.Context, tx Tx) error {
		_, err := tx.AppendAttempt(ctx, attemptFor(b, "lvl", "same", false, t0), model.AttemptResult{})
		return err
	})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	// Another player may reuse the key.
	c := model.PlayerKey{PlayerID: "p2", LessonID: "a"}
	if err := s.Update(ctx, c, func(ctx context.Context, tx Tx) error {
		_, err := tx.AppendAttempt(ctx, attemptFor(c, "lvl", "same", true, t0), model.AttemptResult{})
		return err
	}); err != nil {
		t.Fatalf("keys must be scoped per player: %v", err)
	}
}

func TestMemory_LockTimeout(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(WithLockTimeout(20 * time.Millisecond))
	key := model.PlayerKey{PlayerID: "p1"}

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.Update(ctx, key, func(context.Context, Tx) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := s.Update(ctx, key, func(context.Context, Tx) error { return nil })
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}

	// A different lesson of the same player does not contend.
	if err := s.Update(ctx, model.PlayerKey{PlayerID: "p1", LessonID: "other"}, func(context.Context, Tx) error { return nil }); err != nil {
		t.Errorf("disjoint keys must not contend: %v", err)
	}
	close(done)
}

func TestMemory_LockTableBound(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(WithMaxLocks(1), WithLockTimeout(time.Second))

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.Update(ctx, model.PlayerKey{PlayerID: "a"}, func(context.Context, Tx) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := s.Update(ctx, model.PlayerKey{PlayerID: "b"}, func(context.Context, Tx) error { return nil })
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("expected a full lock table to refuse, got %v", err)
	}
	close(done)
}

func TestMemory_SerializesSameKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	key := model.PlayerKey{PlayerID: "p1"}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, key, func(ctx context.Context, tx Tx) error {
				st, _, err := tx.Skill(ctx)
				if err != nil {
					return err
				}
				st.PlayerID = key.PlayerID
				st.Successes++
				st.Version++
				return tx.SaveSkill(ctx, st)
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	st, _, _ := s.Skill(ctx, key)
	if st.Successes != n {
		t.Errorf("expected %d serialized increments, got %d", n, st.Successes)
	}
}

func TestMemory_Closed(t *testing.T) {
	s := NewMemory()
	_ = s.Close()
	if err := s.Ping(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	err := s.Update(context.Background(), model.PlayerKey{PlayerID: "p"}, func(context.Context, Tx) error { return nil })
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
