package attempt_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kurogames77/puzzcode-sub003/internal/adapters/repository"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/attempt"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/compute"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/difficulty"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/skill"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/summary"
	. "github.com/smartystreets/goconvey/convey"
)

func ptr[T any](v T) *T { return &v }

func localComputer(params difficulty.Params) compute.Computer {
	c, err := difficulty.NewController(params)
	if err != nil {
		panic(err)
	}
	return compute.NewLocal(skill.Default(), c)
}

type sinkRecorder struct {
	mu      sync.Mutex
	records []model.AuditRecord
}

func (s *sinkRecorder) Enqueue(_ context.Context, r model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *sinkRecorder) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// lockedStore reports every Update as a lock timeout.
type lockedStore struct {
	*repository.Memory
	calls atomic.Int32
}

func (s *lockedStore) Update(context.Context, model.PlayerKey, func(context.Context, repository.Tx) error) error {
	s.calls.Add(1)
	return repository.ErrLockTimeout
}

type failingComputer struct{}

func (failingComputer) Compute(context.Context, compute.Request) (compute.Update, error) {
	return compute.Update{}, compute.ErrUnavailable
}

func TestSubmitScenarios(t *testing.T) {
	ctx := context.Background()

	Convey("Given a processor starting at theta=0.5, beta=0.5", t, func() {
		store := repository.NewMemory()
		sink := &sinkRecorder{}
		p := attempt.NewProcessor(store, localComputer(difficulty.DefaultParams()),
			attempt.WithInitialState(0.5, 0.5),
			attempt.WithAuditSink(sink),
		)

		Convey("Five consecutive successes raise prediction and difficulty every step", func() {
			prevP, prevBeta := -1.0, 0.5
			for i := 0; i < 5; i++ {
				out, err := p.Submit(ctx, "p1", attempt.Submission{LevelID: "lvl1", Success: ptr(true)})
				So(err, ShouldBeNil)
				So(out.Replayed, ShouldBeFalse)
				So(out.Result.PredictedSuccess, ShouldBeGreaterThan, prevP)
				So(out.Result.NewDifficulty, ShouldBeGreaterThan, prevBeta)
				So(out.Result.NewDifficulty, ShouldBeLessThanOrEqualTo, 1.0)
				So(out.Result.DifficultyLabel, ShouldEqual, difficulty.Label(out.Result.NewDifficulty))
				So(out.Result.Switched, ShouldEqual, difficulty.Label(prevBeta) != out.Result.DifficultyLabel)
				prevP, prevBeta = out.Result.PredictedSuccess, out.Result.NewDifficulty
			}
			So(prevBeta, ShouldAlmostEqual, 0.65, 1e-9)

			key := model.PlayerKey{PlayerID: "p1"}
			attempts, _ := store.Attempts(ctx, key)
			So(attempts, ShouldHaveLength, 5)
			audits, _ := store.Audits(ctx, key)
			So(audits, ShouldHaveLength, 5)
			So(sink.len(), ShouldEqual, 5)

			st, _, _ := store.Skill(ctx, key)
			So(st.Successes, ShouldEqual, 5)
			So(st.Version, ShouldEqual, 5)
			So(st.Exp, ShouldBeGreaterThan, 0)
		})

		Convey("A replayed key returns the first stored result", func() {
			first, err := p.Submit(ctx, "p1", attempt.Submission{LevelID: "lvl1", Success: ptr(true), IdempotencyKey: "abc-123"})
			So(err, ShouldBeNil)

			second, err := p.Submit(ctx, "p1", attempt.Submission{LevelID: "lvl1", Success: ptr(false), IdempotencyKey: "abc-123"})
			So(err, ShouldBeNil)
			So(second.Replayed, ShouldBeTrue)
			So(second.Result, ShouldResemble, first.Result)

			attempts, _ := store.Attempts(ctx, model.PlayerKey{PlayerID: "p1"})
			So(attempts, ShouldHaveLength, 1)
			So(sink.len(), ShouldEqual, 1)
		})

		Convey("Replays survive a cold cache and other lessons", func() {
			first, err := p.Submit(ctx, "p1", attempt.Submission{LevelID: "lvl1", LessonID: "a", Success: ptr(true), IdempotencyKey: "k"})
			So(err, ShouldBeNil)

			cold := attempt.NewProcessor(store, localComputer(difficulty.DefaultParams()))
			again, err := cold.Submit(ctx, "p1", attempt.Submission{LevelID: "lvl9", LessonID: "b", Success: ptr(false), IdempotencyKey: "k"})
			So(err, ShouldBeNil)
			So(again.Replayed, ShouldBeTrue)
			So(again.Result, ShouldResemble, first.Result)

			other, err := cold.Submit(ctx, "p2", attempt.Submission{LevelID: "lvl1", Success: ptr(false), IdempotencyKey: "k"})
			So(err, ShouldBeNil)
			So(other.Replayed, ShouldBeFalse)
		})

		Convey("Repeated concurrent replays write at most one audit record", func() {
			g, gctx := errgroup.WithContext(ctx)
			for i := 0; i < 10; i++ {
				g.Go(func() error {
					_, err := p.Submit(gctx, "p1", attempt.Submission{LevelID: "lvl1", Success: ptr(true), IdempotencyKey: "same"})
					return err
				})
			}
			So(g.Wait(), ShouldBeNil)
			audits, _ := store.Audits(ctx, model.PlayerKey{PlayerID: "p1"})
			So(audits, ShouldHaveLength, 1)
			attempts, _ := store.Attempts(ctx, model.PlayerKey{PlayerID: "p1"})
			So(attempts, ShouldHaveLength, 1)
		})
	})
}

func TestSubmitBounds(t *testing.T) {
	Convey("Difficulty stays within bounds for long streaks either way", t, func() {
		ctx := context.Background()
		params := difficulty.DefaultParams()
		params.RulesEnabled = true
		p := attempt.NewProcessor(repository.NewMemory(), localComputer(params))

		for i := 0; i < 60; i++ {
			out, err := p.Submit(ctx, "p1", attempt.Submission{LevelID: "lvl", Success: ptr(i < 30)})
			So(err, ShouldBeNil)
			So(out.Result.NewDifficulty, ShouldBeBetweenOrEqual, params.BetaMin, params.BetaMax)
		}
	})
}

func TestRaceFreedom(t *testing.T) {
	Convey("Concurrent attempts for one key equal their sequential application in timestamp order", t, func() {
		ctx := context.Background()
		store := repository.NewMemory()
		p := attempt.NewProcessor(store, localComputer(difficulty.DefaultParams()))

		const n = 40
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < n; i++ {
			success := i%3 != 0
			g.Go(func() error {
				_, err := p.Submit(gctx, "p1", attempt.Submission{LevelID: "lvl", LessonID: "l1", Success: ptr(success)})
				return err
			})
		}
		So(g.Wait(), ShouldBeNil)

		key := model.PlayerKey{PlayerID: "p1", LessonID: "l1"}
		attempts, err := store.Attempts(ctx, key)
		So(err, ShouldBeNil)
		So(attempts, ShouldHaveLength, n)
		So(sort.SliceIsSorted(attempts, func(i, j int) bool { return attempts[j].NewerThan(attempts[i]) }), ShouldBeTrue)

		// Replay the same outcomes sequentially with the recorded timestamps.
		var i int
		clock := func() time.Time { return attempts[i].CreatedAt }
		seqStore := repository.NewMemory()
		seq := attempt.NewProcessor(seqStore, localComputer(difficulty.DefaultParams()), attempt.WithClock(clock))
		for i = 0; i < n; i++ {
			_, err := seq.Submit(ctx, "p1", attempt.Submission{LevelID: "lvl", LessonID: "l1", Success: ptr(attempts[i].Success)})
			So(err, ShouldBeNil)
		}

		got, _, _ := store.Skill(ctx, key)
		want, _, _ := seqStore.Skill(ctx, key)
		So(got.Theta, ShouldAlmostEqual, want.Theta, 1e-12)
		So(got.Beta, ShouldAlmostEqual, want.Beta, 1e-12)
		So(got.Successes, ShouldEqual, want.Successes)
		So(got.Failures, ShouldEqual, want.Failures)
		So(got.Exp, ShouldEqual, want.Exp)
		So(got.Version, ShouldEqual, n)
	})

	Convey("Different keys proceed independently", t, func() {
		ctx := context.Background()
		store := repository.NewMemory()
		p := attempt.NewProcessor(store, localComputer(difficulty.DefaultParams()))

		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < 30; i++ {
			player := fmt.Sprintf("p%d", i%3)
			lesson := fmt.Sprintf("l%d", i%2)
			g.Go(func() error {
				_, err := p.Submit(gctx, player, attempt.Submission{LevelID: "lvl", LessonID: lesson, Success: ptr(true)})
				return err
			})
		}
		So(g.Wait(), ShouldBeNil)

		total := 0
		for pl := 0; pl < 3; pl++ {
			for l := 0; l < 2; l++ {
				attempts, _ := store.Attempts(ctx, model.PlayerKey{PlayerID: fmt.Sprintf("p%d", pl), LessonID: fmt.Sprintf("l%d", l)})
				total += len(attempts)
			}
		}
		So(total, ShouldEqual, 30)
		So(store.HeldLocks(), ShouldEqual, 0)
	})
}

func TestSubmitFailures(t *testing.T) {
	ctx := context.Background()

	Convey("Given invalid submissions", t, func() {
		store := repository.NewMemory()
		p := attempt.NewProcessor(store, localComputer(difficulty.DefaultParams()))

		Convey("Every offending field is reported and nothing is written", func() {
			_, err := p.Submit(ctx, "p1", attempt.Submission{AttemptTime: ptr(-1.0)})
			So(errors.Is(err, attempt.ErrValidation), ShouldBeTrue)
			var verr *attempt.ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			fields := map[string]bool{}
			for _, f := range verr.Fields {
				fields[f.Field] = true
			}
			So(fields, ShouldResemble, map[string]bool{"levelId": true, "success": true, "attemptTime": true})

			attempts, _ := store.Attempts(ctx, model.PlayerKey{PlayerID: "p1"})
			So(attempts, ShouldBeEmpty)
		})
	})

	Convey("Given a store whose lock never frees", t, func() {
		store := &lockedStore{Memory: repository.NewMemory()}
		p := attempt.NewProcessor(store, localComputer(difficulty.DefaultParams()),
			attempt.WithLockRetry(3, time.Millisecond))

		Convey("Submit gives up after the retry budget with a retryable error", func() {
			_, err := p.Submit(ctx, "p1", attempt.Submission{LevelID: "lvl", Success: ptr(true)})
			So(errors.Is(err, attempt.ErrRetryable), ShouldBeTrue)
			So(errors.Is(err, repository.ErrLockTimeout), ShouldBeTrue)
			So(store.calls.Load(), ShouldEqual, 3)
		})
	})

	Convey("Given a computer that always fails", t, func() {
		store := repository.NewMemory()
		p := attempt.NewProcessor(store, failingComputer{})

		Convey("The attempt is rejected and nothing is persisted", func() {
			_, err := p.Submit(ctx, "p1", attempt.Submission{LevelID: "lvl", Success: ptr(true)})
			So(errors.Is(err, attempt.ErrComputeUnavailable), ShouldBeTrue)
			attempts, _ := store.Attempts(ctx, model.PlayerKey{PlayerID: "p1"})
			So(attempts, ShouldBeEmpty)
		})
	})
}

func TestProgressAndRebuild(t *testing.T) {
	ctx := context.Background()

	Convey("Given a player with attempts in one lesson", t, func() {
		store := repository.NewMemory()
		p := attempt.NewProcessor(store, localComputer(difficulty.DefaultParams()), attempt.WithWindowSize(4))
		for i := 0; i < 6; i++ {
			_, err := p.Submit(ctx, "p1", attempt.Submission{LevelID: "lvl7", LessonID: "loops", Success: ptr(i%2 == 0)})
			So(err, ShouldBeNil)
		}
		key := model.PlayerKey{PlayerID: "p1", LessonID: "loops"}

		Convey("Progress resolves the lesson from the level", func() {
			snap, err := p.Progress(ctx, "p1", "lvl7")
			So(err, ShouldBeNil)
			So(snap.Found, ShouldBeTrue)
			So(snap.State.LessonID, ShouldEqual, "loops")
			So(snap.State.Successes+snap.State.Failures, ShouldEqual, 6)
			So(snap.Summary.Total, ShouldEqual, 4)
		})

		Convey("An unknown level reports the initial state", func() {
			snap, err := p.Progress(ctx, "p1", "nowhere")
			So(err, ShouldBeNil)
			So(snap.Found, ShouldBeFalse)
			So(snap.State.Beta, ShouldEqual, attempt.DefaultInitialBeta)
		})

		Convey("Rebuild reproduces the incrementally maintained window", func() {
			attempts, _ := store.Attempts(ctx, key)
			incremental := summary.Rebuild(attempts, 4)

			w, err := p.RebuildSummary(ctx, key)
			So(err, ShouldBeNil)
			So(w.Stats, ShouldResemble, incremental.Stats)
			So(w.Len(), ShouldEqual, 4)
		})
	})
}

func TestParseSubmission(t *testing.T) {
	Convey("Parsing reports type errors and missing fields together", t, func() {
		_, err := attempt.ParseSubmission("p1", []byte(`{"success":"yes","attemptTime":"slow"}`))
		var verr *attempt.ValidationError
		So(errors.As(err, &verr), ShouldBeTrue)
		got := map[string]string{}
		for _, f := range verr.Fields {
			got[f.Field] = f.Message
		}
		So(got["success"], ShouldEqual, "wrong type")
		So(got["attemptTime"], ShouldEqual, "wrong type")
		So(got["levelId"], ShouldEqual, "required")
		So(verr.Fields, ShouldHaveLength, 3)
	})

	Convey("A valid body parses", t, func() {
		s, err := attempt.ParseSubmission("p1", []byte(`{"levelId":"l","success":false,"attemptTime":12.5,"idempotencyKey":"abc-123"}`))
		So(err, ShouldBeNil)
		So(*s.Success, ShouldBeFalse)
		So(*s.AttemptTime, ShouldEqual, 12.5)
		So(s.IdempotencyKey, ShouldEqual, "abc-123")
	})

	Convey("attemptTime is bounded to a day of elapsed seconds", t, func() {
		for _, body := range []string{
			`{"levelId":"l","success":true,"attemptTime":0}`,
			`{"levelId":"l","success":true,"attemptTime":86400}`,
			`{"levelId":"l","success":true}`,
		} {
			_, err := attempt.ParseSubmission("p1", []byte(body))
			So(err, ShouldBeNil)
		}

		for _, body := range []string{
			`{"levelId":"l","success":true,"attemptTime":86400.5}`,
			`{"levelId":"l","success":true,"attemptTime":1792000000}`,
			`{"levelId":"l","success":true,"attemptTime":-0.1}`,
		} {
			_, err := attempt.ParseSubmission("p1", []byte(body))
			var verr *attempt.ValidationError
			So(errors.As(err, &verr), ShouldBeTrue)
			So(verr.Fields, ShouldHaveLength, 1)
			So(verr.Fields[0].Field, ShouldEqual, "attemptTime")
		}
	})

	Convey("A non-object body is rejected", t, func() {
		_, err := attempt.ParseSubmission("p1", []byte(`[1,2]`))
		So(errors.Is(err, attempt.ErrValidation), ShouldBeTrue)
	})
}
