package challenge_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/battle"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/challenge"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingFactory struct {
	mu   sync.Mutex
	reqs []model.MatchRequest
	err  error
}

func (f *recordingFactory) CreateMatch(_ context.Context, req model.MatchRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.reqs = append(f.reqs, req)
	return "session-1", nil
}

// gatedFactory blocks CreateMatch until release is closed.
type gatedFactory struct {
	entered chan struct{}
	release chan struct{}
}

func (f *gatedFactory) CreateMatch(ctx context.Context, _ model.MatchRequest) (string, error) {
	close(f.entered)
	select {
	case <-f.release:
		return "session-gated", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type inbox struct {
	mu    sync.Mutex
	notes []model.Notification
}

func (i *inbox) Notify(_ context.Context, n model.Notification) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.notes = append(i.notes, n)
}

func (i *inbox) last() model.Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.notes[len(i.notes)-1]
}

func TestChallengeFlow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	Convey("Given a mediator", t, func() {
		now := now
		factory := &recordingFactory{}
		box := &inbox{}
		m := challenge.NewMediator(factory,
			challenge.WithNotifier(box),
			challenge.WithTTL(time.Minute),
			challenge.WithClock(func() time.Time { return now }),
		)

		c, err := m.Create(ctx, "alice", "bob", "python", 250)
		So(err, ShouldBeNil)
		So(c.Status, ShouldEqual, challenge.Pending)
		So(c.ExpiresAt, ShouldEqual, now.Add(time.Minute))
		So(box.last().Kind, ShouldEqual, model.EventChallengeUpdate)
		So(box.last().Recipients, ShouldResemble, []string{"alice", "bob"})

		Convey("Accepting starts a battle with the wager", func() {
			got, err := m.Respond(ctx, c.ID, "bob", true)
			So(err, ShouldBeNil)
			So(got.Status, ShouldEqual, challenge.Accepted)
			So(got.SessionID, ShouldEqual, "session-1")
			So(factory.reqs, ShouldHaveLength, 1)
			So(factory.reqs[0].Origin, ShouldEqual, model.OriginChallenge)
			So(factory.reqs[0].Wager, ShouldEqual, 250)
			So(factory.reqs[0].Players, ShouldResemble, []string{"alice", "bob"})
			So(box.last().SessionID, ShouldEqual, "session-1")
			So(box.last().State, ShouldEqual, "accepted")

			Convey("A second response is rejected", func() {
				_, err := m.Respond(ctx, c.ID, "bob", false)
				So(errors.Is(err, challenge.ErrNotPending), ShouldBeTrue)
			})
		})

		Convey("Declining does not start a battle", func() {
			got, err := m.Respond(ctx, c.ID, "bob", false)
			So(err, ShouldBeNil)
			So(got.Status, ShouldEqual, challenge.Declined)
			So(factory.reqs, ShouldBeEmpty)
		})

		Convey("Only the target may respond", func() {
			_, err := m.Respond(ctx, c.ID, "alice", true)
			So(errors.Is(err, challenge.ErrNotTarget), ShouldBeTrue)
		})

		Convey("A failed battle creation leaves the challenge pending", func() {
			factory.err = battle.ErrPlayerBusy
			_, err := m.Respond(ctx, c.ID, "bob", true)
			So(errors.Is(err, battle.ErrPlayerBusy), ShouldBeTrue)
			got, _ := m.Get(ctx, c.ID)
			So(got.Status, ShouldEqual, challenge.Pending)
		})

		Convey("Expired challenges cannot be accepted", func() {
			now = now.Add(time.Minute)
			_, err := m.Respond(ctx, c.ID, "bob", true)
			So(errors.Is(err, challenge.ErrNotPending), ShouldBeTrue)
			got, _ := m.Get(ctx, c.ID)
			So(got.Status, ShouldEqual, challenge.Expired)
			So(factory.reqs, ShouldBeEmpty)
		})

		Convey("Sweep expires pending challenges past their deadline", func() {
			So(m.Sweep(ctx, now.Add(30*time.Second)), ShouldEqual, 0)
			So(m.Sweep(ctx, now.Add(time.Minute)), ShouldEqual, 1)
			So(box.last().State, ShouldEqual, "expired")
			So(m.Sweep(ctx, now.Add(2*time.Minute)), ShouldEqual, 0)
		})

		Convey("Unknown challenges are not found", func() {
			_, err := m.Get(ctx, "missing")
			So(errors.Is(err, challenge.ErrNotFound), ShouldBeTrue)
			_, err = m.Respond(ctx, "missing", "bob", true)
			So(errors.Is(err, challenge.ErrNotFound), ShouldBeTrue)
		})
	})

	Convey("Invalid challenges are rejected", t, func() {
		m := challenge.NewMediator(&recordingFactory{}, challenge.WithMaxPending(1))
		_, err := m.Create(ctx, "alice", "alice", "go", 0)
		So(errors.Is(err, challenge.ErrSelfChallenge), ShouldBeTrue)
		_, err = m.Create(ctx, "alice", "bob", "", 0)
		So(errors.Is(err, challenge.ErrInvalidChallenge), ShouldBeTrue)
		_, err = m.Create(ctx, "alice", "bob", "go", -1)
		So(errors.Is(err, challenge.ErrInvalidChallenge), ShouldBeTrue)

		_, err = m.Create(ctx, "alice", "bob", "go", 0)
		So(err, ShouldBeNil)
		_, err = m.Create(ctx, "carol", "dave", "go", 0)
		So(errors.Is(err, challenge.ErrTooManyPending), ShouldBeTrue)
	})
}

func TestChallengeWithBattleManager(t *testing.T) {
	Convey("An accepted challenge becomes a live battle session", t, func() {
		ctx := context.Background()
		mgr := battle.NewManager()
		m := challenge.NewMediator(mgr)

		c, err := m.Create(ctx, "alice", "bob", "go", 0)
		So(err, ShouldBeNil)
		c, err = m.Respond(ctx, c.ID, "bob", true)
		So(err, ShouldBeNil)

		s, err := mgr.Get(ctx, c.SessionID)
		So(err, ShouldBeNil)
		So(s.Origin, ShouldEqual, model.OriginChallenge)
		id, busy := mgr.ActiveSession("alice")
		So(busy, ShouldBeTrue)
		So(id, ShouldEqual, c.SessionID)
	})
}

func TestChallengeAcceptDoesNotBlockMediator(t *testing.T) {
	Convey("Given a challenge whose battle creation is slow", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
		factory := &gatedFactory{entered: make(chan struct{}), release: make(chan struct{})}
		m := challenge.NewMediator(factory,
			challenge.WithTTL(time.Minute),
			challenge.WithClock(func() time.Time { return now }),
		)
		c, err := m.Create(ctx, "alice", "bob", "go", 0)
		So(err, ShouldBeNil)

		type result struct {
			c   challenge.Challenge
			err error
		}
		done := make(chan result, 1)
		go func() {
			got, err := m.Respond(ctx, c.ID, "bob", true)
			done <- result{got, err}
		}()
		<-factory.entered

		Convey("Other calls proceed while the battle is being created", func() {
			got, err := m.Get(ctx, c.ID)
			So(err, ShouldBeNil)
			So(got.Status, ShouldEqual, challenge.Pending)

			_, err = m.Create(ctx, "carol", "dave", "go", 0)
			So(err, ShouldBeNil)

			_, err = m.Respond(ctx, c.ID, "bob", false)
			So(errors.Is(err, challenge.ErrNotPending), ShouldBeTrue)

			So(m.Sweep(ctx, now.Add(time.Hour)), ShouldEqual, 1)

			close(factory.release)
			r := <-done
			So(r.err, ShouldBeNil)
			So(r.c.Status, ShouldEqual, challenge.Accepted)
			So(r.c.SessionID, ShouldEqual, "session-gated")
		})
	})
}
