package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/adapters/realtime"
	"github.com/kurogames77/puzzcode-sub003/internal/adapters/repository"
	service "github.com/kurogames77/puzzcode-sub003/internal/app"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/battle"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/challenge"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type capturePublisher struct {
	mu      sync.Mutex
	records []model.AuditRecord
}

func (c *capturePublisher) Publish(_ context.Context, r model.AuditRecord) error { //nolint:gocritic // test fake
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func drain(c *realtime.Client) []model.EventKind {
	var kinds []model.EventKind
	for {
		select {
		case m, ok := <-c.Outbound:
			if !ok {
				return kinds
			}
			kinds = append(kinds, m.Event)
		default:
			return kinds
		}
	}
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service over an in-memory store", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
		store := repository.NewMemory()
		pub := &capturePublisher{}
		svc := service.New(
			service.WithStore(store),
			service.WithAuditPublisher(pub),
			service.WithClock(func() time.Time { return now }),
		)
		So(svc.Start(ctx), ShouldBeNil)
		Reset(func() { _ = svc.Stop(ctx) })

		Convey("When two players queue and the scheduler ticks", func() {
			ca := svc.Hub().Subscribe("a")
			cb := svc.Hub().Subscribe("b")
			_, err := svc.JoinQueue(ctx, "a", "ranked", "go", 2)
			So(err, ShouldBeNil)
			_, err = svc.JoinQueue(ctx, "b", "ranked", "go", 2)
			So(err, ShouldBeNil)

			report, err := svc.Tick(ctx)
			So(err, ShouldBeNil)
			So(report.Matches, ShouldEqual, 1)

			Convey("Then both players are told about the match", func() {
				So(drain(ca), ShouldContain, model.EventMatchFound)
				So(drain(cb), ShouldContain, model.EventMatchFound)
				So(svc.GetStats()["liveSessions"], ShouldEqual, 1)
			})

			Convey("Then a matched player cannot queue again", func() {
				_, err := svc.JoinQueue(ctx, "a", "ranked", "go", 2)
				So(errors.Is(err, battle.ErrPlayerBusy), ShouldBeTrue)
			})

			Convey("Then the session plays out and settles experience", func() {
				s := sessionOf(ctx, svc, "a")
				for _, p := range []string{"a", "b"} {
					_, err := svc.JoinSession(ctx, p, s.ID)
					So(err, ShouldBeNil)
				}
				for _, p := range []string{"a", "b"} {
					s, err = svc.ReadySession(ctx, p, s.ID)
					So(err, ShouldBeNil)
				}
				So(s.State, ShouldEqual, battle.InProgress)

				s, err = svc.SubmitSolution(ctx, "a", s.ID, "package main", "go", true)
				So(err, ShouldBeNil)
				So(s.State, ShouldEqual, battle.Resolved)
				So(s.Outcome.Winners, ShouldResemble, []string{"a"})

				st, found, err := store.Skill(ctx, model.PlayerKey{PlayerID: "a", LessonID: model.GlobalLesson})
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(st.Exp, ShouldBeGreaterThan, 0)
			})

			Convey("Then outsiders cannot read the session", func() {
				s := sessionOf(ctx, svc, "a")
				_, err := svc.Session(ctx, "z", s.ID)
				So(errors.Is(err, battle.ErrNotParticipant), ShouldBeTrue)
			})

			Convey("Then dropping the last connection notifies the opponent", func() {
				drain(ca)
				svc.Hub().Close(ctx, cb)
				So(drain(ca), ShouldContain, model.EventDisconnect)
			})

			Reset(func() {
				svc.Hub().Close(ctx, ca)
				svc.Hub().Close(ctx, cb)
			})
		})

		Convey("When a challenge is accepted", func() {
			_, err := svc.JoinQueue(ctx, "b", "ranked", "go", 2)
			So(err, ShouldBeNil)

			c, err := svc.CreateChallenge(ctx, "a", "b", "go", 50)
			So(err, ShouldBeNil)
			So(c.Status, ShouldEqual, challenge.Pending)

			_, err = svc.RespondChallenge(ctx, "a", c.ID, true)
			So(errors.Is(err, challenge.ErrNotTarget), ShouldBeTrue)

			c, err = svc.RespondChallenge(ctx, "b", c.ID, true)
			So(err, ShouldBeNil)

			Convey("Then a wagered battle exists and the opponent left the queue", func() {
				So(c.Status, ShouldEqual, challenge.Accepted)
				So(c.SessionID, ShouldNotBeEmpty)
				s, err := svc.Session(ctx, "b", c.SessionID)
				So(err, ShouldBeNil)
				So(s.Wager, ShouldEqual, 50)
				So(svc.GetStats()["queueLength"], ShouldEqual, 0)
			})

			Convey("Then a forfeit without code never takes experience below zero", func() {
				_, err := svc.ExitSession(ctx, "b", c.SessionID)
				So(err, ShouldBeNil)
				a, _, _ := store.Skill(ctx, model.PlayerKey{PlayerID: "a", LessonID: model.GlobalLesson})
				b, _, _ := store.Skill(ctx, model.PlayerKey{PlayerID: "b", LessonID: model.GlobalLesson})
				So(b.Exp, ShouldEqual, 0)
				So(a.Exp, ShouldEqual, 0)
			})

			Convey("Then only the two parties can see the challenge", func() {
				_, err := svc.Challenge(ctx, "a", c.ID)
				So(err, ShouldBeNil)
				_, err = svc.Challenge(ctx, "z", c.ID)
				So(errors.Is(err, challenge.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When attempts change difficulty", func() {
			for i := 0; i < 6; i++ {
				_, err := svc.SubmitAttempt(ctx, "p1", []byte(`{"levelId":"lvl-1","success":false}`))
				So(err, ShouldBeNil)
			}

			Convey("Then stopping drains every audit record to the publisher", func() {
				audits, err := store.Audits(ctx, model.PlayerKey{PlayerID: "p1", LessonID: model.GlobalLesson})
				So(err, ShouldBeNil)
				So(svc.Stop(ctx), ShouldBeNil)
				So(pub.count(), ShouldEqual, len(audits))
			})
		})
	})
}

// sessionOf returns the live session of player.
func sessionOf(ctx context.Context, svc *service.Service, player string) battle.Session {
	id, ok := svc.ActiveSession(player)
	So(ok, ShouldBeTrue)
	s, err := svc.Session(ctx, player, id)
	So(err, ShouldBeNil)
	return s
}
