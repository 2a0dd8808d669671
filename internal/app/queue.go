package service

import (
	"context"
	"errors"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/battle"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/matchmaking"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
)

// guardedQueue keeps players who are in a live battle out of the queue,
// including re-queues after a failed session creation.
type guardedQueue struct {
	matchmaking.Queue
	battles *battle.Manager
}

func (q *guardedQueue) Join(ctx context.Context, e matchmaking.Entry) error { //nolint:gocritic // hugeParam: Queue contract
	if id, busy := q.battles.ActiveSession(e.PlayerID); busy {
		return errors.Join(battle.ErrPlayerBusy, errors.New("in session "+id))
	}
	return q.Queue.Join(ctx, e)
}

// challengeFactory creates challenge battles and pulls both players out of the queue.
type challengeFactory struct {
	battles *battle.Manager
	queue   matchmaking.Queue
}

func (f *challengeFactory) CreateMatch(ctx context.Context, req model.MatchRequest) (string, error) {
	id, err := f.battles.CreateMatch(ctx, req)
	if err != nil {
		return "", err
	}
	for _, p := range req.Players {
		_ = f.queue.Leave(ctx, p)
	}
	return id, nil
}
