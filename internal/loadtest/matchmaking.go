package loadtest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
)

// duelSize is the match size every load test player asks for.
const duelSize = 2

type joinRequest struct {
	MatchType string `json:"matchType"`
	Language  string `json:"language"`
	MatchSize int    `json:"matchSize"`
}

// runMatchmaking queues MatchPlayers players, waits for the scheduler to
// match them, and checks that no session holds more players than a duel.
func runMatchmaking(ctx context.Context, config *Config, client *HTTPClient, run string, stats *Stats) error {
	if config.MatchPlayers <= 0 {
		return nil
	}
	log.Printf("⚔️  Queueing %d players for matchmaking...", config.MatchPlayers)

	players := make([]string, config.MatchPlayers)
	for i := range players {
		players[i] = playerID(run+"-mm", i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.Workers)
	for _, p := range players {
		g.Go(func() error {
			req := joinRequest{MatchType: "loadtest", Language: "go", MatchSize: duelSize}
			return client.Call(gctx, p, http.MethodPost, "/matchmaking/join", req, nil)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("join queue: %w", err)
	}
	stats.PlayersQueued = len(players)

	sessions, err := awaitMatches(ctx, config, client, players)
	stats.PlayersMatched = 0
	for _, members := range sessions {
		stats.PlayersMatched += len(members)
	}
	stats.SessionsCreated = len(sessions)

	cleanup(ctx, client, sessions)
	if err != nil {
		return err
	}
	return verifyAllocation(sessions)
}

// awaitMatches polls every player's status until all are matched or
// MatchWait elapses. It returns the players of each observed session.
func awaitMatches(ctx context.Context, config *Config, client *HTTPClient, players []string) (map[string][]string, error) {
	deadline := time.Now().Add(config.MatchWait)
	sessionOf := make(map[string]string, len(players))

	for {
		for _, p := range players {
			if _, done := sessionOf[p]; done {
				continue
			}
			var st MatchStatus
			if err := client.Call(ctx, p, http.MethodGet, "/matchmaking/status", nil, &st); err != nil {
				return group(sessionOf), fmt.Errorf("status of %s: %w", p, err)
			}
			if st.Matched {
				sessionOf[p] = st.SessionID
			}
		}
		if len(sessionOf) == len(players) {
			return group(sessionOf), nil
		}
		if time.Now().After(deadline) {
			return group(sessionOf), fmt.Errorf("%d of %d players unmatched after %s",
				len(players)-len(sessionOf), len(players), config.MatchWait)
		}
		select {
		case <-ctx.Done():
			return group(sessionOf), ctx.Err()
		case <-time.After(StatusPollInterval):
		}
	}
}

func group(sessionOf map[string]string) map[string][]string {
	out := make(map[string][]string)
	for p, id := range sessionOf {
		out[id] = append(out[id], p)
	}
	return out
}

// verifyAllocation fails when any session was reported for more players than
// a duel holds.
func verifyAllocation(sessions map[string][]string) error {
	var errs []error
	for id, members := range sessions {
		if len(members) > duelSize {
			errs = append(errs, fmt.Errorf("session %s allocated to %d players: %v", id, len(members), members))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Printf("✅ %d sessions, no player allocated twice", len(sessions))
	return nil
}

// cleanup forfeits every observed session so the players are free again.
func cleanup(ctx context.Context, client *HTTPClient, sessions map[string][]string) {
	for id, members := range sessions {
		if len(members) == 0 {
			continue
		}
		if err := client.Call(ctx, members[0], http.MethodPost, "/sessions/"+id+"/exit", nil, nil); err != nil {
			logger.Get().Warn(ctx, "failed to exit session",
				logger.String("session", id),
				logger.Error(err))
		}
	}
}
