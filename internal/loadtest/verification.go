package loadtest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
)

// verifyReplays resubmits every ReplayEvery-th attempt with its outcome
// flipped and checks the service answers with the stored result.
func verifyReplays(ctx context.Context, config *Config, client *HTTPClient, attempts []Attempt, first *results, stats *Stats) error {
	if config.ReplayEvery <= 0 {
		return nil
	}
	log.Println("🔁 Verifying idempotent replays...")

	var errs []error
	for i := 0; i < len(attempts); i += config.ReplayEvery {
		a := attempts[i]
		want, ok := first.get(a.IdempotencyKey)
		if !ok {
			continue
		}
		a.Success = !a.Success

		var retried int64
		got, err := submitAttempt(ctx, client, a, &retried)
		if err != nil {
			errs = append(errs, fmt.Errorf("replay %s: %w", a.IdempotencyKey, err))
			continue
		}
		stats.ReplaysChecked++
		if !got.Replayed || !sameResult(got, want) {
			stats.ReplaysMismatched++
			errs = append(errs, fmt.Errorf("replay %s: got %+v, want %+v", a.IdempotencyKey, got, want))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Printf("✅ %d replays returned their stored result", stats.ReplaysChecked)
	return nil
}

func sameResult(a, b AttemptResponse) bool {
	return a.NewDifficulty == b.NewDifficulty &&
		a.DifficultyLabel == b.DifficultyLabel &&
		a.Switched == b.Switched &&
		a.PredictedSuccess == b.PredictedSuccess
}

// verifyProgress checks that every accepted attempt of a player was counted
// exactly once, however the submissions interleaved.
func verifyProgress(ctx context.Context, client *HTTPClient, attempts []Attempt, first *results, stats *Stats) error {
	log.Println("🔍 Verifying progress counts...")

	type tally struct {
		level    string
		accepted int
	}
	perPlayer := make(map[string]*tally)
	for _, a := range attempts {
		t, ok := perPlayer[a.PlayerID]
		if !ok {
			t = &tally{level: a.LevelID}
			perPlayer[a.PlayerID] = t
		}
		if _, ok := first.get(a.IdempotencyKey); ok {
			t.accepted++
		}
	}

	var errs []error
	for player, t := range perPlayer {
		var p Progress
		path := "/progress/" + url.PathEscape(t.level)
		if err := client.Call(ctx, player, http.MethodGet, path, nil, &p); err != nil {
			errs = append(errs, fmt.Errorf("progress of %s: %w", player, err))
			continue
		}
		stats.ProgressChecked++
		if got := p.State.Successes + p.State.Failures; got != t.accepted {
			errs = append(errs, fmt.Errorf("player %s: %d attempts counted, %d accepted", player, got, t.accepted))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Printf("✅ Progress verified for %d players", stats.ProgressChecked)
	return nil
}
