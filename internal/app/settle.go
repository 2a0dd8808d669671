package service

import (
	"context"
	"fmt"

	"github.com/kurogames77/puzzcode-sub003/internal/adapters/repository"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/attempt"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/battle"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/difficulty"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/progression"
)

// expSettler moves battle experience between players' global skill states.
type expSettler struct {
	store repository.Store
}

func globalKey(playerID string) model.PlayerKey {
	return model.PlayerKey{PlayerID: playerID, LessonID: model.GlobalLesson}
}

func freshState(key model.PlayerKey) model.SkillState {
	return model.SkillState{
		PlayerID: key.PlayerID,
		LessonID: key.LessonID,
		Theta:    attempt.DefaultInitialTheta,
		Beta:     attempt.DefaultInitialBeta,
		Label:    difficulty.Label(attempt.DefaultInitialBeta),
		Rank:     progression.RankFor(0),
	}
}

// Settle computes the deltas from current experience, then applies each one
// under the player's exclusive scope.
func (e *expSettler) Settle(ctx context.Context, s battle.Session) (map[string]int, error) { //nolint:gocritic // hugeParam: Settler contract
	if s.Outcome == nil {
		return nil, nil
	}
	result := progression.BattleResult{
		Exp:        make(map[string]int, len(s.Participants)),
		Completed:  make(map[string]bool, len(s.Participants)),
		Winners:    s.Outcome.Winners,
		FixedWager: s.Wager,
	}
	for _, p := range s.Participants {
		st, _, err := e.store.Skill(ctx, globalKey(p.PlayerID))
		if err != nil {
			return nil, fmt.Errorf("settle %s: %w", s.ID, err)
		}
		result.Exp[p.PlayerID] = st.Exp
		result.Completed[p.PlayerID] = p.Completed
	}

	deltas := progression.BattleDeltas(result)
	for player, delta := range deltas {
		if delta == 0 {
			continue
		}
		key := globalKey(player)
		err := e.store.Update(ctx, key, func(ctx context.Context, tx repository.Tx) error {
			st, found, err := tx.Skill(ctx)
			if err != nil {
				return err
			}
			if !found {
				st = freshState(key)
			}
			st.Exp = progression.ClampExp(st.Exp + delta)
			st.Rank = progression.RankFor(st.Exp)
			st.Version++
			return tx.SaveSkill(ctx, st)
		})
		if err != nil {
			return nil, fmt.Errorf("settle %s for %s: %w", s.ID, player, err)
		}
	}
	return deltas, nil
}
