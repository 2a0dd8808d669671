package matchmaking

import (
	"math"
	"time"
)

// DefaultMinMatchScore rejects groups spread wider than half an ability unit.
const DefaultMinMatchScore = 0.5

const spreadEpsilon = 1e-12

// Group is a set of players selected for one match.
type Group struct {
	Members []Entry
	Spread  float64
	Score   float64
}

// PlayerIDs returns the members' ids in selection order.
func (g Group) PlayerIDs() []string {
	ids := make([]string, len(g.Members))
	for i, e := range g.Members {
		ids[i] = e.PlayerID
	}
	return ids
}

// MatchScore maps an ability spread to [0, 1], 1 being identical abilities.
func MatchScore(spread float64) float64 {
	return 1 - math.Min(spread, 1)
}

// Pair selects disjoint groups of exactly size players from pool, repeatedly
// taking the group with the smallest ability spread. In θ order the best
// group of a given size is always a contiguous window, so only windows are
// considered. Equal spreads prefer the window holding the longest-waiting
// player, then the lower abilities. Pairing stops when the best remaining
// group scores below minScore; unplaced players are returned as leftovers.
func Pair(pool []Entry, size int, minScore float64) (groups []Group, leftovers []Entry) {
	if size < 1 {
		return nil, pool
	}
	rest := append([]Entry(nil), pool...)
	sortByTheta(rest)

	for len(rest) >= size {
		best := -1
		var bestSpread float64
		var bestWait time.Time
		for i := 0; i+size <= len(rest); i++ {
			spread := rest[i+size-1].Theta - rest[i].Theta
			wait := earliest(rest[i : i+size])
			switch {
			case best < 0, spread < bestSpread-spreadEpsilon:
			case spread <= bestSpread+spreadEpsilon && wait.Before(bestWait):
			default:
				continue
			}
			best, bestSpread, bestWait = i, spread, wait
		}

		score := MatchScore(bestSpread)
		if score < minScore {
			break
		}
		members := append([]Entry(nil), rest[best:best+size]...)
		groups = append(groups, Group{Members: members, Spread: bestSpread, Score: score})
		rest = append(rest[:best], rest[best+size:]...)
	}
	return groups, rest
}

func earliest(entries []Entry) time.Time {
	t := entries[0].JoinedAt
	for _, e := range entries[1:] {
		if e.JoinedAt.Before(t) {
			t = e.JoinedAt
		}
	}
	return t
}
