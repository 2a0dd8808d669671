package progression

// Battle stakes.
const (
	WagerRate     = 0.05
	MinWager      = 100
	NoCodePenalty = 100
)

// Wager is what a participant with exp stakes in a battle.
func Wager(exp int) int {
	return max(int(float64(exp)*WagerRate), MinWager)
}

// BattleResult is the settled outcome of one battle.
type BattleResult struct {
	// Exp holds each participant's experience before the battle.
	Exp map[string]int
	// Winners receive an equal share of the pool if they completed code.
	Winners []string
	// Completed marks participants who submitted passing code.
	Completed map[string]bool
	// FixedWager, when positive, replaces the per-player wager.
	FixedWager int
}

// BattleDeltas returns each participant's experience change. Every
// participant stakes a wager into the pool and loses NoCodePenalty more
// without completed code; winners with completed code split the pool.
// Deltas never take experience below zero or above MaxExp.
func BattleDeltas(r BattleResult) map[string]int {
	deltas := make(map[string]int, len(r.Exp))
	after := make(map[string]int, len(r.Exp))
	pool := 0
	for id, exp := range r.Exp {
		stake := r.FixedWager
		if stake <= 0 {
			stake = Wager(exp)
		}
		pool += stake
		next := exp - stake
		if !r.Completed[id] {
			next -= NoCodePenalty
		}
		after[id] = next
	}

	var paid []string
	for _, id := range r.Winners {
		if _, ok := r.Exp[id]; ok && r.Completed[id] {
			paid = append(paid, id)
		}
	}
	if len(paid) > 0 {
		share := pool / len(paid)
		for _, id := range paid {
			after[id] += share
		}
	}

	for id, exp := range r.Exp {
		deltas[id] = ClampExp(after[id]) - exp
	}
	return deltas
}
