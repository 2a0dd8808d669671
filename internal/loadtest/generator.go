package loadtest

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
	levelCount         = 3
)

// Attempt time ranges in seconds.
const (
	minAttemptSeconds   = 5.0
	attemptSecondsRange = 295.0
)

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	n, _ := rand.Int(rand.Reader, big.NewInt(randomFloatDivisor))
	return float64(n.Int64()) / float64(randomFloatDivisor)
}

// playerID names the i-th generated player of a run.
func playerID(run string, i int) string {
	return fmt.Sprintf("lt-%s-%d", run, i)
}

// generateAttempts creates AttemptsPerPlayer attempts for each player. Each
// player has a fixed skill that drives their success rate, so the
// difficulty controller sees a stable signal.
func generateAttempts(ctx context.Context, config *Config, run string, stats *Stats) []Attempt {
	logger.Get().Info(ctx, "generating attempts",
		logger.Int("players", config.Players),
		logger.Int("perPlayer", config.AttemptsPerPlayer))

	attempts := make([]Attempt, 0, config.Players*config.AttemptsPerPlayer)
	for p := 0; p < config.Players; p++ {
		id := playerID(run, p)
		skill := getRandomFloat()
		level := fmt.Sprintf("level-%d", p%levelCount)
		for i := 0; i < config.AttemptsPerPlayer; i++ {
			attempts = append(attempts, Attempt{
				PlayerID:       id,
				LevelID:        level,
				Success:        getRandomFloat() < skill,
				AttemptTime:    minAttemptSeconds + getRandomFloat()*attemptSecondsRange,
				IdempotencyKey: uuid.NewString(),
			})
		}
	}

	stats.AttemptsGenerated = len(attempts)
	logger.Get().Info(ctx, "generated attempts successfully", logger.Int("count", len(attempts)))
	return attempts
}
