package loadtest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
)

// Run executes the complete load test.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
	}
	run := strconv.FormatInt(stats.StartTime.UnixNano(), 36)

	logger.Get().Info(ctx, "starting puzzcode load test",
		logger.String("baseURL", config.BaseURL),
		logger.Int("players", config.Players),
		logger.Int("attemptsPerPlayer", config.AttemptsPerPlayer),
		logger.Int("matchPlayers", config.MatchPlayers),
		logger.Int("workers", config.Workers),
		logger.String("timeout", config.Timeout.String()),
		logger.String("logFile", config.LogFile),
		logger.Any("verbose", config.Verbose))

	client := newHTTPClient(config)

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, client); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate and submit attempts
	attempts := generateAttempts(ctx, config, run, stats)
	first := submitAttempts(ctx, config, client, attempts, stats)

	// Step 3: Verify idempotency and counts
	var errs []error
	if err := verifyReplays(ctx, config, client, attempts, first, stats); err != nil {
		errs = append(errs, fmt.Errorf("replay verification failed: %w", err))
	}
	if err := verifyProgress(ctx, client, attempts, first, stats); err != nil {
		errs = append(errs, fmt.Errorf("progress verification failed: %w", err))
	}

	// Step 4: Matchmaking
	if err := runMatchmaking(ctx, config, client, run, stats); err != nil {
		errs = append(errs, fmt.Errorf("matchmaking failed: %w", err))
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Get().Info(ctx, "test completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	logger.Get().Info(ctx, "checking service health")

	resp, err := client.Get(ctx, "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if _, err := readResponseBody(resp); err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}
	if resp.StatusCode != StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// displayFinalStats prints the final test statistics.
func displayFinalStats(stats *Stats) {
	var acceptRate, attemptsPerSecond float64

	if stats.AttemptsSubmitted > 0 {
		acceptRate = float64(stats.AttemptsAccepted) / float64(stats.AttemptsSubmitted) * PercentageMultiplier
	}
	if stats.Duration > 0 {
		attemptsPerSecond = float64(stats.AttemptsSubmitted) / stats.Duration.Seconds()
	}

	log.Printf("📊 Final statistics: %d/%d attempts accepted (%.1f%%), %.0f attempts/s, %d sessions",
		stats.AttemptsAccepted, stats.AttemptsSubmitted, acceptRate, attemptsPerSecond, stats.SessionsCreated)

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("attemptsGenerated", stats.AttemptsGenerated),
		logger.Int("attemptsSubmitted", stats.AttemptsSubmitted),
		logger.Int("attemptsAccepted", stats.AttemptsAccepted),
		logger.Int("attemptsRetried", stats.AttemptsRetryable),
		logger.Int("attemptsFailed", stats.AttemptsFailed),
		logger.Int("replaysChecked", stats.ReplaysChecked),
		logger.Int("replaysMismatched", stats.ReplaysMismatched),
		logger.Int("progressChecked", stats.ProgressChecked),
		logger.Int("playersQueued", stats.PlayersQueued),
		logger.Int("playersMatched", stats.PlayersMatched),
		logger.Int("sessionsCreated", stats.SessionsCreated),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("attemptsPerSecond", attemptsPerSecond))
}
