package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/config"
	"github.com/kurogames77/puzzcode-sub003/internal/loadtest"
)

// Default configuration constants.
const (
	defaultPlayers     = 200
	defaultAttempts    = 20
	defaultReplayEvery = 7
	defaultMatch       = 40
	defaultMatchWait   = 30 * time.Second
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL      = flag.String("url", "http://localhost:9080", "Base URL of the service")
		secret       = flag.String("secret", config.New().JWTSecret, "Token signing secret")
		players      = flag.Int("players", defaultPlayers, "Players submitting attempts")
		attempts     = flag.Int("attempts", defaultAttempts, "Attempts per player")
		replayEvery  = flag.Int("replay-every", defaultReplayEvery, "Resubmit every Nth attempt, 0 disables")
		matchPlayers = flag.Int("match-players", defaultMatch, "Players joining the matchmaking queue, 0 disables")
		matchWait    = flag.Duration("match-wait", defaultMatchWait, "How long to wait for matches")
		workers      = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout      = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		logFile      = flag.String("log", "", "Log file for test output (default: loadtest_TIMESTAMP.log)")
		verbose      = flag.Bool("verbose", false, "Enable verbose logging")
		help         = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadtest.ShowHelp()
		return
	}

	if err := loadtest.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	cfg := &loadtest.Config{
		BaseURL:           *baseURL,
		Secret:            *secret,
		Players:           *players,
		AttemptsPerPlayer: *attempts,
		ReplayEvery:       *replayEvery,
		MatchPlayers:      *matchPlayers,
		MatchWait:         *matchWait,
		Workers:           *workers,
		Timeout:           *timeout,
		LogFile:           *logFile,
		Verbose:           *verbose,
	}

	if err := loadtest.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Test failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
