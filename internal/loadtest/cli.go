package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/kurogames77/puzzcode-sub003/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if logFile == "" {
		logFile = "loadtest_" + time.Now().Format("20060102_150405") + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, file))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the load test tool.
func ShowHelp() {
	os.Stdout.WriteString(`Puzzcode Load Test Tool
=======================

Drives the puzzcode engine over HTTP and checks that idempotent replays
return their stored result, that every accepted attempt is counted once,
and that no queued player ends up in more than one session.

Usage:
  go run ./cmd/loadtest [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -secret string
        Token signing secret; must match the service's jwt_secret
  -players int
        Players submitting attempts (default 200)
  -attempts int
        Attempts per player (default 20)
  -replay-every int
        Resubmit every Nth attempt with the same key, 0 disables (default 7)
  -match-players int
        Players joining the matchmaking queue, 0 disables (default 40)
  -match-wait duration
        How long to wait for queued players to be matched (default 30s)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -log string
        Log file for test output (default: loadtest_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  go run ./cmd/loadtest -secret "$PUZZ_JWT_SECRET"
  go run ./cmd/loadtest -players 1000 -workers 32 -url http://localhost:8080
`)
}
