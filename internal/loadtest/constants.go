package loadtest

import "time"

// HTTP status code constants.
const (
	StatusOK                 = 200
	StatusServiceUnavailable = 503
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	TokenTTL             = time.Hour
	StatusPollInterval   = 100 * time.Millisecond
	MaxRetryableAttempts = 5
	RetryBackoff         = 50 * time.Millisecond
	PercentageMultiplier = 100
)
