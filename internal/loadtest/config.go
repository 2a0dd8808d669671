package loadtest

import "time"

// Config holds configuration for a load test run.
type Config struct {
	BaseURL string // Base URL of the service
	// Secret signs the bearer tokens; it must match the service's jwt_secret.
	Secret            string
	Players           int           // Players submitting attempts
	AttemptsPerPlayer int           // Attempts each player submits
	ReplayEvery       int           // Every Nth attempt is resubmitted with the same key; 0 disables
	MatchPlayers      int           // Players joining the matchmaking queue; 0 disables
	MatchWait         time.Duration // How long to wait for every queued player to be matched
	Workers           int           // Number of concurrent workers
	Timeout           time.Duration // HTTP request timeout
	LogFile           string        // Log file for test output
	Verbose           bool          // Enable verbose logging
}

// Attempt is one puzzle submission as sent to POST /attempts.
type Attempt struct {
	PlayerID       string  `json:"-"`
	LevelID        string  `json:"levelId"`
	Success        bool    `json:"success"`
	AttemptTime    float64 `json:"attemptTime"`
	IdempotencyKey string  `json:"idempotencyKey"`
}

// AttemptResponse mirrors the POST /attempts reply.
type AttemptResponse struct {
	Success          bool    `json:"success"`
	NewDifficulty    float64 `json:"newDifficulty"`
	DifficultyLabel  string  `json:"difficultyLabel"`
	Switched         bool    `json:"switched"`
	PredictedSuccess float64 `json:"predictedSuccess"`
	Replayed         bool    `json:"replayed"`
}

// Progress mirrors the GET /progress/{levelId} reply.
type Progress struct {
	LevelID string `json:"levelId"`
	Found   bool   `json:"found"`
	State   struct {
		Beta      float64 `json:"beta"`
		Successes int     `json:"successes"`
		Failures  int     `json:"failures"`
	} `json:"state"`
}

// MatchStatus mirrors the GET /matchmaking/status reply.
type MatchStatus struct {
	Matched   bool   `json:"matched"`
	SessionID string `json:"sessionId"`
}

// Stats holds test statistics
type Stats struct {
	AttemptsGenerated int
	AttemptsSubmitted int
	AttemptsAccepted  int
	AttemptsRetryable int
	AttemptsFailed    int
	ReplaysChecked    int
	ReplaysMismatched int
	ProgressChecked   int
	PlayersQueued     int
	PlayersMatched    int
	SessionsCreated   int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
