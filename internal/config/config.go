// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Durations are configured in milliseconds (`*_ms` keys) and exposed as
//     time.Duration through accessor methods.
//   - New returns the defaults; Load layers file and environment on top.
package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/difficulty"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	BackendMemory   = "memory"
	BackendRedis    = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Storage selects the skill/attempt store: memory or postgres.
	Storage     string `koanf:"storage"`
	PostgresURL string `koanf:"postgres_url"`

	// MatchmakingBackend selects the queue implementation: memory or redis.
	MatchmakingBackend string `koanf:"matchmaking_backend"`
	RedisAddr          string `koanf:"redis_addr"`
	// RedisChannel is the pub/sub channel used for realtime fan-out.
	RedisChannel string `koanf:"redis_channel"`

	// KafkaBrokers is a comma separated broker list; empty logs audit records instead.
	KafkaBrokers    string `koanf:"kafka_brokers"`
	KafkaAuditTopic string `koanf:"kafka_audit_topic"`

	// JWTSecret verifies HS256 bearer tokens issued by the auth collaborator.
	JWTSecret string `koanf:"jwt_secret"`

	// Difficulty controller.
	BetaMin           float64 `koanf:"beta_min"`
	BetaMax           float64 `koanf:"beta_max"`
	TargetSuccess     float64 `koanf:"target_success"`
	AdjustRate        float64 `koanf:"adjust_rate"`
	DifficultyEpsilon float64 `koanf:"difficulty_epsilon"`
	RulesEnabled      bool    `koanf:"rules_enabled"`
	FailStreak        int     `koanf:"fail_streak"`
	SuccessStreak     int     `koanf:"success_streak"`
	FailStep          float64 `koanf:"fail_step"`
	WindowSize        int     `koanf:"window_size"`

	// Attempt processing.
	LockRetries          int    `koanf:"lock_retries"`
	LockRetryDelayMS     int    `koanf:"lock_retry_delay_ms"`
	LockTimeoutMS        int    `koanf:"lock_timeout_ms"`
	ComputeURL           string `koanf:"compute_url"`
	ComputeTimeoutMS     int    `koanf:"compute_timeout_ms"`
	IdempotencyCacheSize int    `koanf:"idempotency_cache_size"`

	// Matchmaking.
	TickIntervalMS    int     `koanf:"tick_interval_ms"`
	MaxWaitMS         int     `koanf:"max_wait_ms"`
	KClusters         int     `koanf:"k_clusters"`
	MinMatchScore     float64 `koanf:"min_match_score"`
	AllowCrossCluster bool    `koanf:"allow_cross_cluster"`
	QueueCapacity     int     `koanf:"queue_capacity"`

	// Battles and challenges.
	ReadyTimeoutMS     int `koanf:"ready_timeout_ms"`
	SessionTimeLimitMS int `koanf:"session_time_limit_ms"`
	ChallengeTTLMS     int `koanf:"challenge_ttl_ms"`

	// Outbox draining audit records and notifications.
	OutboxSize  int `koanf:"outbox_size"`
	WorkerCount int `koanf:"worker_count"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		Storage:              StorageMemory,
		MatchmakingBackend:   BackendMemory,
		RedisChannel:         "puzzcode-realtime",
		KafkaAuditTopic:      "difficulty-audit",
		JWTSecret:            "dev-secret-change-me",
		BetaMin:              0.1,
		BetaMax:              1.0,
		TargetSuccess:        0.7,
		AdjustRate:           0.1,
		DifficultyEpsilon:    1e-6,
		RulesEnabled:         false,
		FailStreak:           3,
		SuccessStreak:        5,
		FailStep:             0.1,
		WindowSize:           50,
		LockRetries:          5,
		LockRetryDelayMS:     10,
		LockTimeoutMS:        2_000,
		ComputeTimeoutMS:     300,
		IdempotencyCacheSize: 100_000,
		TickIntervalMS:       2_000,
		MaxWaitMS:            120_000,
		KClusters:            3,
		MinMatchScore:        0.5,
		AllowCrossCluster:    true,
		QueueCapacity:        10_000,
		ReadyTimeoutMS:       30_000,
		SessionTimeLimitMS:   15 * 60_000,
		ChallengeTTLMS:       5 * 60_000,
		OutboxSize:           10_000,
		WorkerCount:          runtime.NumCPU(),
	}
}

// DifficultyParams maps the controller keys onto difficulty.Params.
func (c *Config) DifficultyParams() difficulty.Params {
	p := difficulty.DefaultParams()
	p.BetaMin, p.BetaMax = c.BetaMin, c.BetaMax
	p.Target, p.Rate = c.TargetSuccess, c.AdjustRate
	p.RulesEnabled = c.RulesEnabled
	if c.FailStreak > 0 {
		p.FailStreak = c.FailStreak
	}
	if c.SuccessStreak > 0 {
		p.SuccessStreak = c.SuccessStreak
	}
	if c.FailStep > 0 {
		p.Step = c.FailStep
	}
	return p
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// LockRetryDelay is the initial backoff between lock attempts.
func (c *Config) LockRetryDelay() time.Duration { return ms(c.LockRetryDelayMS) }

// LockTimeout bounds a single lock acquisition.
func (c *Config) LockTimeout() time.Duration { return ms(c.LockTimeoutMS) }

// ComputeTimeout bounds the remote computation call.
func (c *Config) ComputeTimeout() time.Duration { return ms(c.ComputeTimeoutMS) }

// TickInterval is the matchmaking scheduler period.
func (c *Config) TickInterval() time.Duration { return ms(c.TickIntervalMS) }

// MaxWait is the longest a player stays queued before a no-match signal.
func (c *Config) MaxWait() time.Duration { return ms(c.MaxWaitMS) }

// ReadyTimeout is how long a session waits for every participant to ready up.
func (c *Config) ReadyTimeout() time.Duration { return ms(c.ReadyTimeoutMS) }

// SessionTimeLimit bounds an in-progress battle.
func (c *Config) SessionTimeLimit() time.Duration { return ms(c.SessionTimeLimitMS) }

// ChallengeTTL is how long a pending challenge stays open.
func (c *Config) ChallengeTTL() time.Duration { return ms(c.ChallengeTTLMS) }

// Brokers splits KafkaBrokers.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
