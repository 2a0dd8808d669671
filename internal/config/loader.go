package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment wiring.
const (
	EnvPrefix     = "PUZZ_"
	EnvConfigFile = "PUZZ_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New)
//  2. file (YAML) if PUZZ_CONFIG is set
//  3. env (prefix PUZZ_)
func Load(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	base := New()
	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// PUZZ_QUEUE_CAPACITY -> queue_capacity (flat keys matching koanf tags)
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		if s == EnvConfigFile {
			return ""
		}
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.BetaMin >= c.BetaMax:
		return fmt.Errorf("%w: beta_min must be below beta_max", ErrInvalidConfig)
	case c.TargetSuccess <= 0 || c.TargetSuccess >= 1:
		return fmt.Errorf("%w: target_success must be in (0,1)", ErrInvalidConfig)
	case c.WindowSize <= 0:
		return fmt.Errorf("%w: window_size must be positive", ErrInvalidConfig)
	case c.TickIntervalMS <= 0:
		return fmt.Errorf("%w: tick_interval_ms must be positive", ErrInvalidConfig)
	case c.Storage != StorageMemory && c.Storage != StoragePostgres:
		return fmt.Errorf("%w: unknown storage %q", ErrInvalidConfig, c.Storage)
	case c.Storage == StoragePostgres && c.PostgresURL == "":
		return fmt.Errorf("%w: postgres_url is required for postgres storage", ErrInvalidConfig)
	case c.MatchmakingBackend != BackendMemory && c.MatchmakingBackend != BackendRedis:
		return fmt.Errorf("%w: unknown matchmaking_backend %q", ErrInvalidConfig, c.MatchmakingBackend)
	case c.MatchmakingBackend == BackendRedis && c.RedisAddr == "":
		return fmt.Errorf("%w: redis_addr is required for the redis backend", ErrInvalidConfig)
	}
	return nil
}
