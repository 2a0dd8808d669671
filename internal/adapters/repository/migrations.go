package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// migration is one schema change, applied once inside a transaction.
type migration struct {
	Version int
	Name    string
	UpSQL   string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create_skill_tables",
		UpSQL: `
CREATE TABLE IF NOT EXISTS skill_states (
	player_id    TEXT NOT NULL,
	lesson_id    TEXT NOT NULL DEFAULT '',
	theta        DOUBLE PRECISION NOT NULL DEFAULT 0,
	beta         DOUBLE PRECISION NOT NULL DEFAULT 0,
	label        TEXT NOT NULL DEFAULT '',
	successes    INTEGER NOT NULL DEFAULT 0,
	failures     INTEGER NOT NULL DEFAULT 0,
	exp          INTEGER NOT NULL DEFAULT 0,
	rank         TEXT NOT NULL DEFAULT '',
	achievements INTEGER NOT NULL DEFAULT 0,
	version      BIGINT NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (player_id, lesson_id)
);

CREATE TABLE IF NOT EXISTS attempts (
	seq             BIGSERIAL PRIMARY KEY,
	player_id       TEXT NOT NULL,
	lesson_id       TEXT NOT NULL DEFAULT '',
	level_id        TEXT NOT NULL,
	success         BOOLEAN NOT NULL,
	elapsed_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	idempotency_key TEXT,
	result          JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS attempts_player_idempotency
	ON attempts (player_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS attempts_player_lesson_time
	ON attempts (player_id, lesson_id, created_at, seq);
CREATE INDEX IF NOT EXISTS attempts_player_level_time
	ON attempts (player_id, level_id, created_at DESC, seq DESC);

CREATE TABLE IF NOT EXISTS performance_summaries (
	player_id  TEXT NOT NULL,
	lesson_id  TEXT NOT NULL DEFAULT '',
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (player_id, lesson_id)
);

CREATE TABLE IF NOT EXISTS difficulty_audit (
	id              BIGSERIAL PRIMARY KEY,
	player_id       TEXT NOT NULL,
	lesson_id       TEXT NOT NULL DEFAULT '',
	level_id        TEXT NOT NULL,
	old_difficulty  DOUBLE PRECISION NOT NULL,
	new_difficulty  DOUBLE PRECISION NOT NULL,
	rule            TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS difficulty_audit_player_lesson
	ON difficulty_audit (player_id, lesson_id, id);
`,
	},
}

// migrate applies pending migrations in version order.
func (p *Postgres) migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, mig := range migrations {
		err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				mig.Version, mig.Name)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			_, err = tx.Exec(ctx, mig.UpSQL)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d %s: %w", mig.Version, mig.Name, err)
		}
	}
	return nil
}
