package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/summary"
)

// PostgreSQL error codes mapped to store errors.
const (
	pgUniqueViolation    = "23505"
	pgLockNotAvailable   = "55P03"
	pgQueryCanceled      = "57014"
	pgSerializationError = "40001"
	pgDeadlockDetected   = "40P01"
)

// Postgres is a Store backed by PostgreSQL. The exclusive scope of Update is a
// row lock on skill_states held for the transaction, bounded by lock_timeout.
type Postgres struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// PostgresOption configures a Postgres store.
type PostgresOption func(*Postgres)

// WithPostgresLockTimeout bounds row lock waits.
func WithPostgresLockTimeout(d time.Duration) PostgresOption {
	return func(p *Postgres) {
		if d > 0 {
			p.lockTimeout = d
		}
	}
}

// NewPostgres connects to databaseURL, verifies the connection and applies migrations.
func NewPostgres(ctx context.Context, databaseURL string, opts ...PostgresOption) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database URL: %w", err)
	}
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	p := &Postgres{pool: pool, lockTimeout: DefaultLockTimeout}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return p, nil
}

// classify maps driver errors onto store sentinels.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.ConstraintName)
	case pgLockNotAvailable, pgQueryCanceled, pgSerializationError, pgDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrLockTimeout, pgErr.Message)
	}
	return err
}

// Update implements Store.
func (p *Postgres) Update(ctx context.Context, key model.PlayerKey, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			err = classify(err)
		}
	}()

	if _, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", p.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	if _, err = tx.Exec(ctx,
		`INSERT INTO skill_states (player_id, lesson_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		key.PlayerID, key.LessonID); err != nil {
		return fmt.Errorf("ensure skill row: %w", err)
	}

	st, err := scanSkill(tx.QueryRow(ctx, selectSkill+` FOR UPDATE`, key.PlayerID, key.LessonID))
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}

	if err = fn(ctx, &pgTx{tx: tx, key: key, skill: st}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const selectSkill = `SELECT player_id, lesson_id, theta, beta, label, successes, failures,
	exp, rank, achievements, version, updated_at
	FROM skill_states WHERE player_id = $1 AND lesson_id = $2`

func scanSkill(row pgx.Row) (model.SkillState, error) {
	var s model.SkillState
	err := row.Scan(&s.PlayerID, &s.LessonID, &s.Theta, &s.Beta, &s.Label, &s.Successes, &s.Failures,
		&s.Exp, &s.Rank, &s.Achievements, &s.Version, &s.UpdatedAt)
	return s, err
}

// Result implements Store.
func (p *Postgres) Result(ctx context.Context, playerID, idempotencyKey string) (model.AttemptResult, bool, error) {
	return lookupResult(ctx, p.pool, playerID, idempotencyKey)
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lookupResult(ctx context.Context, q querier, playerID, idempotencyKey string) (model.AttemptResult, bool, error) {
	var raw []byte
	err := q.QueryRow(ctx,
		`SELECT result FROM attempts WHERE player_id = $1 AND idempotency_key = $2`,
		playerID, idempotencyKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AttemptResult{}, false, nil
	}
	if err != nil {
		return model.AttemptResult{}, false, fmt.Errorf("lookup result: %w", err)
	}
	var res model.AttemptResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return model.AttemptResult{}, false, fmt.Errorf("decode result: %w", err)
	}
	return res, true, nil
}

// Skill implements Store.
func (p *Postgres) Skill(ctx context.Context, key model.PlayerKey) (model.SkillState, bool, error) {
	st, err := scanSkill(p.pool.QueryRow(ctx, selectSkill, key.PlayerID, key.LessonID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SkillState{}, false, nil
	}
	if err != nil {
		return model.SkillState{}, false, fmt.Errorf("load skill: %w", err)
	}
	return st, st.Version > 0, nil
}

// Attempts implements Store.
func (p *Postgres) Attempts(ctx context.Context, key model.PlayerKey) ([]model.Attempt, error) {
	return listAttempts(ctx, p.pool, key)
}

func listAttempts(ctx context.Context, q querier, key model.PlayerKey) ([]model.Attempt, error) {
	rows, err := q.Query(ctx, `
		SELECT seq, player_id, lesson_id, level_id, success, elapsed_seconds,
			COALESCE(idempotency_key, ''), created_at
		FROM attempts WHERE player_id = $1 AND lesson_id = $2
		ORDER BY created_at, seq`, key.PlayerID, key.LessonID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []model.Attempt
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.Seq, &a.PlayerID, &a.LessonID, &a.LevelID, &a.Success,
			&a.ElapsedSeconds, &a.IdempotencyKey, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Audits implements Store.
func (p *Postgres) Audits(ctx context.Context, key model.PlayerKey) ([]model.AuditRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT player_id, lesson_id, level_id, old_difficulty, new_difficulty, rule, idempotency_key, created_at
		FROM difficulty_audit WHERE player_id = $1 AND lesson_id = $2 ORDER BY id`,
		key.PlayerID, key.LessonID)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		var r model.AuditRecord
		if err := rows.Scan(&r.PlayerID, &r.LessonID, &r.LevelID, &r.OldDifficulty, &r.NewDifficulty,
			&r.Rule, &r.IdempotencyKey, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LessonForLevel implements Store.
func (p *Postgres) LessonForLevel(ctx context.Context, playerID, levelID string) (string, bool, error) {
	var lesson string
	err := p.pool.QueryRow(ctx, `
		SELECT lesson_id FROM attempts WHERE player_id = $1 AND level_id = $2
		ORDER BY created_at DESC, seq DESC LIMIT 1`, playerID, levelID).Scan(&lesson)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lesson for level: %w", err)
	}
	return lesson, true, nil
}

// Ping implements Store.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close implements Store.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// pgTx is the Tx of one locked skill row.
type pgTx struct {
	tx    pgx.Tx
	key   model.PlayerKey
	skill model.SkillState
}

func (t *pgTx) Skill(context.Context) (model.SkillState, bool, error) {
	return t.skill, t.skill.Version > 0, nil
}

func (t *pgTx) SaveSkill(ctx context.Context, s model.SkillState) error {
	if s.Key() != t.key {
		return fmt.Errorf("save skill %s inside tx for %s", s.Key(), t.key)
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE skill_states SET theta = $3, beta = $4, label = $5, successes = $6, failures = $7,
			exp = $8, rank = $9, achievements = $10, version = $11, updated_at = $12
		WHERE player_id = $1 AND lesson_id = $2`,
		s.PlayerID, s.LessonID, s.Theta, s.Beta, s.Label, s.Successes, s.Failures,
		s.Exp, s.Rank, s.Achievements, s.Version, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save skill: %w", err)
	}
	t.skill = s
	return nil
}

func (t *pgTx) Summary(ctx context.Context) (*summary.Window, bool, error) {
	var raw []byte
	err := t.tx.QueryRow(ctx,
		`SELECT data FROM performance_summaries WHERE player_id = $1 AND lesson_id = $2`,
		t.key.PlayerID, t.key.LessonID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load summary: %w", err)
	}
	var w summary.Window
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, false, fmt.Errorf("decode summary: %w", err)
	}
	return &w, true, nil
}

func (t *pgTx) SaveSummary(ctx context.Context, w *summary.Window) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO performance_summaries (player_id, lesson_id, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (player_id, lesson_id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		t.key.PlayerID, t.key.LessonID, raw)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

func (t *pgTx) Attempts(ctx context.Context) ([]model.Attempt, error) {
	return listAttempts(ctx, t.tx, t.key)
}

func (t *pgTx) Result(ctx context.Context, idempotencyKey string) (model.AttemptResult, bool, error) {
	return lookupResult(ctx, t.tx, t.key.PlayerID, idempotencyKey)
}

func (t *pgTx) AppendAttempt(ctx context.Context, a model.Attempt, res model.AttemptResult) (model.Attempt, error) {
	if a.Key() != t.key {
		return model.Attempt{}, fmt.Errorf("append attempt %s inside tx for %s", a.Key(), t.key)
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return model.Attempt{}, fmt.Errorf("encode result: %w", err)
	}
	var key *string
	if a.IdempotencyKey != "" {
		key = &a.IdempotencyKey
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO attempts (player_id, lesson_id, level_id, success, elapsed_seconds, idempotency_key, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING seq`,
		a.PlayerID, a.LessonID, a.LevelID, a.Success, a.ElapsedSeconds, key, raw, a.CreatedAt).Scan(&a.Seq)
	if err != nil {
		return model.Attempt{}, classify(fmt.Errorf("append attempt: %w", err))
	}
	return a, nil
}

func (t *pgTx) AppendAudit(ctx context.Context, r model.AuditRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO difficulty_audit (player_id, lesson_id, level_id, old_difficulty, new_difficulty, rule, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.PlayerID, r.LessonID, r.LevelID, r.OldDifficulty, r.NewDifficulty, r.Rule, r.IdempotencyKey, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}
