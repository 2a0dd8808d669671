// Package repository defines the skill store and its implementations.
//
// The store is the source of truth for skill state, the append-only attempt
// log, the per-(player, lesson) performance windows and the difficulty audit
// log. All writes for one (player, lesson) happen inside Update, which holds
// that key exclusively for the duration of the callback.
package repository

import (
	"context"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/internal/domain/summary"
)

// Store provides transactional access to skill state.
type Store interface {
	// Update runs fn with exclusive access to key. Writes made through tx are
	// committed atomically when fn returns nil and discarded otherwise.
	// Returns ErrLockTimeout when the key cannot be acquired in time and
	// ErrDuplicateKey when an appended attempt reuses an idempotency key.
	Update(ctx context.Context, key model.PlayerKey, fn func(ctx context.Context, tx Tx) error) error

	// Result returns the stored result of the player's idempotency key.
	Result(ctx context.Context, playerID, idempotencyKey string) (model.AttemptResult, bool, error)

	// Skill returns the committed state for key.
	Skill(ctx context.Context, key model.PlayerKey) (model.SkillState, bool, error)

	// Attempts returns key's attempt log, oldest first.
	Attempts(ctx context.Context, key model.PlayerKey) ([]model.Attempt, error)

	// Audits returns key's difficulty audit log, oldest first.
	Audits(ctx context.Context, key model.PlayerKey) ([]model.AuditRecord, error)

	// LessonForLevel returns the lesson of the player's latest attempt at levelID.
	LessonForLevel(ctx context.Context, playerID, levelID string) (string, bool, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the view of one key inside Update.
type Tx interface {
	// Skill returns the key's state; found is false for a key never written.
	Skill(ctx context.Context) (model.SkillState, bool, error)
	SaveSkill(ctx context.Context, s model.SkillState) error

	Summary(ctx context.Context) (*summary.Window, bool, error)
	SaveSummary(ctx context.Context, w *summary.Window) error

	// Attempts returns the key's attempt log including writes staged in tx.
	Attempts(ctx context.Context) ([]model.Attempt, error)

	// Result looks up the idempotency key across every lesson of the player.
	Result(ctx context.Context, idempotencyKey string) (model.AttemptResult, bool, error)

	// AppendAttempt stores a with its result and returns it with Seq assigned.
	AppendAttempt(ctx context.Context, a model.Attempt, res model.AttemptResult) (model.Attempt, error)

	AppendAudit(ctx context.Context, r model.AuditRecord) error
}
