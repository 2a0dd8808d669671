// Package model contains domain models passed between layers.
package model

import (
	"time"
)

// GlobalLesson is the lesson id used for a player's lesson-independent state.
const GlobalLesson = ""

// PlayerKey identifies the unit of exclusive skill updates.
type PlayerKey struct {
	PlayerID string
	LessonID string
}

// String renders the key as "player/lesson" ("player/*" for the global scope).
func (k PlayerKey) String() string {
	if k.LessonID == GlobalLesson {
		return k.PlayerID + "/*"
	}
	return k.PlayerID + "/" + k.LessonID
}

// SkillState is the per-(player, lesson) ability and difficulty record.
type SkillState struct {
	PlayerID     string    `json:"playerId"`
	LessonID     string    `json:"lessonId,omitempty"`
	Theta        float64   `json:"theta"`
	Beta         float64   `json:"beta"`
	Label        string    `json:"difficultyLabel"`
	Successes    int       `json:"successes"`
	Failures     int       `json:"failures"`
	Exp          int       `json:"exp"`
	Rank         string    `json:"rank"`
	Achievements int       `json:"achievements"`
	Version      int64     `json:"version"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Key returns the state's PlayerKey.
func (s SkillState) Key() PlayerKey {
	return PlayerKey{PlayerID: s.PlayerID, LessonID: s.LessonID}
}

// Attempt is one persisted puzzle submission. Immutable once stored.
type Attempt struct {
	Seq            int64     `json:"seq"`
	PlayerID       string    `json:"playerId"`
	LessonID       string    `json:"lessonId,omitempty"`
	LevelID        string    `json:"levelId"`
	Success        bool      `json:"success"`
	ElapsedSeconds float64   `json:"elapsedSeconds"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Key returns the attempt's PlayerKey.
func (a Attempt) Key() PlayerKey {
	return PlayerKey{PlayerID: a.PlayerID, LessonID: a.LessonID}
}

// NewerThan orders attempts by timestamp, then by sequence.
func (a Attempt) NewerThan(b Attempt) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Seq > b.Seq
}

// AttemptResult is what a submission returns. Replays return the stored value verbatim.
type AttemptResult struct {
	NewDifficulty    float64 `json:"newDifficulty"`
	DifficultyLabel  string  `json:"difficultyLabel"`
	PredictedSuccess float64 `json:"predictedSuccess"`
	Switched         bool    `json:"switched"`
}

// AuditRecord captures a difficulty change larger than epsilon. Append-only.
type AuditRecord struct {
	PlayerID       string    `json:"playerId"`
	LessonID       string    `json:"lessonId,omitempty"`
	LevelID        string    `json:"levelId"`
	OldDifficulty  float64   `json:"oldDifficulty"`
	NewDifficulty  float64   `json:"newDifficulty"`
	Rule           string    `json:"rule,omitempty"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
