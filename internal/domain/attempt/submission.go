package attempt

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"sort"
)

// Field limits.
const (
	MaxIDLength        = 128
	MaxAttemptSeconds  = 24 * 60 * 60
	maxSubmissionBytes = 1 << 14
)

// Submission is one puzzle attempt as sent by a client.
type Submission struct {
	LevelID  string `json:"levelId"`
	LessonID string `json:"lessonId,omitempty"`
	// Success is a pointer so a missing flag is distinguishable from false.
	Success *bool `json:"success"`
	// AttemptTime is the elapsed solving time in seconds.
	AttemptTime    *float64 `json:"attemptTime,omitempty"`
	IdempotencyKey string   `json:"idempotencyKey,omitempty"`
}

// Validate checks a submission for playerID and reports every offending field.
func (s Submission) Validate(playerID string) error {
	var verr ValidationError
	if playerID == "" {
		verr.add("playerId", "required")
	} else if len(playerID) > MaxIDLength {
		verr.add("playerId", "too long")
	}
	if s.LevelID == "" {
		verr.add("levelId", "required")
	} else if len(s.LevelID) > MaxIDLength {
		verr.add("levelId", "too long")
	}
	if len(s.LessonID) > MaxIDLength {
		verr.add("lessonId", "too long")
	}
	if s.Success == nil {
		verr.add("success", "required boolean")
	}
	if t := s.AttemptTime; t != nil {
		if math.IsNaN(*t) || math.IsInf(*t, 0) || *t < 0 || *t > MaxAttemptSeconds {
			verr.add("attemptTime", "must be between 0 and 86400 seconds")
		}
	}
	if len(s.IdempotencyKey) > MaxIDLength {
		verr.add("idempotencyKey", "too long")
	}
	return verr.orNil()
}

// ParseSubmission decodes a JSON body and validates it for playerID. Every
// offending field is reported once, type errors first.
func ParseSubmission(playerID string, data []byte) (Submission, error) {
	var verr ValidationError
	if len(data) > maxSubmissionBytes {
		verr.add("body", "too large")
		return Submission{}, &verr
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		verr.add("body", "must be a JSON object")
		return Submission{}, &verr
	}

	var s Submission
	fields := map[string]any{
		"levelId":        &s.LevelID,
		"lessonId":       &s.LessonID,
		"success":        &s.Success,
		"attemptTime":    &s.AttemptTime,
		"idempotencyKey": &s.IdempotencyKey,
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v, ok := raw[name]
		if !ok || bytes.Equal(v, []byte("null")) {
			continue
		}
		if err := json.Unmarshal(v, fields[name]); err != nil {
			verr.add(name, "wrong type")
		}
	}

	var rest *ValidationError
	if errors.As(s.Validate(playerID), &rest) {
		for _, f := range rest.Fields {
			if !verr.has(f.Field) {
				verr.Fields = append(verr.Fields, f)
			}
		}
	}
	return s, verr.orNil()
}
