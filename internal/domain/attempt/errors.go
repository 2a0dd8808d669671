package attempt

import (
	"errors"
	"strings"
)

// Sentinel kinds for attempt errors.
var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid submission")
	// ErrRetryable reports lock contention beyond the retry budget.
	ErrRetryable = errors.New("skill state busy, retry later")
	// ErrComputeUnavailable reports that neither compute path could serve the attempt.
	ErrComputeUnavailable = errors.New("skill computation unavailable")
)

// FieldError describes one offending field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError enumerates every offending field of a submission.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is reports ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

func (e *ValidationError) has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
