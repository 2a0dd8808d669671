package difficulty

import "errors"

// Sentinel kinds for difficulty errors.
var (
	ErrInvalidParams = errors.New("invalid difficulty params")
	ErrInvalidInput  = errors.New("invalid difficulty input")
)
