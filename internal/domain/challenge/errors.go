package challenge

import "errors"

// Challenge errors.
var (
	ErrNotFound         = errors.New("challenge not found")
	ErrNotPending       = errors.New("challenge is not pending")
	ErrNotTarget        = errors.New("only the challenged player may respond")
	ErrSelfChallenge    = errors.New("cannot challenge yourself")
	ErrInvalidChallenge = errors.New("invalid challenge")
	ErrTooManyPending   = errors.New("too many pending challenges")
)
