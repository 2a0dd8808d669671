package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound = errors.New("record not found")
	// ErrLockTimeout reports that the exclusive scope could not be acquired in time.
	ErrLockTimeout = errors.New("lock acquisition timed out")
	// ErrDuplicateKey reports a second attempt under an already used idempotency key.
	ErrDuplicateKey = errors.New("duplicate idempotency key")
	ErrClosed       = errors.New("store closed")
)
