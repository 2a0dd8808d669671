package matchmaking

import "errors"

// Queue errors.
var (
	ErrAlreadyQueued    = errors.New("player already queued")
	ErrNotQueued        = errors.New("player not queued")
	ErrQueueFull        = errors.New("matchmaking queue full")
	ErrInvalidMatchSize = errors.New("invalid match size")
	ErrInvalidEntry     = errors.New("invalid queue entry")
)
