package queue

import "errors"

// Sentinel errors returned by Enqueue.
var (
	ErrClosed = errors.New("outbox closed")
	ErrFull   = errors.New("outbox full")
)
