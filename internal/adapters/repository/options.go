package repository

import "time"

// Defaults for the exclusive update scope.
const (
	DefaultLockTimeout = 2 * time.Second
	DefaultMaxLocks    = 100_000
)

// Option configures a Memory store.
type Option func(*Memory)

// WithLockTimeout bounds how long Update waits for a key.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Memory) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithMaxLocks bounds the number of keys held or awaited at once.
func WithMaxLocks(n int) Option {
	return func(s *Memory) {
		if n > 0 {
			s.locks.max = n
		}
	}
}
