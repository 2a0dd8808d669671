package repository

import (
	"context"
	"sync"
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
)

// keyLock is a mutex that can be awaited with a deadline.
type keyLock struct {
	ch   chan struct{}
	refs int
}

// keyLocks hands out one keyLock per key. Entries live only while held or
// awaited, so the table is bounded by in-flight keys and by max.
type keyLocks struct {
	mu    sync.Mutex
	locks map[model.PlayerKey]*keyLock
	max   int
}

func newKeyLocks(max int) *keyLocks {
	return &keyLocks{locks: make(map[model.PlayerKey]*keyLock), max: max}
}

// acquire waits for key up to timeout. The returned func releases it.
func (l *keyLocks) acquire(ctx context.Context, key model.PlayerKey, timeout time.Duration) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		if len(l.locks) >= l.max {
			l.mu.Unlock()
			return nil, ErrLockTimeout
		}
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case kl.ch <- struct{}{}:
		return func() {
			<-kl.ch
			l.unref(key, kl)
		}, nil
	case <-timer.C:
		l.unref(key, kl)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		l.unref(key, kl)
		return nil, ctx.Err()
	}
}

func (l *keyLocks) unref(key model.PlayerKey, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
