// Package matchmaking groups queued players into battle sessions.
//
// A periodic, non-reentrant Scheduler snapshots the Queue, clusters each
// compatible bucket by ability and pairs players inside the clusters. Matched
// players leave the queue through TakeAll, an all-or-nothing test-and-remove,
// so a player who left, or was taken by another instance, is never placed.
package matchmaking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
	"github.com/kurogames77/puzzcode-sub003/pkg/metrics"
)

// Match size bounds.
const (
	MinMatchSize = 2
	MaxMatchSize = 5
)

// DefaultCapacity bounds a MemoryQueue.
const DefaultCapacity = 10_000

// Entry is a queued player.
type Entry = model.QueueEntry

// Queue holds players waiting for a match.
type Queue interface {
	Join(ctx context.Context, e Entry) error
	Leave(ctx context.Context, playerID string) error
	// Snapshot returns the entries ordered by join time.
	Snapshot(ctx context.Context) ([]Entry, error)
	// TakeAll removes every listed player, or none of them if any is missing.
	TakeAll(ctx context.Context, playerIDs []string) (bool, error)
	// Expire removes and returns entries that joined before cutoff.
	Expire(ctx context.Context, cutoff time.Time) ([]Entry, error)
	Len(ctx context.Context) (int, error)
}

// ValidateEntry checks an entry before it is queued.
func ValidateEntry(e Entry) error { //nolint:gocritic // hugeParam: entries are values throughout
	if e.PlayerID == "" || e.MatchType == "" || e.Language == "" {
		return fmt.Errorf("%w: player, match type and language are required", ErrInvalidEntry)
	}
	if e.MatchSize < MinMatchSize || e.MatchSize > MaxMatchSize {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidMatchSize, e.MatchSize, MinMatchSize, MaxMatchSize)
	}
	return nil
}

// SortByJoin orders entries by join time, then player id.
func SortByJoin(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].JoinedAt.Before(entries[j].JoinedAt)
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})
}

// MemoryQueue is a bounded in-process Queue.
type MemoryQueue struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]Entry
}

// NewMemoryQueue creates a queue holding at most capacity players.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryQueue{capacity: capacity, entries: make(map[string]Entry)}
}

// Join adds e.
func (q *MemoryQueue) Join(_ context.Context, e Entry) error { //nolint:gocritic // hugeParam: entries are values throughout
	if err := ValidateEntry(e); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[e.PlayerID]; ok {
		return ErrAlreadyQueued
	}
	if len(q.entries) >= q.capacity {
		return ErrQueueFull
	}
	q.entries[e.PlayerID] = e
	metrics.UpdateMatchmakingQueueSize(len(q.entries))
	return nil
}

// Leave removes playerID.
func (q *MemoryQueue) Leave(_ context.Context, playerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[playerID]; !ok {
		return ErrNotQueued
	}
	delete(q.entries, playerID)
	metrics.UpdateMatchmakingQueueSize(len(q.entries))
	return nil
}

// Snapshot returns a copy of the queue ordered by join time.
func (q *MemoryQueue) Snapshot(context.Context) ([]Entry, error) {
	q.mu.Lock()
	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, e)
	}
	q.mu.Unlock()
	SortByJoin(out)
	return out, nil
}

// TakeAll removes every listed player atomically.
func (q *MemoryQueue) TakeAll(_ context.Context, playerIDs []string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range playerIDs {
		if _, ok := q.entries[id]; !ok {
			return false, nil
		}
	}
	for _, id := range playerIDs {
		delete(q.entries, id)
	}
	metrics.UpdateMatchmakingQueueSize(len(q.entries))
	return true, nil
}

// Expire removes entries that joined before cutoff.
func (q *MemoryQueue) Expire(_ context.Context, cutoff time.Time) ([]Entry, error) {
	q.mu.Lock()
	var out []Entry
	for id, e := range q.entries {
		if e.JoinedAt.Before(cutoff) {
			out = append(out, e)
			delete(q.entries, id)
		}
	}
	metrics.UpdateMatchmakingQueueSize(len(q.entries))
	q.mu.Unlock()
	SortByJoin(out)
	return out, nil
}

// Len returns the number of queued players.
func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}
