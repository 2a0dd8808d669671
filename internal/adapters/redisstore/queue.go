// Package redisstore keeps the matchmaking queue in Redis so several instances
// can share it. Every mutation is a Lua script, so membership changes are atomic
// with respect to other instances' ticks.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/matchmaking"
	"github.com/kurogames77/puzzcode-sub003/pkg/metrics"
)

// DefaultPrefix namespaces the queue keys.
const DefaultPrefix = "puzzcode:mm"

var joinScript = goredis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then return -1 end
if redis.call('HLEN', KEYS[1]) >= tonumber(ARGV[4]) then return -2 end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return redis.call('HLEN', KEYS[1])
`)

var leaveScript = goredis.NewScript(`
if redis.call('HDEL', KEYS[1], ARGV[1]) == 0 then return -1 end
redis.call('ZREM', KEYS[2], ARGV[1])
return redis.call('HLEN', KEYS[1])
`)

var takeScript = goredis.NewScript(`
for i = 1, #ARGV do
  if redis.call('HEXISTS', KEYS[1], ARGV[i]) == 0 then return -1 end
end
for i = 1, #ARGV do
  redis.call('HDEL', KEYS[1], ARGV[i])
  redis.call('ZREM', KEYS[2], ARGV[i])
end
return redis.call('HLEN', KEYS[1])
`)

var expireScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', '(' .. ARGV[1])
local out = {}
for _, id in ipairs(ids) do
  local v = redis.call('HGET', KEYS[1], id)
  if v then table.insert(out, v) end
  redis.call('HDEL', KEYS[1], id)
  redis.call('ZREM', KEYS[2], id)
end
return out
`)

// Queue is a matchmaking.Queue stored in a Redis hash (entries) and sorted set (join order).
type Queue struct {
	rdb      goredis.UniversalClient
	entries  string
	joined   string
	capacity int
}

var _ matchmaking.Queue = (*Queue)(nil)

// Option configures a Queue.
type Option func(*Queue)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(q *Queue) {
		if prefix != "" {
			q.entries = prefix + ":entries"
			q.joined = prefix + ":joined"
		}
	}
}

// WithCapacity bounds the queue.
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// NewQueue wraps rdb. The caller owns the client.
func NewQueue(rdb goredis.UniversalClient, opts ...Option) *Queue {
	q := &Queue{rdb: rdb, capacity: matchmaking.DefaultCapacity}
	WithPrefix(DefaultPrefix)(q)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) keys() []string { return []string{q.entries, q.joined} }

// Join adds e.
func (q *Queue) Join(ctx context.Context, e matchmaking.Entry) error { //nolint:gocritic // hugeParam: matches the Queue interface
	if err := matchmaking.ValidateEntry(e); err != nil {
		return err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode queue entry: %w", err)
	}
	n, err := joinScript.Run(ctx, q.rdb, q.keys(),
		e.PlayerID, raw, score(e.JoinedAt), q.capacity).Int()
	if err != nil {
		return fmt.Errorf("redis join: %w", err)
	}
	switch n {
	case -1:
		return matchmaking.ErrAlreadyQueued
	case -2:
		return matchmaking.ErrQueueFull
	}
	metrics.UpdateMatchmakingQueueSize(n)
	return nil
}

// Leave removes playerID.
func (q *Queue) Leave(ctx context.Context, playerID string) error {
	n, err := leaveScript.Run(ctx, q.rdb, q.keys(), playerID).Int()
	if err != nil {
		return fmt.Errorf("redis leave: %w", err)
	}
	if n < 0 {
		return matchmaking.ErrNotQueued
	}
	metrics.UpdateMatchmakingQueueSize(n)
	return nil
}

// Snapshot returns every entry ordered by join time.
func (q *Queue) Snapshot(ctx context.Context) ([]matchmaking.Entry, error) {
	raw, err := q.rdb.HGetAll(ctx, q.entries).Result()
	if err != nil {
		return nil, fmt.Errorf("redis snapshot: %w", err)
	}
	out := make([]matchmaking.Entry, 0, len(raw))
	for id, v := range raw {
		var e matchmaking.Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("decode queue entry %s: %w", id, err)
		}
		out = append(out, e)
	}
	matchmaking.SortByJoin(out)
	return out, nil
}

// TakeAll removes every listed player, or none.
func (q *Queue) TakeAll(ctx context.Context, playerIDs []string) (bool, error) {
	if len(playerIDs) == 0 {
		return true, nil
	}
	args := make([]any, len(playerIDs))
	for i, id := range playerIDs {
		args[i] = id
	}
	n, err := takeScript.Run(ctx, q.rdb, q.keys(), args...).Int()
	if err != nil {
		return false, fmt.Errorf("redis take: %w", err)
	}
	if n < 0 {
		return false, nil
	}
	metrics.UpdateMatchmakingQueueSize(n)
	return true, nil
}

// Expire removes and returns entries that joined before cutoff.
func (q *Queue) Expire(ctx context.Context, cutoff time.Time) ([]matchmaking.Entry, error) {
	raw, err := expireScript.Run(ctx, q.rdb, q.keys(), score(cutoff)).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis expire: %w", err)
	}
	out := make([]matchmaking.Entry, 0, len(raw))
	for _, v := range raw {
		var e matchmaking.Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("decode expired entry: %w", err)
		}
		out = append(out, e)
	}
	matchmaking.SortByJoin(out)
	return out, nil
}

// Len returns the number of queued players.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.HLen(ctx, q.entries).Result()
	if err != nil {
		return 0, fmt.Errorf("redis len: %w", err)
	}
	return int(n), nil
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}
