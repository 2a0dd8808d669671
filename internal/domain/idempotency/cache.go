// Package idempotency keeps recently processed attempt results for replay.
//
// The cache sits in front of the durable attempt ledger: a miss here is not
// proof the key is new, callers must still consult the ledger.
package idempotency

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
)

// Cache records attempt results by (player, idempotency key).
type Cache interface {
	// Lookup returns the stored result for the player's key.
	Lookup(ctx context.Context, playerID, key string) (model.AttemptResult, bool)

	// Remember stores res for the player's key. An existing entry is kept:
	// the first recorded result is the one every replay must return.
	Remember(ctx context.Context, playerID, key string, res model.AttemptResult)

	// Forget drops the player's key.
	Forget(ctx context.Context, playerID, key string)

	Size() int64
}

// node is an entry of the doubly linked recency list.
type node struct {
	id         string
	result     model.AttemptResult
	prev, next *node
}

func (n *node) reset() {
	*n = node{}
}

// inMemoryCache implements Cache with a map and an insertion-ordered list.
// head is the newest entry, tail the next to evict.
type inMemoryCache struct {
	mu       sync.Mutex
	entries  map[string]*node
	head     *node
	tail     *node
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemory creates a bounded in-memory cache.
func NewInMemory(opts ...Option) Cache {
	c := &inMemoryCache{
		maxSize: 100_000,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.entries = make(map[string]*node)
	c.nodePool = sync.Pool{
		New: func() interface{} {
			return &node{}
		},
	}
	return c
}

// scope keys per player.
func scope(playerID, key string) string {
	return playerID + "\x00" + key
}

func (c *inMemoryCache) Lookup(_ context.Context, playerID, key string) (model.AttemptResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[scope(playerID, key)]
	if !ok {
		return model.AttemptResult{}, false
	}
	return n.result, true
}

func (c *inMemoryCache) Remember(_ context.Context, playerID, key string, res model.AttemptResult) {
	if key == "" {
		return
	}
	id := scope(playerID, key)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[id]; exists {
		return
	}
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	n := c.nodePool.Get().(*node)
	n.id, n.result = id, res
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
	c.entries[id] = n
	c.size.Add(1)
}

func (c *inMemoryCache) Forget(_ context.Context, playerID, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.entries[scope(playerID, key)]; ok {
		c.unlink(n)
	}
}

// evictOldest removes the tail. Must be called with c.mu held.
func (c *inMemoryCache) evictOldest() {
	if c.tail != nil {
		c.unlink(c.tail)
	}
}

// unlink removes n from the list and map. Must be called with c.mu held.
func (c *inMemoryCache) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	delete(c.entries, n.id)
	n.reset()
	c.nodePool.Put(n)
	c.size.Add(-1)
}

// Size returns the current number of entries.
func (c *inMemoryCache) Size() int64 {
	return c.size.Load()
}
