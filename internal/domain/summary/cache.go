package summary

import (
	"container/list"
	"sync"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/model"
)

// DefaultCacheCapacity bounds the number of windows held in memory.
const DefaultCacheCapacity = 10_000

type cacheItem struct {
	key    model.PlayerKey
	window *Window
}

// Cache is a bounded LRU of windows keyed by (player, lesson).
// It stores copies, so callers may mutate what they get and put.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[model.PlayerKey]*list.Element
}

// NewCache returns a cache holding at most capacity windows.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[model.PlayerKey]*list.Element),
	}
}

// Get returns a copy of the cached window for key.
func (c *Cache) Get(key model.PlayerKey) (*Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheItem).window.Clone(), true
}

// Put stores a copy of w under key, evicting the least recently used window.
func (c *Cache) Put(key model.PlayerKey, w *Window) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheItem).window = w.Clone()
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&cacheItem{key: key, window: w.Clone()})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheItem).key)
	}
}

// Invalidate drops key.
func (c *Cache) Invalidate(key model.PlayerKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Len returns the number of cached windows.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
