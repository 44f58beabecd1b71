package adapters

import (
	"container/list"
	"context"
	"sync"
	"time"

	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
)

// LRUCache is a bounded in-process cache with per-entry TTL. It memoizes
// question embeddings so repeated questions skip the embedding call.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front is most recently used
	entries  map[string]*list.Element
	observe  CacheObserver
	now      func() time.Time
}

type cacheEntry struct {
	key     string
	value   []byte
	expires time.Time // zero means no expiry
}

// Cache events passed to a CacheObserver.
const (
	CacheHit      = "hit"
	CacheMiss     = "miss"
	CacheEviction = "eviction"
)

// CacheObserver receives cache events. It is called with the cache lock held
// and must not call back into the cache.
type CacheObserver func(event string)

// NewLRUCache creates a cache holding at most capacity entries. observe may
// be nil.
func NewLRUCache(capacity int, observe CacheObserver) *LRUCache {
	if capacity <= 0 {
		capacity = 1
	}
	if observe == nil {
		observe = func(string) {}
	}
	return &LRUCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
		observe:  observe,
		now:      time.Now,
	}
}

// Get returns the value for key. Expired entries are dropped on access.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.observe(CacheMiss)
		return nil, false
	}
	e := el.Value.(*cacheEntry)
	if !e.expires.IsZero() && c.now().After(e.expires) {
		c.remove(el)
		c.observe(CacheMiss)
		return nil, false
	}

	c.order.MoveToFront(el)
	c.observe(CacheHit)
	return e.value, true
}

// Set stores value under key for ttlSeconds; ttlSeconds <= 0 never expires.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttlSeconds > 0 {
		expires = c.now().Add(time.Duration(ttlSeconds) * time.Second)
	}

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*cacheEntry)
		e.value, e.expires = value, expires
		c.order.MoveToFront(el)
		return nil
	}

	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value, expires: expires})
	for c.order.Len() > c.capacity {
		c.remove(c.order.Back())
		c.observe(CacheEviction)
	}
	return nil
}

// Delete removes key if present.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
	return nil
}

// Len returns the number of cached entries, expired ones included.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRUCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*cacheEntry).key)
}

var _ ports.Cache = (*LRUCache)(nil)
