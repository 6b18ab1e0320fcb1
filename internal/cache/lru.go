package cache

import (
	"container/list"
	"sync"
	"time"
)

// EvictReason tells an eviction callback why an entry left the cache.
type EvictReason int

const (
	EvictCapacity EvictReason = iota
	EvictExpired
	EvictDeleted
	EvictPurged
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictExpired:
		return "expired"
	case EvictDeleted:
		return "deleted"
	case EvictPurged:
		return "purged"
	default:
		return "unknown"
	}
}

// LRU cache with idle TTL and size-based eviction. Every hit pushes the
// entry's expiry forward, so an entry only expires after ttl without use.
type LRUCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	lru     *list.List
	onEvict func(key string, value T, reason EvictReason)
	now     func() time.Time
}

type cacheItem[T any] struct {
	key       string
	data      T
	expiresAt time.Time
}

type evicted[T any] struct {
	key    string
	data   T
	reason EvictReason
}

// NewLRUCache creates a new LRU cache with TTL
func NewLRUCache[T any](maxSize int, ttl time.Duration) *LRUCache[T] {
	return &LRUCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		now:     time.Now,
	}
}

// OnEvict registers fn to run after an entry is removed for any reason.
// fn runs without the cache lock held and may call back into the cache.
func (c *LRUCache[T]) OnEvict(fn func(key string, value T, reason EvictReason)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvict = fn
}

// Get retrieves a value from the cache and refreshes its expiry.
func (c *LRUCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()

	var zero T
	elem, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return zero, false
	}

	item := elem.Value.(*cacheItem[T])
	now := c.now()
	if now.After(item.expiresAt) {
		ev := c.removeElement(elem, EvictExpired)
		c.mu.Unlock()
		c.fire(ev)
		return zero, false
	}

	item.expiresAt = now.Add(c.ttl)
	c.lru.MoveToFront(elem)
	c.mu.Unlock()
	return item.data, true
}

// GetOrCreate returns the cached value for key, creating it with create when
// missing or expired. create runs under the cache lock, so it must not touch
// the cache. The second result reports whether the value was created.
func (c *LRUCache[T]) GetOrCreate(key string, create func() T) (T, bool) {
	c.mu.Lock()

	var out []evicted[T]
	now := c.now()
	if elem, exists := c.items[key]; exists {
		item := elem.Value.(*cacheItem[T])
		if !now.After(item.expiresAt) {
			item.expiresAt = now.Add(c.ttl)
			c.lru.MoveToFront(elem)
			c.mu.Unlock()
			return item.data, false
		}
		out = append(out, c.removeElement(elem, EvictExpired))
	}

	data := create()
	elem := c.lru.PushFront(&cacheItem[T]{key: key, data: data, expiresAt: now.Add(c.ttl)})
	c.items[key] = elem

	for c.maxSize > 0 && c.lru.Len() > c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		out = append(out, c.removeElement(oldest, EvictCapacity))
	}
	c.mu.Unlock()

	for _, ev := range out {
		c.fire(ev)
	}
	return data, true
}

// Delete removes a key from the cache
func (c *LRUCache[T]) Delete(key string) {
	c.mu.Lock()
	elem, exists := c.items[key]
	if !exists {
		c.mu.Unlock()
		return
	}
	ev := c.removeElement(elem, EvictDeleted)
	c.mu.Unlock()
	c.fire(ev)
}

// DeleteIf removes key only while match accepts its current value. It reports
// whether an entry was removed.
func (c *LRUCache[T]) DeleteIf(key string, match func(T) bool) bool {
	c.mu.Lock()
	elem, exists := c.items[key]
	if !exists || !match(elem.Value.(*cacheItem[T]).data) {
		c.mu.Unlock()
		return false
	}
	ev := c.removeElement(elem, EvictDeleted)
	c.mu.Unlock()
	c.fire(ev)
	return true
}

// Purge removes every entry, running the eviction callback for each.
func (c *LRUCache[T]) Purge() int {
	c.mu.Lock()
	out := make([]evicted[T], 0, c.lru.Len())
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		out = append(out, c.removeElement(elem, EvictPurged))
		elem = prev
	}
	c.mu.Unlock()

	for _, ev := range out {
		c.fire(ev)
	}
	return len(out)
}

func (c *LRUCache[T]) removeElement(elem *list.Element, reason EvictReason) evicted[T] {
	item := elem.Value.(*cacheItem[T])
	delete(c.items, item.key)
	c.lru.Remove(elem)
	return evicted[T]{key: item.key, data: item.data, reason: reason}
}

func (c *LRUCache[T]) fire(ev evicted[T]) {
	c.mu.Lock()
	fn := c.onEvict
	c.mu.Unlock()
	if fn != nil {
		fn(ev.key, ev.data, ev.reason)
	}
}

// CleanExpired removes all expired entries and returns count of removed items
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()

	now := c.now()
	var toRemove []*list.Element
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		item := elem.Value.(*cacheItem[T])
		if now.After(item.expiresAt) {
			toRemove = append(toRemove, elem)
		}
	}

	out := make([]evicted[T], 0, len(toRemove))
	for _, elem := range toRemove {
		out = append(out, c.removeElement(elem, EvictExpired))
	}
	c.mu.Unlock()

	for _, ev := range out {
		c.fire(ev)
	}
	return len(out)
}

// Size returns the current number of items in the cache
func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
