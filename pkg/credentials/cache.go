package credentials

import (
	"container/list"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Cache is a bounded, time-expiring map with least-recently-used eviction.
// It is safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu sync.Mutex

	// Entries in LRU order (front = most recently accessed)
	order *list.List
	index map[K]*list.Element

	capacity int
	maxAge   time.Duration
	clock    clockwork.Clock

	evictions uint64
}

type cacheEntry[K comparable, V any] struct {
	key       K
	value     V
	writtenAt time.Time
}

// NewCache creates a cache holding at most capacity entries, each valid for
// maxAge after its last write. A capacity or maxAge <= 0 disables that bound.
func NewCache[K comparable, V any](capacity int, maxAge time.Duration, clock clockwork.Clock) *Cache[K, V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache[K, V]{
		order:    list.New(),
		index:    make(map[K]*list.Element),
		capacity: capacity,
		maxAge:   maxAge,
		clock:    clock,
	}
}

// Get returns the value for key and marks it as recently used. Expired
// entries are removed and reported as absent.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(key)
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(e)
	return e.Value.(*cacheEntry[K, V]).value, true
}

// Contains reports whether key is present and fresh without touching recency.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookup(key)
	return ok
}

// Set stores value under key, resetting its age.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.set(key, value)
}

// SetIfAbsent stores value only when key is missing or expired. It reports
// whether the value was stored.
func (c *Cache[K, V]) SetIfAbsent(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lookup(key); ok {
		return false
	}
	c.set(key, value)
	return true
}

// Update applies fn to the current value (zero value and false when absent)
// and stores the result, all under the cache lock.
func (c *Cache[K, V]) Update(key K, fn func(current V, ok bool) V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current V
	ok := false
	if e, found := c.lookup(key); found {
		current = e.Value.(*cacheEntry[K, V]).value
		ok = true
	}
	c.set(key, fn(current, ok))
}

// View calls fn with the current value under the cache lock and marks the
// entry as recently used. fn must not retain the value.
func (c *Cache[K, V]) View(key K, fn func(V)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(key)
	if !ok {
		return false
	}
	c.order.MoveToFront(e)
	fn(e.Value.(*cacheEntry[K, V]).value)
	return true
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.index[key]; ok {
		c.remove(e)
	}
}

// Len returns the number of stored entries, including expired entries not
// yet swept.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Evictions returns how many entries were dropped to honor capacity.
func (c *Cache[K, V]) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxAge <= 0 {
		return 0
	}

	now := c.clock.Now()
	removed := 0
	for e := c.order.Back(); e != nil; {
		prev := e.Prev()
		if c.expired(e.Value.(*cacheEntry[K, V]), now) {
			c.remove(e)
			removed++
		}
		e = prev
	}
	return removed
}

// lookup returns the live element for key, dropping it when expired.
// Caller must hold c.mu.
func (c *Cache[K, V]) lookup(key K) (*list.Element, bool) {
	e, ok := c.index[key]
	if !ok {
		return nil, false
	}
	if c.expired(e.Value.(*cacheEntry[K, V]), c.clock.Now()) {
		c.remove(e)
		return nil, false
	}
	return e, true
}

// set stores value and enforces capacity. Caller must hold c.mu.
func (c *Cache[K, V]) set(key K, value V) {
	now := c.clock.Now()
	if e, ok := c.index[key]; ok {
		entry := e.Value.(*cacheEntry[K, V])
		entry.value = value
		entry.writtenAt = now
		c.order.MoveToFront(e)
		return
	}

	c.index[key] = c.order.PushFront(&cacheEntry[K, V]{key: key, value: value, writtenAt: now})

	if c.capacity <= 0 {
		return
	}
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.remove(oldest)
		c.evictions++
	}
}

func (c *Cache[K, V]) remove(e *list.Element) {
	c.order.Remove(e)
	delete(c.index, e.Value.(*cacheEntry[K, V]).key)
}

func (c *Cache[K, V]) expired(entry *cacheEntry[K, V], now time.Time) bool {
	return c.maxAge > 0 && now.Sub(entry.writtenAt) > c.maxAge
}
