package geo

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

type cacheEntry struct {
	ip        string
	location  Location
	expiresAt time.Time
}

// Cache is an LRU of lookup results with a TTL. It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time

	// front is most recently used
	lru   *list.List
	items map[string]*list.Element

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache returns a cache holding at most capacity entries for ttl each.
// Non-positive values select 10000 entries and one hour.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		lru:      list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the cached location of ip if present and not expired.
func (c *Cache) Get(ip string) (Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[ip]
	if !ok {
		c.misses.Add(1)
		return Location{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.lru.Remove(elem)
		delete(c.items, ip)
		c.misses.Add(1)
		return Location{}, false
	}
	c.lru.MoveToFront(elem)
	c.hits.Add(1)
	return entry.location, true
}

// Set stores loc for ip, evicting the least recently used entry when full.
func (c *Cache) Set(ip string, loc Location) {
	if ip == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)
	if elem, ok := c.items[ip]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.location = loc
		entry.expiresAt = expires
		c.lru.MoveToFront(elem)
		return
	}

	for c.lru.Len() >= c.capacity {
		oldest := c.lru.Back()
		delete(c.items, oldest.Value.(*cacheEntry).ip)
		c.lru.Remove(oldest)
	}
	c.items[ip] = c.lru.PushFront(&cacheEntry{ip: ip, location: loc, expiresAt: expires})
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// HitRate returns hits / (hits + misses), or 0 before the first lookup.
func (c *Cache) HitRate() float64 {
	hits, misses := c.hits.Load(), c.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
