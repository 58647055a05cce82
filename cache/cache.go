/*
Package cache provides a small bounded TTL cache.

Two places share it: the store's whole-document read cache (TTL ~30s, 20
entries) and the rankings result cache (TTL ~60s, 50 entries). Eviction is
least-recently-inserted: once capacity is exceeded the oldest insertion goes,
regardless of reads. Entries past their TTL are treated as absent on Get.
*/
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key     string
	value   any
	addedAt time.Time
}

// Cache is a fixed-capacity TTL cache safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	order    *list.List // front = oldest insertion
	items    map[string]*list.Element

	// now is the clock; tests override it.
	now func() time.Time
}

// New returns a cache holding at most capacity entries for at most ttl each.
func New(ttl time.Duration, capacity int) *Cache {
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns the live value for key, or (nil, false) if absent or expired.
// An expired entry is removed on the way out.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().Sub(e.addedAt) > c.ttl {
		c.removeLocked(el)
		return nil, false
	}
	return e.value, true
}

// Put inserts or replaces the value for key. Replacement resets the entry's
// age and its position in the eviction order.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	for c.order.Len() >= c.capacity {
		c.removeLocked(c.order.Front())
	}
	el := c.order.PushBack(&entry{key: key, value: value, addedAt: c.now()})
	c.items[key] = el
}

// Invalidate drops the entry for key if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the number of entries, including any not yet expired-on-read.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.key)
}
