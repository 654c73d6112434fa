// Package cache provides a thread-safe LRU cache with per-entry TTL.
//
// The gateway uses it as a degradation tier: expired entries are kept until
// evicted by capacity pressure so a stale copy can still be served when every
// backend for a route is down.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// LRU is a fixed-capacity least-recently-used cache.
type LRU struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List // front = most recently used

	now func() time.Time // test hook
}

// New returns an LRU holding at most capacity entries, each fresh for ttl.
func New(capacity int, ttl time.Duration) *LRU {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (c *LRU) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if c.now().After(e.expiresAt) {
		return nil, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// GetStale returns the value for key even if it has expired. The second
// return reports whether the entry is still fresh.
func (c *LRU) GetStale(key string) (value any, fresh bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.items[key]
	if !found {
		return nil, false, false
	}
	e := el.Value.(*entry)
	c.order.MoveToFront(el)
	return e.value, !c.now().After(e.expiresAt), true
}

// Put stores value under key, evicting the least-recently-used entry when
// the cache is full.
func (c *LRU) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(c.ttl)

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = expires
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}

	c.items[key] = c.order.PushFront(&entry{key: key, value: value, expiresAt: expires})
}

// Delete removes key from the cache.
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Len returns the number of entries currently held, expired ones included.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
