// ABOUTME: Bounded TTL set of recently seen keys
// ABOUTME: The chat relay uses it to answer resent messages with the copy it already accepted

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type seenKey struct {
	key    string
	seenAt time.Time
	value  any
}

// Cache remembers keys for a fixed window. Keys are kept in the order they
// were first seen, so expiry and eviction both pop from the front.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // *seenKey, oldest first
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache that remembers a key for ttl and holds at most maxSize keys.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Seen reports whether key was marked within the window.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()
	_, ok := c.index[key]
	return ok
}

// CheckAndMark marks key and reports whether it had already been seen.
// A key seen before keeps its original timestamp.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()
	if _, ok := c.index[key]; ok {
		return true
	}
	if c.order.Len() >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.index[key] = c.order.PushBack(&seenKey{key: key, seenAt: c.now()})
	return false
}

// Remember attaches value to a key that is still in the window. It does
// nothing for a key that was never marked or has expired.
func (c *Cache) Remember(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		el.Value.(*seenKey).value = value
	}
}

// Value returns what was remembered for key. A key that is marked but has
// nothing attached yet reports false.
func (c *Cache) Value(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()
	el, ok := c.index[key]
	if !ok {
		return nil, false
	}
	v := el.Value.(*seenKey).value
	return v, v != nil
}

// Forget removes key, allowing it to be accepted again.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		c.removeLocked(el)
	}
}

// Len returns the number of keys currently remembered.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.expireLocked()
	return c.order.Len()
}

func (c *Cache) expireLocked() {
	cutoff := c.now().Add(-c.ttl)
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		if el.Value.(*seenKey).seenAt.After(cutoff) {
			return
		}
		c.removeLocked(el)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	entry := c.order.Remove(el).(*seenKey)
	delete(c.index, entry.key)
}
