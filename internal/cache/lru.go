package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// bodyLRU holds rendered response bodies, bounded by entry count and by the
// total size of stored bodies. Expired entries are dropped when read or when
// they reach the back of the recency list.
type bodyLRU struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	ttl        time.Duration
	size       int64
	items      map[string]*list.Element
	order      *list.List
	now        func() time.Time

	hits   int64
	misses int64
}

type bodyEntry struct {
	key       string
	body      []byte
	expiresAt time.Time
}

// newBodyLRU clamps maxEntries to at least 1. maxBytes <= 0 leaves the
// byte budget unbounded.
func newBodyLRU(maxEntries int, maxBytes int64, ttl time.Duration) *bodyLRU {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &bodyLRU{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		ttl:        ttl,
		items:      make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		now:        time.Now,
	}
}

func (c *bodyLRU) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := elem.Value.(*bodyEntry)
	if c.now().After(e.expiresAt) {
		c.remove(elem)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(elem)
	c.hits++
	return e.body, true
}

// put stores body under key and reports whether it was kept. A body larger
// than the whole byte budget is refused and any older value for key dropped.
func (c *bodyLRU) put(key string, body []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}
	n := int64(len(body))
	if c.maxBytes > 0 && n > c.maxBytes {
		return false
	}
	for c.order.Len() >= c.maxEntries || (c.maxBytes > 0 && c.size+n > c.maxBytes) {
		c.remove(c.order.Back())
	}

	c.items[key] = c.order.PushFront(&bodyEntry{
		key:       key,
		body:      body,
		expiresAt: c.now().Add(c.ttl),
	})
	c.size += n
	return true
}

func (c *bodyLRU) deletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.remove(elem)
			removed++
		}
	}
	return removed
}

// usage returns the entry count and stored body bytes, expired entries
// included until they are evicted.
func (c *bodyLRU) usage() (entries int, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.size
}

func (c *bodyLRU) stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *bodyLRU) remove(elem *list.Element) {
	e := c.order.Remove(elem).(*bodyEntry)
	delete(c.items, e.key)
	c.size -= int64(len(e.body))
}
