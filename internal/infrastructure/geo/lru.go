package geo

import (
	"container/list"
	"sync"
)

// lruCache is a small fixed-capacity LRU keyed by IP string. The
// stdlib list keeps recency order; the map gives O(1) lookup.
type lruCache struct {
	mu    sync.Mutex
	cap   int
	order *list.List
	items map[string]*list.Element
}

type lruEntry struct {
	key string
	loc Location
}

func newLRUCache(capacity int) *lruCache {
	if capacity < 1000 {
		capacity = 1000
	}
	return &lruCache{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element, capacity),
	}
}

func (c *lruCache) get(key string) (Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Location{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).loc, true
}

func (c *lruCache) put(key string, loc Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).loc = loc
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&lruEntry{key: key, loc: loc})
	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry).key)
	}
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
