package schedule

import (
	"container/list"
	"sync"
	"time"
)

const (
	resultCacheSize = 64
	resultCacheTTL  = 30 * time.Second
)

type cacheEntry struct {
	key        string
	value      interface{}
	expiration time.Time
}

// A small LRU of recent query results, so bursts of identical
// queries don't re-scan the archive. Entries expire on a short TTL.
type resultCache struct {
	mutex   sync.Mutex
	cap     int
	ttl     time.Duration
	ll      *list.List
	entries map[string]*list.Element
	timeNow func() time.Time
}

func newResultCache(cap int, ttl time.Duration) *resultCache {
	return &resultCache{
		cap:     cap,
		ttl:     ttl,
		ll:      list.New(),
		entries: map[string]*list.Element{},
		timeNow: time.Now,
	}
}

func (c *resultCache) get(key string) (interface{}, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry := el.Value.(*cacheEntry)
	if !entry.expiration.After(c.timeNow()) {
		c.ll.Remove(el)
		delete(c.entries, key)
		return nil, false
	}

	c.ll.MoveToFront(el)
	return entry.value, true
}

func (c *resultCache) put(key string, value interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expiration = c.timeNow().Add(c.ttl)
		c.ll.MoveToFront(el)
		return
	}

	for c.ll.Len() >= c.cap {
		back := c.ll.Back()
		c.ll.Remove(back)
		delete(c.entries, back.Value.(*cacheEntry).key)
	}

	c.entries[key] = c.ll.PushFront(&cacheEntry{
		key:        key,
		value:      value,
		expiration: c.timeNow().Add(c.ttl),
	})
}
