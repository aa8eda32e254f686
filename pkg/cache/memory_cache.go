package cache

import (
	"sync"
	"time"
)

type item struct {
	value      interface{}
	expiration int64
}

// MemoryCache is a TTL key-value cache. A janitor goroutine sweeps
// expired entries; reads also evict lazily so stale values are never
// returned between sweeps.
type MemoryCache struct {
	items    sync.Map
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{stopCh: make(chan struct{})}
	go c.cleanupExpired()
	return c
}

// Set stores value under key for ttl. ttl == 0 means no expiration.
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	expiration := int64(0)
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}
	c.items.Store(key, &item{value: value, expiration: expiration})
}

func (c *MemoryCache) Get(key string) (interface{}, bool) {
	v, ok := c.items.Load(key)
	if !ok {
		return nil, false
	}
	it := v.(*item)
	if it.expiration > 0 && time.Now().UnixNano() > it.expiration {
		c.items.Delete(key)
		return nil, false
	}
	return it.value, true
}

func (c *MemoryCache) Delete(key string) {
	c.items.Delete(key)
}

func (c *MemoryCache) Clear() {
	c.items.Range(func(key, _ interface{}) bool {
		c.items.Delete(key)
		return true
	})
}

// Len counts entries that have not expired.
func (c *MemoryCache) Len() int {
	n := 0
	now := time.Now().UnixNano()
	c.items.Range(func(_, v interface{}) bool {
		it := v.(*item)
		if it.expiration == 0 || now <= it.expiration {
			n++
		}
		return true
	})
	return n
}

// Stop terminates the janitor goroutine.
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *MemoryCache) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now().UnixNano()
			c.items.Range(func(key, v interface{}) bool {
				it := v.(*item)
				if it.expiration > 0 && now > it.expiration {
					c.items.Delete(key)
				}
				return true
			})
		case <-c.stopCh:
			return
		}
	}
}
