package cache

import (
	"sync"
	"time"
)

const defaultCapacity = 1024

type item struct {
	b   []byte
	exp time.Time
}

func (it item) expired(now time.Time) bool {
	return !it.exp.IsZero() && !now.Before(it.exp)
}

// TTLCache is a bounded in-process byte cache with per-entry expiry. When
// full, expired entries are purged first and then the entry closest to
// expiry is evicted.
type TTLCache struct {
	mu    sync.Mutex
	items map[string]item
	cap   int
	now   func() time.Time
}

// NewTTLCache holds up to capacity entries; non-positive means 1024.
func NewTTLCache(capacity int) *TTLCache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &TTLCache{items: make(map[string]item), cap: capacity, now: time.Now}
}

func (c *TTLCache) GetBytes(key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if it.expired(c.now()) {
		delete(c.items, key)
		return nil, false, nil
	}
	return it.b, true, nil
}

// SetBytes stores b under key. A ttl of zero never expires.
func (c *TTLCache) SetBytes(key string, b []byte, ttl time.Duration) error {
	now := c.now()
	it := item{b: b}
	if ttl > 0 {
		it.exp = now.Add(ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok && len(c.items) >= c.cap {
		c.makeRoom(now)
	}
	c.items[key] = it
	return nil
}

func (c *TTLCache) makeRoom(now time.Time) {
	var (
		victim string
		soon   time.Time
	)
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
			continue
		}
		if victim == "" || (!it.exp.IsZero() && (soon.IsZero() || it.exp.Before(soon))) {
			victim, soon = k, it.exp
		}
	}
	if len(c.items) >= c.cap && victim != "" {
		delete(c.items, victim)
	}
}

func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
