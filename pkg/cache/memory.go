package cache

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

type memoryItem struct {
	data     []byte
	expireAt time.Time // zero means no expiry
}

func (m *memoryItem) expired(now time.Time) bool {
	return !m.expireAt.IsZero() && now.After(m.expireAt)
}

// MemoryCache implements Service in process. Values are stored encoded so
// Get decodes into any dest the same way RedisCache does.
type MemoryCache struct {
	data          map[string]*memoryItem
	access        map[string]time.Time
	mutex         sync.Mutex
	maxSize       int
	cleanupTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
}

var _ Service = (*MemoryCache)(nil)

// NewMemoryCache creates an in-memory cache. MaxSize <= 0 disables eviction.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := buildMemoryConfig(opts)

	mc := &MemoryCache{
		data:          make(map[string]*memoryItem),
		access:        make(map[string]time.Time),
		maxSize:       cfg.MaxSize,
		cleanupTicker: time.NewTicker(cfg.CleanupInterval),
		done:          make(chan struct{}),
	}

	go mc.cleanupExpired()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if _, exists := mc.data[key]; !exists && mc.maxSize > 0 && len(mc.data) >= mc.maxSize {
		mc.evictLRU()
	}

	item := &memoryItem{data: append([]byte(nil), data...)}
	if expiration > 0 {
		item.expireAt = time.Now().Add(expiration)
	}
	mc.data[key] = item
	mc.access[key] = time.Now()
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mutex.Lock()
	item, exists := mc.data[key]
	if !exists || item.expired(time.Now()) {
		if exists {
			mc.remove(key)
		}
		mc.mutex.Unlock()
		return ErrCacheMiss
	}
	mc.access[key] = time.Now()
	data := item.data
	mc.mutex.Unlock()

	return decode(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	for _, key := range keys {
		mc.remove(key)
	}
	return nil
}

// Keys returns live keys matching a glob pattern, sorted.
func (mc *MemoryCache) Keys(_ context.Context, pattern string) ([]string, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := time.Now()
	out := make([]string, 0)
	for key, item := range mc.data {
		if item.expired(now) {
			continue
		}
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (mc *MemoryCache) MGet(_ context.Context, keys ...string) (map[string]string, error) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	now := time.Now()
	results := make(map[string]string, len(keys))
	for _, key := range keys {
		if item, ok := mc.data[key]; ok && !item.expired(now) {
			results[key] = string(item.data)
		}
	}
	return results, nil
}

func (mc *MemoryCache) remove(key string) {
	delete(mc.data, key)
	delete(mc.access, key)
}

func (mc *MemoryCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, accessTime := range mc.access {
		if oldestKey == "" || accessTime.Before(oldestTime) {
			oldestTime = accessTime
			oldestKey = key
		}
	}
	if oldestKey != "" {
		mc.remove(oldestKey)
	}
}

func (mc *MemoryCache) cleanupExpired() {
	for {
		select {
		case <-mc.done:
			return
		case now := <-mc.cleanupTicker.C:
			mc.mutex.Lock()
			for key, item := range mc.data {
				if item.expired(now) {
					mc.remove(key)
				}
			}
			mc.mutex.Unlock()
		}
	}
}

// Close stops the cleanup goroutine.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.cleanupTicker.Stop()
		close(mc.done)
	})
	return nil
}
