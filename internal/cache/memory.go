package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache: TTL-кэш в памяти процесса. Просроченные записи не отдаются,
// а физически удаляются фоновым janitor-ом.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type MemoryOption func(*MemoryCache)

// WithClock подменяет часы (нужно тестам TTL).
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) { c.now = now }
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok || !c.now().Before(item.expiresAt) {
		return nil, false, nil
	}
	// Копия, как и в Put: вызывающий не портит закэшированные байты
	return append([]byte(nil), item.value...), true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	// Копия, чтобы вызывающий не мог поменять закэшированные байты
	buf := append([]byte(nil), value...)

	c.mu.Lock()
	c.items[key] = memoryItem{value: buf, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// StartJanitor периодически вычищает просроченные записи до вызова Close.
func (c *MemoryCache) StartJanitor(interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-c.stop:
				return
			}
		}
	}()
}

// Sweep удаляет все просроченные записи.
func (c *MemoryCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if !now.Before(item.expiresAt) {
			delete(c.items, key)
		}
	}
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *MemoryCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
