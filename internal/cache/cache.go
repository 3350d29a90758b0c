// Package cache содержит уровни кэша с чистым TTL-истечением.
package cache

import (
	"context"
	"time"
)

// Cache: общий контракт для регионального кэша и кэша ответов.
// Значение перестает отдаваться после истечения ttl, вытеснения по LRU нет.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
