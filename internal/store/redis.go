package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/packetwarden/cloudflare-feed/internal/infra"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, infra.SnapshotStoreKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis store: get: %w", err)
	}
	return val, true, nil
}

// Put пишет без TTL: снапшот живет до следующей записи продюсера.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, infra.SnapshotStoreKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis store: set: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
