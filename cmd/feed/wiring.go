package main

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/packetwarden/cloudflare-feed/internal/cache"
	"github.com/packetwarden/cloudflare-feed/internal/infra"
	"github.com/packetwarden/cloudflare-feed/internal/store"
)

// lazyRedis создает клиента только если он кому-то нужен (хранилище или кэш).
type lazyRedis struct {
	cfg    infra.RedisConfig
	client *redis.Client
}

func (l *lazyRedis) get() *redis.Client {
	if l.client == nil {
		l.client = redis.NewClient(&redis.Options{
			Addr:     l.cfg.Addr,
			Password: l.cfg.Password,
			DB:       l.cfg.DB,
		})
	}
	return l.client
}

func (l *lazyRedis) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

// openStore выбирает драйвер хранилища. Для driver=none возвращается nil:
// сервис работает на fallback, ingest только логирует.
func openStore(ctx context.Context, cfg *infra.Config, rdb *lazyRedis, logger *zap.Logger) (store.Store, func(), error) {
	noop := func() {}

	switch cfg.Store.Driver {
	case "none":
		logger.Warn("snapshot store is not bound, feed will serve fallback data")
		return nil, noop, nil
	case "memory":
		return store.NewMemoryStore(), noop, nil
	case "redis":
		st := store.NewRedisStore(rdb.get())
		return st, noop, waitReady(ctx, st, cfg.Store, logger)
	case "postgres":
		st, err := store.NewPostgresStore(ctx, cfg.Database)
		if err != nil {
			return nil, noop, err
		}
		if err := waitReady(ctx, st, cfg.Store, logger); err != nil {
			st.Close()
			return nil, noop, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, noop, err
		}
		return st, st.Close, nil
	case "dynamodb":
		st, err := store.NewDynamoStore(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, noop, err
		}
		return st, noop, waitReady(ctx, st, cfg.Store, logger)
	default:
		return nil, noop, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// waitReady пингует хранилище с экспоненциальным бэкоффом. Только на старте:
// на горячем пути ретраев нет.
func waitReady(ctx context.Context, p store.Pinger, cfg infra.StoreConfig, logger *zap.Logger) error {
	attempts := max(cfg.ConnectAttempts, 1)

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
	)

	var n uint
	err := r.Do(func() error {
		n++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := p.Ping(pingCtx); err != nil {
			logger.Warn("snapshot store not ready", zap.Uint("attempt", n), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("snapshot store unreachable after %d attempts: %w", attempts, err)
	}
	return nil
}

// openCache собирает уровень кэша. Для memory запускается уборщик просроченных записей.
func openCache(tier infra.CacheTierConfig, rdb *lazyRedis) (cache.Cache, func(), error) {
	switch tier.Driver {
	case "memory":
		c := cache.NewMemoryCache()
		if tier.JanitorInterval > 0 {
			c.StartJanitor(tier.JanitorInterval)
		}
		return c, c.Close, nil
	case "redis":
		return cache.NewRedisCache(rdb.get()), func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown cache driver %q", tier.Driver)
	}
}
