package engine

import (
	"context"
	"time"

	"github.com/packetwarden/cloudflare-feed/internal/cache"
	"github.com/packetwarden/cloudflare-feed/internal/infra"
	"github.com/packetwarden/cloudflare-feed/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RegionalReader: региональный read-through кэш перед хранилищем.
// В пределах ttl после успешного чтения хранилище не опрашивается.
// Одновременные промахи схлопываются в одно чтение (singleflight).
type RegionalReader struct {
	cache   cache.Cache
	store   store.Store // nil: хранилище не подключено
	ttl     time.Duration
	group   singleflight.Group
	metrics *Metrics
	logger  *zap.Logger
}

type regionalResult struct {
	value []byte
	found bool
}

func NewRegionalReader(c cache.Cache, st store.Store, ttl time.Duration, metrics *Metrics, logger *zap.Logger) *RegionalReader {
	return &RegionalReader{
		cache:   c,
		store:   st,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger.With(zap.String("mod", "regional")),
	}
}

// Read возвращает сырые байты снапшота. found=false: хранилище пусто или не подключено.
// Пустой результат в кэш не пишется, чтобы не закрепить отсутствие данных.
func (r *RegionalReader) Read(ctx context.Context, key string) ([]byte, bool, error) {
	cacheKey := infra.RegionalCacheKey(key)

	val, ok, err := r.cache.Get(ctx, cacheKey)
	switch {
	case err != nil:
		// Сбой кэша не фатален, идем в хранилище
		r.metrics.TierLookups.WithLabelValues(TierRegional, "error").Inc()
		r.logger.Warn("regional cache get failed", zap.Error(err))
	case ok:
		r.metrics.TierLookups.WithLabelValues(TierRegional, "hit").Inc()
		return val, true, nil
	default:
		r.metrics.TierLookups.WithLabelValues(TierRegional, "miss").Inc()
	}

	if r.store == nil {
		return nil, false, nil
	}

	// Общее чтение не должно отменяться из-за ухода первого клиента
	shared := context.WithoutCancel(ctx)
	res, err, _ := r.group.Do(key, func() (interface{}, error) {
		val, found, err := r.store.Get(shared, key)
		if err != nil {
			r.metrics.TierLookups.WithLabelValues(TierStore, "error").Inc()
			return nil, err
		}
		if !found {
			r.metrics.TierLookups.WithLabelValues(TierStore, "miss").Inc()
			return regionalResult{}, nil
		}
		r.metrics.TierLookups.WithLabelValues(TierStore, "hit").Inc()

		if err := r.cache.Put(shared, cacheKey, val, r.ttl); err != nil {
			r.logger.Warn("regional cache put failed", zap.Error(err))
		}
		return regionalResult{value: val, found: true}, nil
	})
	if err != nil {
		return nil, false, err
	}

	out := res.(regionalResult)
	return out.value, out.found, nil
}
