package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Warmup прогревает региональный кэш до открытия порта: первая волна
// запросов после деплоя не уходит в хранилище разом.
// Ошибка не фатальна, сервис стартует и отдает fallback.
func Warmup(ctx context.Context, reader *RegionalReader, key string, timeout time.Duration, logger *zap.Logger) bool {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	_, found, err := reader.Read(ctx, key)
	switch {
	case err != nil:
		logger.Warn("regional cache warm-up failed", zap.String("key", key), zap.Error(err))
		return false
	case !found:
		logger.Info("nothing to warm up, snapshot store is empty", zap.String("key", key))
		return false
	default:
		logger.Info("regional cache warmed up", zap.String("key", key))
		return true
	}
}
