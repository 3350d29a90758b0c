package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/packetwarden/cloudflare-feed/internal/domain"
	"github.com/packetwarden/cloudflare-feed/internal/infra"
	"github.com/packetwarden/cloudflare-feed/internal/store"

	"go.uber.org/zap"
)

// FeedCore: ядро сервиса: чтение через уровни кэша и валидированная запись.
type FeedCore struct {
	reader         *RegionalReader
	store          store.Store // nil: биндинг не подключен (local/dev)
	key            string
	ttl            time.Duration
	maxIngestBytes int64
	metrics        *Metrics
	logger         *zap.Logger
}

func NewFeedCore(reader *RegionalReader, st store.Store, cfg infra.FeedConfig, maxIngestBytes int64, metrics *Metrics, logger *zap.Logger) *FeedCore {
	if maxIngestBytes <= 0 {
		maxIngestBytes = 1 << 20
	}
	return &FeedCore{
		reader:         reader,
		store:          st,
		key:            cfg.Key,
		ttl:            cfg.TTL,
		maxIngestBytes: maxIngestBytes,
		metrics:        metrics,
		logger:         logger.Named("feed"),
	}
}

// Current отдает тело снапшота в том виде, в каком его прислал продюсер.
// fromStore=false: это fallback, и его нельзя класть ни в один кэш. Ошибок наружу нет.
func (c *FeedCore) Current(ctx context.Context) (body []byte, fromStore bool) {
	log := c.logger.With(zap.String("trace_id", TraceID(ctx)))

	raw, found, err := c.reader.Read(ctx, c.key)
	if err != nil {
		log.Warn("snapshot read failed, serving fallback", zap.Error(err))
		return c.fallback("store_error"), false
	}
	if !found {
		reason := "empty"
		if c.store == nil {
			reason = "unbound"
		}
		log.Info("no snapshot stored, serving fallback", zap.String("reason", reason))
		return c.fallback(reason), false
	}

	if !json.Valid(raw) {
		log.Warn("stored snapshot is not valid JSON, serving fallback")
		return c.fallback("decode_error"), false
	}
	return raw, true
}

func (c *FeedCore) fallback(reason string) []byte {
	c.metrics.Fallbacks.WithLabelValues(reason).Inc()
	return domain.FallbackJSON()
}

// Ingest валидирует и безусловно перезаписывает снапшот (last-writer-wins).
// В хранилище уходит исходное тело: неизвестные продюсерские поля сохраняются.
// Кэши не трогаются: читатели видят старые данные до истечения ttl.
func (c *FeedCore) Ingest(ctx context.Context, body []byte) (int, error) {
	payload, err := domain.ParsePayload(body)
	if err != nil {
		c.metrics.IngestTotal.WithLabelValues("invalid").Inc()
		return 0, err
	}

	log := c.logger.With(zap.String("trace_id", TraceID(ctx)))

	if c.store == nil {
		c.metrics.IngestTotal.WithLabelValues("skipped").Inc()
		log.Warn("snapshot store binding not found, mock/local environment assumed")
		return payload.Count, nil
	}

	if err := c.store.Put(ctx, c.key, payload.Raw); err != nil {
		c.metrics.IngestTotal.WithLabelValues("failed").Inc()
		return 0, fmt.Errorf("ingest: write snapshot: %w", err)
	}

	c.metrics.IngestTotal.WithLabelValues("accepted").Inc()
	log.Info("snapshot written to store", zap.String("key", c.key), zap.Int("count", payload.Count))
	return payload.Count, nil
}
