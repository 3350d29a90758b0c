package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/packetwarden/cloudflare-feed/internal/infra"
	"github.com/packetwarden/cloudflare-feed/internal/store"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StateHook получает переходы предохранителя (метрики, gRPC health).
type StateHook func(from, to gobreaker.State)

// ProtectedStore оборачивает медленное хранилище: лимит чтений + Circuit Breaker.
// Ретраев нет: каждая операция выполняется один раз на запрос.
type ProtectedStore struct {
	next      store.Store
	cb        *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
	opTimeout time.Duration
	metrics   *Metrics
	logger    *zap.Logger
}

type getResult struct {
	value []byte
	found bool
}

func NewProtectedStore(next store.Store, cfg infra.StoreConfig, metrics *Metrics, logger *zap.Logger, hooks ...StateHook) *ProtectedStore {
	log := logger.With(zap.String("mod", "store"))

	maxFailures := max(cfg.CBMaxFailures, 1)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "snapshot-store",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.CircuitBreakerState.Set(float64(to))
			for _, h := range hooks {
				h(from, to)
			}
		},
	})

	limit := rate.Inf
	if cfg.ReadRPS > 0 {
		limit = rate.Limit(cfg.ReadRPS)
	}
	burst := max(cfg.ReadBurst, 1)

	return &ProtectedStore{
		next:      next,
		cb:        cb,
		limiter:   rate.NewLimiter(limit, burst),
		opTimeout: cfg.OpTimeout,
		metrics:   metrics,
		logger:    log,
	}
}

// Get не ждет лимитер: запрос сверх бюджета сразу получает ErrThrottled и уходит в fallback.
func (p *ProtectedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !p.limiter.Allow() {
		p.metrics.StoreDuration.WithLabelValues("get", "throttled").Observe(0)
		return nil, false, store.ErrThrottled
	}

	start := time.Now()
	res, err := p.cb.Execute(func() (interface{}, error) {
		opCtx, cancel := p.withTimeout(ctx)
		defer cancel()

		val, found, err := p.next.Get(opCtx, key)
		return getResult{value: val, found: found}, err
	})
	p.observe("get", start, err)

	if err != nil {
		return nil, false, p.mapErr(err)
	}
	r := res.(getResult)
	return r.value, r.found, nil
}

func (p *ProtectedStore) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	_, err := p.cb.Execute(func() (interface{}, error) {
		opCtx, cancel := p.withTimeout(ctx)
		defer cancel()
		return nil, p.next.Put(opCtx, key, value)
	})
	p.observe("put", start, err)

	if err != nil {
		return p.mapErr(err)
	}
	return nil
}

func (p *ProtectedStore) State() gobreaker.State {
	return p.cb.State()
}

func (p *ProtectedStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.opTimeout)
}

func (p *ProtectedStore) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.StoreDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

func (p *ProtectedStore) mapErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}
