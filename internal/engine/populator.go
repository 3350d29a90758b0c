package engine

/*
Populator дописывает готовые ответы в кэш ответов в фоне.

- Hot Path не ждет записи: Schedule кладет задачу в буферизованный канал
  и сразу возвращается. При переполнении задача сбрасывается (Load Shedding),
  следующий промах все равно заполнит кэш.
- Ошибка записи или паника кэша только логируется и не доходит до хендлера.
- Stop закрывает вход и ждет, пока воркер вычитает остаток очереди (Drain Pattern).
*/

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/packetwarden/cloudflare-feed/internal/cache"

	"go.uber.org/zap"
)

type PopulateJob struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

type Populator struct {
	ch      chan PopulateJob
	cache   cache.Cache
	timeout time.Duration
	metrics *Metrics
	logger  *zap.Logger
	wg      sync.WaitGroup

	mu     sync.RWMutex // защищает closed и закрытие канала от гонки с Schedule
	closed bool
}

func NewPopulator(c cache.Cache, buffer int, timeout time.Duration, metrics *Metrics, logger *zap.Logger) *Populator {
	if buffer <= 0 {
		buffer = 1
	}
	return &Populator{
		ch:      make(chan PopulateJob, buffer),
		cache:   c,
		timeout: timeout,
		metrics: metrics,
		logger:  logger.With(zap.String("mod", "populator")),
	}
}

func (p *Populator) Start() {
	p.wg.Add(1)
	go p.worker()
}

// Stop запирает вход в канал и ждет, пока воркер всё допишет.
func (p *Populator) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	p.logger.Info("stopping populator: flushing queue...")
	p.wg.Wait()
	p.logger.Info("populator stopped gracefully")
}

// Schedule не блокируется. false: задача сброшена.
func (p *Populator) Schedule(job PopulateJob) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.metrics.PopulateDropped.Inc()
		p.logger.Warn("populate job dropped: populator is stopping", zap.String("key", job.Key))
		return false
	}

	select {
	case p.ch <- job:
		p.metrics.PopulateQueueFill.Set(float64(len(p.ch)))
		return true
	default:
		p.metrics.PopulateDropped.Inc()
		p.logger.Error("populate_queue_overflow", zap.String("key", job.Key))
		return false
	}
}

func (p *Populator) worker() {
	defer p.wg.Done()

	// Канал закрывается в Stop: range вычитает остаток и завершится
	for job := range p.ch {
		p.metrics.PopulateQueueFill.Set(float64(len(p.ch)))
		if err := p.put(job); err != nil {
			p.metrics.PopulateFailed.Inc()
			p.logger.Error("response cache population failed", zap.String("key", job.Key), zap.Error(err))
		}
	}
	p.logger.Info("populate worker finished")
}

func (p *Populator) put(job PopulateJob) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in cache put: %v", rec)
		}
	}()

	// Background: контекст запроса к этому моменту уже завершен
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.cache.Put(ctx, job.Key, job.Value, job.TTL)
}
