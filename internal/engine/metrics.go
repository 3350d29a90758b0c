package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Имена уровней для метки tier
const (
	TierResponse = "response"
	TierRegional = "regional"
	TierStore    = "store"
)

type Metrics struct {
	// Попадания/промахи по уровням: result = hit, miss, error
	TierLookups *prometheus.CounterVec

	// Сколько раз отдали fallback и почему
	Fallbacks *prometheus.CounterVec

	// Результаты ingest: accepted, invalid, failed, skipped
	IngestTotal *prometheus.CounterVec

	// Latency операций с медленным хранилищем
	StoreDuration *prometheus.HistogramVec

	// Состояние Circuit Breaker хранилища (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState prometheus.Gauge

	// Очередь фонового заполнения кэша ответов (backpressure)
	PopulateQueueFill prometheus.Gauge
	PopulateDropped   prometheus.Counter
	PopulateFailed    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		TierLookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "feed_tier_lookups_total",
			Help: "Cache tier lookups by tier and result.",
		}, []string{"tier", "result"}),

		Fallbacks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "feed_fallback_total",
			Help: "Responses served from the fallback dataset by reason.",
		}, []string{"reason"}), // empty, unbound, store_error, decode_error

		IngestTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "feed_ingest_total",
			Help: "Ingest requests by outcome.",
		}, []string{"status"}),

		StoreDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feed_store_duration_seconds",
			Help:    "Histogram of snapshot store operation latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"op", "status"}),

		CircuitBreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "feed_store_circuit_breaker_state",
			Help: "Current state of the store circuit breaker (0=closed, 1=half-open, 2=open).",
		}),

		PopulateQueueFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "feed_populate_queue_length",
			Help: "Current number of pending response cache writes.",
		}),

		PopulateDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "feed_populate_dropped_total",
			Help: "Response cache writes dropped because the queue was full or closed.",
		}),

		PopulateFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "feed_populate_failed_total",
			Help: "Response cache writes that returned an error.",
		}),
	}
}
