package engine

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/packetwarden/cloudflare-feed/internal/cache"
	"github.com/packetwarden/cloudflare-feed/internal/infra"

	"go.uber.org/zap"
)

// Заголовки, которые относятся к конкретному запросу и не кэшируются
var perRequestHeaders = []string{"X-Cache", "X-Trace-ID", "X-Request-Id", "Date"}

// CachedResponse: полностью сформированный ответ, как он лежит в кэше.
type CachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// ResponseCache: HTTP-уровень кэша по методу и пути ресурса.
// При попадании ответ отдается как есть, хендлер не вызывается.
// Кэшируются только 200 с "Cache-Control: public, s-maxage=N", TTL = N.
type ResponseCache struct {
	cache     cache.Cache
	populator *Populator
	metrics   *Metrics
	logger    *zap.Logger
}

func NewResponseCache(c cache.Cache, populator *Populator, metrics *Metrics, logger *zap.Logger) *ResponseCache {
	return &ResponseCache{
		cache:     c,
		populator: populator,
		metrics:   metrics,
		logger:    logger.With(zap.String("mod", "response-cache")),
	}
}

func (rc *ResponseCache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		// HEAD читает запись GET, но сам кэш не наполняет
		key := infra.ResponseCacheKey(http.MethodGet, r.URL.Path)

		if cached, ok := rc.lookup(r, key); ok {
			rc.logger.Debug("response cache hit", zap.String("trace_id", TraceID(r.Context())))
			writeCached(w, cached)
			return
		}

		rc.logger.Debug("response cache miss, reading through regional tier", zap.String("trace_id", TraceID(r.Context())))

		w.Header().Set("X-Cache", "MISS")
		if r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		ttl, ok := cacheableTTL(rec.status, w.Header().Get("Cache-Control"))
		if !ok {
			return
		}

		header := w.Header().Clone()
		for _, h := range perRequestHeaders {
			header.Del(h)
		}
		payload, err := json.Marshal(CachedResponse{Status: rec.status, Header: header, Body: rec.body.Bytes()})
		if err != nil {
			rc.logger.Error("encode cached response failed", zap.Error(err))
			return
		}

		// Fire-and-forget: ответ уже ушел клиенту
		rc.populator.Schedule(PopulateJob{Key: key, Value: payload, TTL: ttl})
	})
}

func (rc *ResponseCache) lookup(r *http.Request, key string) (*CachedResponse, bool) {
	raw, ok, err := rc.cache.Get(r.Context(), key)
	if err != nil {
		rc.metrics.TierLookups.WithLabelValues(TierResponse, "error").Inc()
		rc.logger.Warn("response cache get failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		rc.metrics.TierLookups.WithLabelValues(TierResponse, "miss").Inc()
		return nil, false
	}

	var cached CachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		rc.metrics.TierLookups.WithLabelValues(TierResponse, "error").Inc()
		rc.logger.Warn("corrupted cached response ignored", zap.Error(err))
		return nil, false
	}

	rc.metrics.TierLookups.WithLabelValues(TierResponse, "hit").Inc()
	return &cached, true
}

func writeCached(w http.ResponseWriter, cached *CachedResponse) {
	h := w.Header()
	for k, v := range cached.Header {
		h[k] = append([]string(nil), v...)
	}
	h.Set("X-Cache", "HIT")
	w.WriteHeader(cached.Status)
	_, _ = w.Write(cached.Body)
}

// cacheableTTL разбирает Cache-Control ответа так же, как это делает shared cache (CDN).
func cacheableTTL(status int, cacheControl string) (time.Duration, bool) {
	if status != http.StatusOK || cacheControl == "" {
		return 0, false
	}

	var public bool
	sMaxAge := -1
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, _ := strings.Cut(strings.TrimSpace(directive), "=")
		switch strings.ToLower(name) {
		case "public":
			public = true
		case "no-store", "private", "no-cache":
			return 0, false
		case "s-maxage":
			n, err := strconv.Atoi(value)
			if err != nil {
				return 0, false
			}
			sMaxAge = n
		}
	}

	if !public || sMaxAge <= 0 {
		return 0, false
	}
	return time.Duration(sMaxAge) * time.Second, true
}

// recordingWriter пишет клиенту и параллельно копит тело для кэша.
type recordingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
