package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/packetwarden/cloudflare-feed/internal/domain"

	"go.uber.org/zap"
)

// HandleFeed: GET /api/feed. Всегда 200: при любой проблеме отдается fallback.
func (c *FeedCore) HandleFeed(w http.ResponseWriter, r *http.Request) {
	body, fromStore := c.Current(r.Context())

	if fromStore {
		secs := int(c.ttl.Seconds())
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, s-maxage=%d", secs, secs))
	} else {
		// Синтетические данные не должны оседать ни в наших, ни в чужих кэшах
		w.Header().Set("Cache-Control", "no-store")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// HandleIngest: POST /api/ingest от доверенного продюсера.
func (c *FeedCore) HandleIngest(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, c.maxIngestBytes))
	if err != nil {
		// Тело не дочитано (слишком большое или оборвано), разбирать нечего
		c.logger.Warn("ingest body read failed", zap.Error(err), zap.String("trace_id", TraceID(r.Context())))
		c.metrics.IngestTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid payload structure"})
		return
	}

	count, err := c.Ingest(r.Context(), body)
	switch {
	case errors.Is(err, domain.ErrInvalidPayload):
		c.logger.Info("ingest rejected", zap.Error(err), zap.String("trace_id", TraceID(r.Context())))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid payload structure"})
	case err != nil:
		// tip: Не отдаем детали внутренних ошибок продюсеру
		c.logger.Error("error processing ingest webhook", zap.Error(err), zap.String("trace_id", TraceID(r.Context())))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	default:
		writeJSON(w, http.StatusOK, IngestResponse{Message: "Data accepted", Count: count})
	}
}

type IngestResponse struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
