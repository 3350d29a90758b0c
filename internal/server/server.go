package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/packetwarden/cloudflare-feed/internal/engine"
	"github.com/packetwarden/cloudflare-feed/internal/infra/auth"
	"go.uber.org/zap"
)

// StoreState отдает текущее состояние хранилища для /health ("closed", "open", "unbound").
type StoreState func() string

type FeedServer struct {
	router *chi.Mux
	logger *zap.Logger

	core          *engine.FeedCore
	responseCache *engine.ResponseCache
	authorizer    auth.Authorizer
	storeState    StoreState
}

// NewFeedServer собирает HTTP-периметр сервиса фида
func NewFeedServer(
	logger *zap.Logger,
	core *engine.FeedCore,
	responseCache *engine.ResponseCache,
	authorizer auth.Authorizer,
	storeState StoreState,
) *FeedServer {
	if storeState == nil {
		storeState = func() string { return "unbound" }
	}
	s := &FeedServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("feed-api"),
		core:          core,
		responseCache: responseCache,
		authorizer:    authorizer,
		storeState:    storeState,
	}

	s.routes()
	return s
}

func (s *FeedServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.GetHead)
	r.Use(engine.TracingMiddleware)
	r.Use(engine.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНОЕ ЧТЕНИЕ ---
	r.Get("/health", s.health)

	// Кэш ответов стоит только перед фидом
	r.With(s.responseCache.Middleware).Get("/api/feed", s.core.HandleFeed)

	// --- 3. INGEST (доступ решает Authorizer) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authorizer, s.logger))
		r.Post("/api/ingest", s.core.HandleIngest)
	})
}

func (s *FeedServer) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","store":"` + s.storeState() + `"}`))
}

// ServeHTTP позволяет использовать FeedServer как стандартный http.Handler
func (s *FeedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
