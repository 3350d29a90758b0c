package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/packetwarden/cloudflare-feed/internal/engine"
	"github.com/packetwarden/cloudflare-feed/internal/infra"
	"github.com/packetwarden/cloudflare-feed/internal/infra/auth"
	"github.com/packetwarden/cloudflare-feed/internal/server"
	"github.com/packetwarden/cloudflare-feed/internal/store"
)

// Имя сервиса в gRPC health: NOT_SERVING, пока предохранитель хранилища разомкнут
const storeHealthService = "feed.store"

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Контекст жизненного цикла: SIGINT/SIGTERM запускают остановку
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		logger.Info("metrics server started", zap.String("addr", cfg.Metrics.Addr))
		if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 2. gRPC health для оркестратора
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(storeHealthService, healthpb.HealthCheckResponse_SERVING)

	// 3. Хранилище снапшота (+ лимит и Circuit Breaker)
	rdb := &lazyRedis{cfg: cfg.Redis}
	defer func() { _ = rdb.Close() }()

	rawStore, closeStore, err := openStore(appCtx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal("failed to open snapshot store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer closeStore()

	var (
		st         store.Store // nil, если хранилище не подключено
		storeState server.StoreState
	)
	if rawStore != nil {
		protected := engine.NewProtectedStore(rawStore, cfg.Store, metrics, logger, func(_, to gobreaker.State) {
			status := healthpb.HealthCheckResponse_SERVING
			if to == gobreaker.StateOpen {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			healthSrv.SetServingStatus(storeHealthService, status)
		})
		st = protected
		storeState = func() string { return protected.State().String() }
	}

	// 4. Уровни кэша
	regionalCache, closeRegional, err := openCache(cfg.Cache.Regional, rdb)
	if err != nil {
		logger.Fatal("failed to open regional cache", zap.Error(err))
	}
	defer closeRegional()

	responseCache, closeResponse, err := openCache(cfg.Cache.Response, rdb)
	if err != nil {
		logger.Fatal("failed to open response cache", zap.Error(err))
	}
	defer closeResponse()

	// 5. Ядро
	reader := engine.NewRegionalReader(regionalCache, st, cfg.Feed.TTL, metrics, logger)
	core := engine.NewFeedCore(reader, st, cfg.Feed, cfg.Server.MaxIngestBytes, metrics, logger)
	if st != nil {
		engine.Warmup(appCtx, reader, cfg.Feed.Key, cfg.Store.OpTimeout, logger)
	}

	populator := engine.NewPopulator(responseCache, cfg.Feed.PopulateBuffer, cfg.Feed.PopulateTimeout, metrics, logger)
	populator.Start()

	authorizer, err := auth.NewAuthorizer(cfg.Auth)
	if err != nil {
		logger.Fatal("failed to init ingest authorizer", zap.String("mode", cfg.Auth.Mode), zap.Error(err))
	}

	// 6. HTTP Server
	handler := server.NewFeedServer(
		logger,
		core,
		engine.NewResponseCache(responseCache, populator, metrics, logger),
		authorizer,
		storeState,
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// gRPC сервер только с health-сервисом
	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, healthSrv)

		go func() {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				logger.Fatal("failed to listen gRPC", zap.Error(err))
			}
			logger.Info("gRPC health server started", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("gRPC server stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("feed service started",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.Duration("ttl", cfg.Feed.TTL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 7. Graceful Shutdown
	<-appCtx.Done()
	logger.Info("feed service stopping...")
	healthSrv.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}

	// Дописываем очередь кэша ответов после того, как хендлеры остановлены
	populator.Stop()
	logger.Info("feed service exited properly")
}
