package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"phaseplanner/internal/cache"
	"phaseplanner/internal/config"
	"phaseplanner/internal/handler"
	"phaseplanner/internal/httpserver"
	"phaseplanner/internal/repository"
	"phaseplanner/internal/service/planning"
	"phaseplanner/pkg/db"
	"phaseplanner/pkg/logger"
	"phaseplanner/pkg/mq"
	"phaseplanner/pkg/otel"
	"phaseplanner/pkg/outbox"
	"phaseplanner/pkg/redis"
	"phaseplanner/pkg/util"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting planner API...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.Bool("auth_enabled", cfg.JWT.Secret != ""),
	)

	shutdownOTel, err := otel.Init("planner-api", cfg.OTel, log)
	if err != nil {
		log.Warn("OpenTelemetry init failed, continuing without tracing", zap.Error(err))
		shutdownOTel = func() {}
	}
	defer shutdownOTel()

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()
	log.Info("Database connection established successfully")

	// Redis
	rdb, err := redis.NewClient(context.Background(), cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	defer rdb.Close()

	violationCache := cache.NewViolationCache(rdb, cfg.Planner.CacheTTL, log)
	locker := util.NewLocker(rdb, cfg.Planner.FixLockTTL)

	// Repositories
	outboxRepo := outbox.NewRepository(dbConn)
	projectRepo := repository.NewProjectRepository(dbConn, log)
	phaseRepo := repository.NewPhaseRepository(dbConn, outboxRepo, log)
	depRepo := repository.NewDependencyRepository(dbConn, outboxRepo, log)

	svc := planning.NewService(projectRepo, phaseRepo, depRepo, violationCache, locker,
		planning.Options{MaxPhases: cfg.Planner.MaxPhases}, log)

	opts := httpserver.Options{
		JWTSecret: cfg.JWT.Secret,
		DB:        dbConn,
	}

	// 手动重放需要 MQ；MQ 不可用时 API 照常启动，只是没有 admin 路由
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Warn("MQ publisher unavailable, outbox admin routes disabled", zap.Error(err))
	} else {
		defer publisher.Close()
		replayService := outbox.NewReplayService(outboxRepo, publisher, log)
		opts.Outbox = handler.NewOutboxHandler(outboxRepo, replayService, log)
	}

	router := httpserver.NewRouter(handler.NewPlanningHandler(svc, log), log, opts)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down planner API gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("planner API shutdown complete")
}
