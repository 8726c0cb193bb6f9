package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	mqcontracts "phaseplanner/contracts/mq"
	"phaseplanner/internal/cache"
	"phaseplanner/internal/config"
	"phaseplanner/internal/mqhandler"
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

// 每个路由键一个队列，都做同一件事：重算项目的违规表
var recomputeKeys = []string{
	mqcontracts.RoutingKeyPhaseCorrected,
	mqcontracts.RoutingKeyPhaseUpdated,
	mqcontracts.RoutingKeyDependencyChanged,
}

func queueName(routingKey string) string {
	return routingKey + ".recompute.q"
}

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting planner worker...",
		zap.String("db_host", cfg.DB.Host),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("redis_addr", cfg.Redis.Addr),
	)

	shutdownOTel, err := otel.Init("planner-worker", cfg.OTel, log)
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

	// Redis
	rdb, err := redis.NewClient(context.Background(), cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	defer rdb.Close()

	deduper := util.NewDeduperWithLogger(rdb, time.Hour, log)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	// MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	outboxRepo := outbox.NewRepository(dbConn)
	projectRepo := repository.NewProjectRepository(dbConn, log)
	phaseRepo := repository.NewPhaseRepository(dbConn, outboxRepo, log)
	depRepo := repository.NewDependencyRepository(dbConn, outboxRepo, log)
	violationCache := cache.NewViolationCache(rdb, cfg.Planner.CacheTTL, log)

	svc := planning.NewService(projectRepo, phaseRepo, depRepo, violationCache,
		util.NewLocker(rdb, cfg.Planner.FixLockTTL),
		planning.Options{MaxPhases: cfg.Planner.MaxPhases}, log)

	// Outbox Dispatcher
	dispatcherCtx, dispatcherCancel := context.WithCancel(context.Background())
	defer dispatcherCancel()
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
	go dispatcher.Start(dispatcherCtx)

	// Consumers
	consumers := make([]*mq.Consumer, 0, len(recomputeKeys))
	for _, rk := range recomputeKeys {
		queue := queueName(rk)
		log.Info("Initializing MQ consumer...", zap.String("queue", queue), zap.String("routing_key", rk))

		consumer, err := mq.NewConsumer(cfg.MQ.URL, queue, rk, log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.String("queue", queue), zap.Error(err))
		}
		defer consumer.Close()

		h := mqhandler.NewProjectEventsHandler(rk, svc, deduper, retryCounter, publisher,
			cfg.Planner.ConsumerMaxRetries, log)
		consumer.SetHandler(h.Handle)

		go func(queue string) {
			if err := consumer.StartConsuming(); err != nil {
				log.Fatal("Consumer failed", zap.String("queue", queue), zap.Error(err))
			}
		}(queue)
		consumers = append(consumers, consumer)
	}

	// HTTP Server (health + metrics only)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		for _, consumer := range consumers {
			if !consumer.IsConnected() {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_disconnected"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:              cfg.Worker.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Worker HTTP server starting", zap.String("addr", cfg.Worker.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("planner worker is fully initialized and running", zap.Int("consumers", len(consumers)))

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down planner worker gracefully...")

	log.Info("Stopping MQ consumers...")
	for _, consumer := range consumers {
		consumer.Stop()
	}
	dispatcherCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("planner worker shutdown complete")
}
