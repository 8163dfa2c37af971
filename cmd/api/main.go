package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/alerts"
	"github.com/leozw/agentpulse/internal/api"
	"github.com/leozw/agentpulse/internal/api/handlers"
	"github.com/leozw/agentpulse/internal/bootstrap"
	"github.com/leozw/agentpulse/internal/config"
	"github.com/leozw/agentpulse/internal/ingest"
	"github.com/leozw/agentpulse/internal/metrics"
	"github.com/leozw/agentpulse/internal/queue"
	"github.com/leozw/agentpulse/internal/quota"
	"github.com/leozw/agentpulse/internal/ratelimit"
	"github.com/leozw/agentpulse/internal/scheduler"
	"github.com/leozw/agentpulse/internal/storage/redis"
	"github.com/leozw/agentpulse/internal/tenants"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	store, closeStore, err := bootstrap.OpenStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer closeStore()

	clock := quartz.NewReal()
	collector := metrics.NewCollector(cfg.Metrics)
	go collector.StartRemoteWrite(ctx, logger.Named("remote_write"))

	// Redis
	var cache *redis.Client
	if cfg.Redis.URL != "" {
		cache = redis.NewClient(cfg.Redis.URL)
		defer cache.Close()
		if err := cache.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis unreachable at startup", zap.Error(err))
		}
	}

	var limiter ratelimit.Limiter
	if cache != nil {
		limiter = ratelimit.NewRedisLimiter(cache, "register", cfg.RateLimit.RegisterPerHour, time.Hour)
	} else {
		memLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.RegisterPerHour, time.Hour)
		go memLimiter.Cleanup(ctx, 10*time.Minute)
		limiter = memLimiter
	}

	// Alert jobs
	var jobs alerts.Submitter
	var pool *scheduler.Pool
	switch cfg.Alerts.Queue {
	case "redis":
		jobs = queue.NewRedisQueue(cache.Client, queue.DefaultQueueName, cfg.Alerts.QueueSize)
		logger.Info("Alert jobs go to Redis; run the worker binary to evaluate them")
	default:
		evaluator := bootstrap.NewEvaluator(cfg, store, clock, collector, logger)
		pool = scheduler.NewPool(cfg.Alerts.Workers, cfg.Alerts.QueueSize, func(job alerts.Job) {
			evaluator.Run(job, cfg.Alerts.JobTimeout)
		}, collector, logger.Named("pool"))
		// Workers outlive the signal so jobs from requests drained by
		// Shutdown still run; pool.Stop ends them.
		pool.Start(context.Background())
		jobs = pool
	}

	registry := tenants.NewRegistry(store, clock, logger.Named("tenants"))
	enforcer := quota.NewEnforcer(store, clock)
	gateway := ingest.NewGateway(store, enforcer, jobs, clock, collector, logger.Named("ingest"))

	h := handlers.NewHandler(handlers.Deps{
		Store:    store,
		Registry: registry,
		Gateway:  gateway,
		Quota:    enforcer,
		Rules:    alerts.NewRuleValidator(bootstrap.NewResolver(cfg)),
		Clock:    clock,
		Logger:   logger.Named("api"),
		Version:  version,
	})

	// API Server
	server := api.NewServer(cfg, h, registry, limiter, collector, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started",
		zap.String("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("store", cfg.Database.Driver),
		zap.String("alert_queue", cfg.Alerts.Queue),
	)

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if pool != nil {
		pool.Stop()
	}

	logger.Info("Server exited")
}
