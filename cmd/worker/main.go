package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/alerts"
	"github.com/leozw/agentpulse/internal/bootstrap"
	"github.com/leozw/agentpulse/internal/config"
	"github.com/leozw/agentpulse/internal/metrics"
	"github.com/leozw/agentpulse/internal/queue"
	"github.com/leozw/agentpulse/internal/storage/redis"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.RequireSharedStore("worker"); err != nil {
		log.Fatal(err)
	}
	if cfg.Redis.URL == "" {
		log.Fatal("The worker consumes the Redis alert queue; set REDIS_URL")
	}

	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := bootstrap.OpenStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer closeStore()

	cache := redis.NewClient(cfg.Redis.URL)
	defer cache.Close()

	collector := metrics.NewCollector(cfg.Metrics)
	go collector.StartRemoteWrite(ctx, logger.Named("remote_write"))

	evaluator := bootstrap.NewEvaluator(cfg, store, quartz.NewReal(), collector, logger)
	jobQueue := queue.NewRedisQueue(cache.Client, queue.DefaultQueueName, cfg.Alerts.QueueSize)

	logger.Info("Worker started", zap.Int("consumers", cfg.Alerts.Workers))

	done := make(chan struct{})
	for i := 0; i < cfg.Alerts.Workers; i++ {
		go func(id int) {
			defer func() { done <- struct{}{} }()
			jobQueue.Consume(ctx, func(job alerts.Job) {
				evaluator.Run(job, cfg.Alerts.JobTimeout)
			}, collector, logger.With(zap.Int("consumer_id", id)))
		}(i)
	}

	<-ctx.Done()
	logger.Info("Shutting down worker...")
	for i := 0; i < cfg.Alerts.Workers; i++ {
		<-done
	}
	logger.Info("Worker exited")
}
