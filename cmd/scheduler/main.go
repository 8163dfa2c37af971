package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/bootstrap"
	"github.com/leozw/agentpulse/internal/config"
	"github.com/leozw/agentpulse/internal/metrics"
	"github.com/leozw/agentpulse/internal/retention"
)

func main() {
	once := flag.Bool("once", false, "run one retention pass and exit")
	runAtStart := flag.Bool("run-at-start", true, "run a retention pass before the first scheduled one")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.RequireSharedStore("scheduler"); err != nil {
		log.Fatal(err)
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

	collector := metrics.NewCollector(cfg.Metrics)
	reaper := retention.NewReaper(store, quartz.NewReal(), cfg.Retention.AggregateDays, collector, logger.Named("retention"))

	if *once || *runAtStart {
		passCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		_, err := reaper.RunOnce(passCtx)
		cancel()
		if err != nil {
			logger.Error("Retention pass failed", zap.Error(err))
		}
		if *once {
			return
		}
	}

	c, err := reaper.Schedule(cfg.Retention.Schedule, 10*time.Minute)
	if err != nil {
		logger.Fatal("Invalid retention schedule", zap.String("schedule", cfg.Retention.Schedule), zap.Error(err))
	}
	c.Start()
	go collector.StartRemoteWrite(ctx, logger.Named("remote_write"))

	logger.Info("Scheduler started", zap.String("schedule", cfg.Retention.Schedule))

	<-ctx.Done()
	logger.Info("Shutting down scheduler...")
	<-c.Stop().Done()
	logger.Info("Scheduler stopped")
}
