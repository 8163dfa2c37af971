// Package bootstrap builds the pieces shared by the api, worker and
// scheduler binaries from one Config.
package bootstrap

import (
	"fmt"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/alerts"
	"github.com/leozw/agentpulse/internal/config"
	"github.com/leozw/agentpulse/internal/db"
	"github.com/leozw/agentpulse/internal/metrics"
	"github.com/leozw/agentpulse/internal/notify"
	"github.com/leozw/agentpulse/internal/storage/memory"
)

// NewLogger returns a development logger in debug mode, a production one otherwise.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Debug() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// OpenStore connects the configured store. The returned func releases it.
func OpenStore(cfg *config.Config, logger *zap.Logger) (db.Store, func(), error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory store, data is lost on restart")
		return memory.New(), func() {}, nil
	}

	conn, err := db.NewConnection(cfg.Database.URL, cfg.Database.MaxConnections, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := db.MigrateUp(conn.DB); err != nil {
			conn.Close()
			return nil, nil, err
		}
		logger.Info("Database migrations applied")
	}

	return db.NewRepository(conn), func() { conn.Close() }, nil
}

// NewResolver returns the DNS resolver for webhook host checks, or nil when
// host resolution is disabled.
func NewResolver(cfg *config.Config) alerts.Resolver {
	if !cfg.Alerts.ResolveWebhookHosts {
		return nil
	}
	return alerts.NewDNSResolver(cfg.Alerts.Nameserver)
}

// NewEvaluator wires the alert evaluator to its delivery channels.
func NewEvaluator(cfg *config.Config, store db.Store, clock quartz.Clock, collector *metrics.Collector, logger *zap.Logger) *alerts.Evaluator {
	webhook := notify.NewWebhookSender(cfg.Alerts.WebhookTimeout, notify.NewSigner(cfg.Alerts.SigningSecret))

	var mailer notify.Mailer
	if m := notify.NewSMTPMailer(cfg.SMTP); m != nil {
		mailer = m
	} else {
		logger.Warn("SMTP not configured, email alerts will be skipped")
	}

	dispatcher := notify.NewDispatcher(webhook, mailer, clock, collector, logger.Named("notify"))
	return alerts.NewEvaluator(store, dispatcher, clock, collector, logger.Named("alerts"))
}
