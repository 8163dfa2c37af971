// Package notify delivers fired alerts to tenants. Delivery is best effort:
// one attempt per alert, failures are logged and counted but never retried.
package notify

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/db"
	"github.com/leozw/agentpulse/internal/metrics"
)

const (
	ChannelWebhook = "webhook"
	ChannelEmail   = "email"
)

// Alert is one rule firing, as seen by the delivery channels.
type Alert struct {
	TenantID   string
	RuleID     string
	RuleName   string
	Metric     string
	Operator   string
	Value      float64
	Threshold  float64
	Channel    string
	WebhookURL string
	FiredAt    time.Time
}

type Dispatcher struct {
	webhook *WebhookSender
	mailer  Mailer
	clock   quartz.Clock
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewDispatcher wires the channels. mailer may be nil when SMTP is not
// configured; email alerts are then skipped with a warning.
func NewDispatcher(webhook *WebhookSender, mailer Mailer, clock quartz.Clock, collector *metrics.Collector, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		webhook: webhook,
		mailer:  mailer,
		clock:   clock,
		metrics: collector,
		logger:  logger,
	}
}

// Dispatch sends alert on its rule's channel. The returned error is for
// callers that want it; it has already been logged.
func (d *Dispatcher) Dispatch(ctx context.Context, tenant *db.Tenant, alert Alert) error {
	logger := d.logger.With(
		zap.String("tenant_id", alert.TenantID),
		zap.String("rule_id", alert.RuleID),
		zap.String("channel", alert.Channel),
	)

	start := d.clock.Now()
	var err error

	switch alert.Channel {
	case ChannelWebhook:
		if alert.WebhookURL == "" {
			logger.Warn("Webhook rule has no URL")
			return nil
		}
		err = d.webhook.Send(ctx, alert)
	case ChannelEmail:
		if tenant == nil || tenant.Email == nil || *tenant.Email == "" {
			logger.Debug("Tenant has no email, skipping notification")
			return nil
		}
		if d.mailer == nil {
			logger.Warn("SMTP is not configured, skipping email notification")
			return nil
		}
		subject, body := renderEmail(alert)
		err = d.mailer.Send(ctx, *tenant.Email, subject, body)
	default:
		logger.Warn("Unknown notification channel")
		return nil
	}

	d.metrics.RecordNotification(alert.Channel, err == nil, d.clock.Since(start))

	if err != nil {
		logger.Error("Failed to deliver alert", zap.Error(err))
		return err
	}
	logger.Info("Alert delivered", zap.String("metric", alert.Metric), zap.Float64("value", alert.Value))
	return nil
}
