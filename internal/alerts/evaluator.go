// Package alerts evaluates tenant threshold rules against the rolling
// aggregates and records a firing at most once per rule per hour.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
	"github.com/leozw/agentpulse/internal/metrics"
	"github.com/leozw/agentpulse/internal/notify"
)

const (
	// DedupWindow suppresses repeat firings of the same rule.
	DedupWindow = time.Hour
	// MetricWindow is the trailing period of daily_events and cron_fail_count.
	MetricWindow = 24 * time.Hour
	// StreakDepth is how many recent cron runs cron_fail_streak looks at.
	StreakDepth = 10
)

// Notifier delivers a firing. Errors are the notifier's to log.
type Notifier interface {
	Dispatch(ctx context.Context, tenant *db.Tenant, alert notify.Alert) error
}

type Evaluator struct {
	store    db.Store
	notifier Notifier
	clock    quartz.Clock
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func NewEvaluator(store db.Store, notifier Notifier, clock quartz.Clock, collector *metrics.Collector, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		store:    store,
		notifier: notifier,
		clock:    clock,
		metrics:  collector,
		logger:   logger,
	}
}

// Run evaluates job on its own context bounded by timeout. It never uses the
// submitting request's context, and a panic inside evaluation is recovered
// and logged here.
func (e *Evaluator) Run(job Job, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := e.clock.Now()
	var (
		fired int
		err   error
	)
	recovered := panics.Try(func() {
		fired, err = e.Evaluate(ctx, job)
	})

	logger := e.logger.With(zap.String("tenant_id", job.TenantID), zap.String("job_id", job.ID))
	switch {
	case recovered != nil:
		e.metrics.RecordAlertJob("panic", e.clock.Since(start))
		logger.Error("Alert evaluation panicked",
			zap.Any("panic", recovered.Value),
			zap.ByteString("stack", recovered.Stack),
		)
	case err != nil:
		e.metrics.RecordAlertJob("failed", e.clock.Since(start))
		logger.Error("Alert evaluation failed", zap.Error(err))
	default:
		e.metrics.RecordAlertJob("done", e.clock.Since(start))
		if fired > 0 {
			logger.Info("Alert evaluation finished", zap.Int("fired", fired))
		}
	}
}

// Evaluate runs every enabled rule of the job's tenant and returns how many
// fired. A failing rule is logged and does not stop the others; only a
// failure to load the tenant or its rules is returned.
func (e *Evaluator) Evaluate(ctx context.Context, job Job) (int, error) {
	logger := e.logger.With(zap.String("tenant_id", job.TenantID), zap.String("job_id", job.ID))

	tenant, err := e.store.GetTenant(ctx, job.TenantID)
	if err != nil {
		if core.IsNotFound(err) {
			logger.Warn("Tenant vanished before evaluation")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load tenant: %w", err)
	}

	rules, err := e.store.ListEnabledAlertRules(ctx, job.TenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to list alert rules: %w", err)
	}
	if len(rules) == 0 {
		return 0, nil
	}

	now := e.clock.Now()
	values := newMetricCache(e.store, job.TenantID, now)
	fired := 0

	for _, rule := range rules {
		if cronMetric(rule.Metric) && !job.HasCron {
			continue
		}

		ok, err := e.evaluateRule(ctx, tenant, rule, values, now)
		if err != nil {
			logger.Error("Alert rule evaluation failed",
				zap.String("rule_id", rule.ID),
				zap.String("metric", rule.Metric),
				zap.Error(err),
			)
			continue
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

func (e *Evaluator) evaluateRule(ctx context.Context, tenant *db.Tenant, rule *db.AlertRule, values *metricCache, now time.Time) (bool, error) {
	value, err := values.get(ctx, rule.Metric)
	if err != nil {
		return false, err
	}
	if !Compare(rule.Operator, value, rule.Threshold) {
		return false, nil
	}

	recent, err := e.store.HasRecentFiring(ctx, rule.TenantID, rule.ID, now.Add(-DedupWindow))
	if err != nil {
		return false, fmt.Errorf("failed to check recent firings: %w", err)
	}
	if recent {
		e.logger.Debug("Alert suppressed by dedup window",
			zap.String("tenant_id", rule.TenantID),
			zap.String("rule_id", rule.ID),
		)
		return false, nil
	}

	firing := &db.Event{
		TenantID: rule.TenantID,
		Kind:     core.KindAlertFired,
		TS:       float64(now.UnixNano()) / 1e9,
		Data: db.Payload{
			"rule_id":   rule.ID,
			"rule_name": rule.Name,
			"metric":    rule.Metric,
			"value":     value,
			"threshold": rule.Threshold,
			"operator":  rule.Operator,
			"channel":   rule.Channel,
		},
		CreatedAt: now,
	}
	if err := e.store.InsertEvents(ctx, []*db.Event{firing}); err != nil {
		return false, fmt.Errorf("failed to record firing: %w", err)
	}

	e.metrics.RecordAlertFired(rule.TenantID, rule.Metric, rule.Channel)
	e.logger.Info("Alert fired",
		zap.String("tenant_id", rule.TenantID),
		zap.String("rule_id", rule.ID),
		zap.String("metric", rule.Metric),
		zap.Float64("value", value),
		zap.Float64("threshold", rule.Threshold),
	)

	alert := notify.Alert{
		TenantID:  rule.TenantID,
		RuleID:    rule.ID,
		RuleName:  rule.Name,
		Metric:    rule.Metric,
		Operator:  rule.Operator,
		Value:     value,
		Threshold: rule.Threshold,
		Channel:   rule.Channel,
		FiredAt:   now,
	}
	if rule.WebhookURL != nil {
		alert.WebhookURL = *rule.WebhookURL
	}
	_ = e.notifier.Dispatch(ctx, tenant, alert)

	return true, nil
}
