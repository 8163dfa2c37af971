// Package ingest is the single write path for tenant events: validation,
// quota, the event insert, the daily cost rollup and the hand-off to alert
// evaluation.
package ingest

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/alerts"
	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
	"github.com/leozw/agentpulse/internal/metrics"
	"github.com/leozw/agentpulse/internal/quota"
)

type Gateway struct {
	store   db.Store
	quota   *quota.Enforcer
	jobs    alerts.Submitter
	clock   quartz.Clock
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewGateway(store db.Store, enforcer *quota.Enforcer, jobs alerts.Submitter, clock quartz.Clock, collector *metrics.Collector, logger *zap.Logger) *Gateway {
	return &Gateway{
		store:   store,
		quota:   enforcer,
		jobs:    jobs,
		clock:   clock,
		metrics: collector,
		logger:  logger,
	}
}

// Ingest stores a batch for tenant and returns the number of events accepted.
// Either every event is stored or none is.
func (g *Gateway) Ingest(ctx context.Context, tenant *db.Tenant, batch []EventInput) (int, error) {
	now := g.clock.Now().UTC()

	events, err := Validate(batch, tenant.ID, now)
	if err != nil {
		g.metrics.RecordRejectedBatch("invalid")
		return 0, err
	}
	return g.persist(ctx, tenant, events)
}

// Heartbeat records a single liveness event. data is the optional request
// body and goes through the same checks as an ingested payload.
func (g *Gateway) Heartbeat(ctx context.Context, tenant *db.Tenant, data json.RawMessage) (int, error) {
	return g.Ingest(ctx, tenant, []EventInput{{Kind: core.KindHeartbeat, Data: data}})
}

func (g *Gateway) persist(ctx context.Context, tenant *db.Tenant, events []*db.Event) (int, error) {
	logger := g.logger.With(zap.String("tenant_id", tenant.ID))
	now := events[0].CreatedAt

	if err := g.quota.Check(ctx, tenant, len(events)); err != nil {
		switch core.KindOf(err) {
		case core.KindTooLarge:
			g.metrics.RecordRejectedBatch("too_large")
		case core.KindQuota:
			g.metrics.RecordRejectedBatch("quota")
		default:
			g.metrics.RecordRejectedBatch("error")
		}
		return 0, err
	}

	if err := g.store.InsertEvents(ctx, events); err != nil {
		g.metrics.RecordRejectedBatch("error")
		return 0, core.Internal(err, "failed to store events")
	}

	summary := Summarize(events)
	if err := aggregate(ctx, g.store, tenant.ID, now, summary); err != nil {
		// The events are already stored; the rollup is now behind by this batch.
		logger.Error("aggregation update failed",
			zap.Int("events", len(events)),
			zap.Float64("cost", summary.Cost),
			zap.Error(err),
		)
		g.metrics.RecordRejectedBatch("error")
		return 0, core.Internal(err, "aggregation update failed")
	}

	g.metrics.RecordIngest(tenant.ID, len(events), summary.Cost)

	job := alerts.NewJob(tenant.ID, len(events), hasCron(events), now)
	if err := g.jobs.Submit(ctx, job); err != nil {
		if errors.Is(err, alerts.ErrQueueFull) {
			logger.Warn("Alert queue full, evaluation skipped", zap.String("job_id", job.ID))
		} else {
			logger.Error("Failed to submit alert job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	return len(events), nil
}

func hasCron(events []*db.Event) bool {
	for _, e := range events {
		if e.Kind == core.KindCron {
			return true
		}
	}
	return false
}
