// Package retention deletes events that have outlived their tenant's plan
// window and daily cost rows older than the aggregate window.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
	"github.com/leozw/agentpulse/internal/metrics"
)

const day = 24 * time.Hour

// Report is what one pass removed.
type Report struct {
	Events     map[core.Plan]int64
	Aggregates int64
}

func (r *Report) Total() int64 {
	total := r.Aggregates
	for _, n := range r.Events {
		total += n
	}
	return total
}

type Reaper struct {
	store         db.Store
	clock         quartz.Clock
	aggregateDays int
	metrics       *metrics.Collector
	logger        *zap.Logger
}

func NewReaper(store db.Store, clock quartz.Clock, aggregateDays int, collector *metrics.Collector, logger *zap.Logger) *Reaper {
	if aggregateDays < 1 {
		aggregateDays = 90
	}
	return &Reaper{
		store:         store,
		clock:         clock,
		aggregateDays: aggregateDays,
		metrics:       collector,
		logger:        logger,
	}
}

// RunOnce performs one pass. An event created exactly at its plan's cutoff
// is kept. A failing plan does not stop the others; all failures are joined
// into the returned error.
func (r *Reaper) RunOnce(ctx context.Context) (*Report, error) {
	now := r.clock.Now().UTC()
	report := &Report{Events: make(map[core.Plan]int64)}
	var errs []error

	for _, plan := range core.Plans() {
		cutoff := now.Add(-time.Duration(plan.Limits().RetentionDays) * day)
		deleted, err := r.store.DeleteEventsBefore(ctx, plan, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("plan %s: %w", plan, err))
			continue
		}
		report.Events[plan] = deleted
		r.metrics.RecordRetention("events", string(plan), deleted)
	}

	cutoffDate := db.DateKey(now.Add(-time.Duration(r.aggregateDays) * day))
	deleted, err := r.store.DeleteDailyCostsBefore(ctx, cutoffDate)
	if err != nil {
		errs = append(errs, fmt.Errorf("cost_daily: %w", err))
	} else {
		report.Aggregates = deleted
		r.metrics.RecordRetention("cost_daily", "all", deleted)
	}

	fields := []zap.Field{zap.Int64("aggregates", report.Aggregates), zap.String("aggregate_cutoff", cutoffDate)}
	for plan, n := range report.Events {
		fields = append(fields, zap.Int64("events_"+string(plan), n))
	}
	r.logger.Info("Retention pass finished", fields...)

	return report, errors.Join(errs...)
}

// Schedule registers the reaper on a cron spec ("@hourly", "0 3 * * *", ...)
// and returns the stopped scheduler; the caller starts and stops it.
func (r *Reaper) Schedule(spec string, timeout time.Duration) (*cron.Cron, error) {
	c := cron.New(
		cron.WithLogger(cronLogger{r.logger}),
		cron.WithChain(cron.Recover(cronLogger{r.logger}), cron.SkipIfStillRunning(cronLogger{r.logger})),
	)

	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error("Retention pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return c, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
