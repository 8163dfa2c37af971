package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
)

// metricCache resolves each metric at most once per evaluation pass.
type metricCache struct {
	store    db.Store
	tenantID string
	now      time.Time
	values   map[string]float64
	daily    *db.CostDaily
}

func newMetricCache(store db.Store, tenantID string, now time.Time) *metricCache {
	return &metricCache{
		store:    store,
		tenantID: tenantID,
		now:      now,
		values:   make(map[string]float64),
	}
}

func (m *metricCache) get(ctx context.Context, metric string) (float64, error) {
	if v, ok := m.values[metric]; ok {
		return v, nil
	}
	v, err := m.resolve(ctx, metric)
	if err != nil {
		return 0, err
	}
	m.values[metric] = v
	return v, nil
}

func (m *metricCache) resolve(ctx context.Context, metric string) (float64, error) {
	switch metric {
	case MetricDailyCost, MetricDailyTokens:
		if m.daily == nil {
			row, err := m.store.GetDailyCost(ctx, m.tenantID, db.DateKey(m.now))
			if err != nil {
				return 0, fmt.Errorf("failed to load daily cost: %w", err)
			}
			m.daily = row
		}
		if metric == MetricDailyCost {
			return m.daily.TotalCost, nil
		}
		return float64(m.daily.TotalTokens), nil

	case MetricDailyEvents:
		n, err := m.store.CountEventsSince(ctx, m.tenantID, m.now.Add(-MetricWindow))
		if err != nil {
			return 0, fmt.Errorf("failed to count events: %w", err)
		}
		return float64(n), nil

	case MetricCronFailCount:
		since := float64(m.now.Add(-MetricWindow).UnixNano()) / 1e9
		n, err := m.store.CountCronFailuresSince(ctx, m.tenantID, since)
		if err != nil {
			return 0, fmt.Errorf("failed to count cron failures: %w", err)
		}
		return float64(n), nil

	case MetricCronFailStreak:
		statuses, err := m.store.RecentCronStatuses(ctx, m.tenantID, StreakDepth)
		if err != nil {
			return 0, fmt.Errorf("failed to load cron runs: %w", err)
		}
		return float64(FailStreak(statuses)), nil

	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
}

// FailStreak counts the leading failures of statuses ordered newest first.
func FailStreak(statuses []string) int {
	streak := 0
	for _, s := range statuses {
		if s != core.CronStatusFail {
			break
		}
		streak++
	}
	return streak
}
