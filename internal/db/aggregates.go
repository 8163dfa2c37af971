package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/leozw/agentpulse/internal/core"
)

// AddDailyCost folds cost, tokens and count into the (tenant, date) rollup,
// creating the row on first use. Not idempotent.
func (r *Repository) AddDailyCost(ctx context.Context, tenantID, date string, cost float64, tokens int64, count int) error {
	query := `
		INSERT INTO cost_daily (tenant_id, date, total_cost, total_tokens, event_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, date) DO UPDATE SET
			total_cost = cost_daily.total_cost + EXCLUDED.total_cost,
			total_tokens = cost_daily.total_tokens + EXCLUDED.total_tokens,
			event_count = cost_daily.event_count + EXCLUDED.event_count`

	if _, err := r.db.ExecContext(ctx, query, tenantID, date, cost, tokens, count); err != nil {
		return core.Internal(err, "failed to update cost aggregate")
	}
	return nil
}

// GetDailyCost returns the rollup for date, or a zero row when none exists.
func (r *Repository) GetDailyCost(ctx context.Context, tenantID, date string) (*CostDaily, error) {
	var c CostDaily
	query := `
		SELECT tenant_id, to_char(date, 'YYYY-MM-DD') AS date, total_cost, total_tokens, event_count
		FROM cost_daily
		WHERE tenant_id = $1 AND date = $2`
	if err := r.db.GetContext(ctx, &c, query, tenantID, date); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &CostDaily{TenantID: tenantID, Date: date}, nil
		}
		return nil, core.Internal(err, "failed to read cost aggregate")
	}
	return &c, nil
}

// ListDailyCosts returns rollups from fromDate (inclusive), oldest first.
func (r *Repository) ListDailyCosts(ctx context.Context, tenantID, fromDate string) ([]*CostDaily, error) {
	rows := []*CostDaily{}
	query := `
		SELECT tenant_id, to_char(date, 'YYYY-MM-DD') AS date, total_cost, total_tokens, event_count
		FROM cost_daily
		WHERE tenant_id = $1 AND date >= $2
		ORDER BY date`
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, fromDate); err != nil {
		return nil, core.Internal(err, "failed to list cost aggregates")
	}
	return rows, nil
}

// DeleteDailyCostsBefore prunes rollups older than date for every tenant.
func (r *Repository) DeleteDailyCostsBefore(ctx context.Context, date string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cost_daily WHERE date < $1`, date)
	if err != nil {
		return 0, core.Internal(err, "failed to delete expired aggregates")
	}
	return res.RowsAffected()
}
