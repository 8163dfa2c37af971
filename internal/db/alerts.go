package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/leozw/agentpulse/internal/core"
)

const ruleColumns = `id, tenant_id, name, metric, operator, threshold, channel, webhook_url, enabled, created_at, updated_at`

func (r *Repository) CreateAlertRule(ctx context.Context, rule *AlertRule) error {
	query := `
		INSERT INTO alert_rules (
			id, tenant_id, name, metric, operator, threshold,
			channel, webhook_url, enabled, created_at, updated_at
		) VALUES (
			:id, :tenant_id, :name, :metric, :operator, :threshold,
			:channel, :webhook_url, :enabled, :created_at, :updated_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
		return core.Internal(err, "failed to create alert rule")
	}
	return nil
}

func (r *Repository) GetAlertRule(ctx context.Context, id, tenantID string) (*AlertRule, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, core.NotFound("alert rule not found")
	}
	var rule AlertRule
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = $1 AND tenant_id = $2`
	if err := r.db.GetContext(ctx, &rule, query, id, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NotFound("alert rule not found")
		}
		return nil, core.Internal(err, "failed to get alert rule")
	}
	return &rule, nil
}

func (r *Repository) ListAlertRules(ctx context.Context, tenantID string) ([]*AlertRule, error) {
	rules := []*AlertRule{}
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE tenant_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &rules, query, tenantID); err != nil {
		return nil, core.Internal(err, "failed to list alert rules")
	}
	return rules, nil
}

func (r *Repository) ListEnabledAlertRules(ctx context.Context, tenantID string) ([]*AlertRule, error) {
	rules := []*AlertRule{}
	query := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE tenant_id = $1 AND enabled = true ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &rules, query, tenantID); err != nil {
		return nil, core.Internal(err, "failed to list enabled alert rules")
	}
	return rules, nil
}

func (r *Repository) CountAlertRules(ctx context.Context, tenantID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM alert_rules WHERE tenant_id = $1`, tenantID); err != nil {
		return 0, core.Internal(err, "failed to count alert rules")
	}
	return count, nil
}

func (r *Repository) UpdateAlertRule(ctx context.Context, rule *AlertRule) error {
	query := `
		UPDATE alert_rules SET
			name = :name,
			metric = :metric,
			operator = :operator,
			threshold = :threshold,
			channel = :channel,
			webhook_url = :webhook_url,
			enabled = :enabled,
			updated_at = :updated_at
		WHERE id = :id AND tenant_id = :tenant_id`

	res, err := r.db.NamedExecContext(ctx, query, rule)
	if err != nil {
		return core.Internal(err, "failed to update alert rule")
	}
	return requireRow(res, "alert rule not found")
}

func (r *Repository) DeleteAlertRule(ctx context.Context, id, tenantID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return core.NotFound("alert rule not found")
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return core.Internal(err, "failed to delete alert rule")
	}
	return requireRow(res, "alert rule not found")
}

func requireRow(res sql.Result, notFound string) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return core.Internal(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return core.NotFound("%s", notFound)
	}
	return nil
}
