package db

import (
	"context"
	"fmt"
	"time"

	"github.com/leozw/agentpulse/internal/core"
)

const eventColumns = `id, tenant_id, kind, ts, session_key, data, created_at`

// InsertEvents writes the whole batch in a single statement, so either every
// event is stored or none is.
func (r *Repository) InsertEvents(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]Event, len(events))
	for i, e := range events {
		rows[i] = *e
	}

	query := `
		INSERT INTO events (tenant_id, kind, ts, session_key, data, created_at)
		VALUES (:tenant_id, :kind, :ts, :session_key, :data, :created_at)`

	if _, err := r.db.NamedExecContext(ctx, query, rows); err != nil {
		return core.Internal(err, "failed to insert events")
	}
	return nil
}

// CountEventsSince counts events received (created_at) after since.
func (r *Repository) CountEventsSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM events WHERE tenant_id = $1 AND created_at > $2`
	if err := r.db.GetContext(ctx, &count, query, tenantID, since); err != nil {
		return 0, core.Internal(err, "failed to count events")
	}
	return count, nil
}

func (r *Repository) ListEvents(ctx context.Context, f EventFilter) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE tenant_id = $1`
	args := []interface{}{f.TenantID}

	if f.Kind != "" {
		args = append(args, f.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if f.Session != "" {
		args = append(args, f.Session)
		query += fmt.Sprintf(" AND session_key = $%d", len(args))
	}
	if f.Since > 0 {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND ts > $%d", len(args))
	}
	if f.Until > 0 {
		args = append(args, f.Until)
		query += fmt.Sprintf(" AND ts <= $%d", len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY ts DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	events := []*Event{}
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, core.Internal(err, "failed to list events")
	}
	return events, nil
}

// CountCronFailuresSince counts cron events with ts after sinceTS whose status is "fail".
func (r *Repository) CountCronFailuresSince(ctx context.Context, tenantID string, sinceTS float64) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM events
		WHERE tenant_id = $1 AND kind = $2 AND ts > $3 AND data->>'status' = $4`
	if err := r.db.GetContext(ctx, &count, query, tenantID, core.KindCron, sinceTS, core.CronStatusFail); err != nil {
		return 0, core.Internal(err, "failed to count cron failures")
	}
	return count, nil
}

// RecentCronStatuses returns the status of the latest cron events, newest first.
func (r *Repository) RecentCronStatuses(ctx context.Context, tenantID string, limit int) ([]string, error) {
	statuses := []string{}
	query := `
		SELECT COALESCE(data->>'status', '') FROM events
		WHERE tenant_id = $1 AND kind = $2
		ORDER BY ts DESC, id DESC
		LIMIT $3`
	if err := r.db.SelectContext(ctx, &statuses, query, tenantID, core.KindCron, limit); err != nil {
		return nil, core.Internal(err, "failed to read cron history")
	}
	return statuses, nil
}

// HasRecentFiring reports whether ruleID already fired for the tenant after since.
func (r *Repository) HasRecentFiring(ctx context.Context, tenantID, ruleID string, since time.Time) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS(
			SELECT 1 FROM events
			WHERE tenant_id = $1 AND kind = $2 AND data->>'rule_id' = $3 AND created_at > $4
		)`
	if err := r.db.GetContext(ctx, &exists, query, tenantID, core.KindAlertFired, ruleID, since); err != nil {
		return false, core.Internal(err, "failed to check alert history")
	}
	return exists, nil
}

func (r *Repository) ListFirings(ctx context.Context, tenantID string, limit int) ([]*Event, error) {
	events := []*Event{}
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE tenant_id = $1 AND kind = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`
	if err := r.db.SelectContext(ctx, &events, query, tenantID, core.KindAlertFired, limit); err != nil {
		return nil, core.Internal(err, "failed to list alert history")
	}
	return events, nil
}

func (r *Repository) CountEventsByKind(ctx context.Context, tenantID string, sinceTS float64) ([]KindCount, error) {
	counts := []KindCount{}
	query := `
		SELECT kind, COUNT(*) AS count FROM events
		WHERE tenant_id = $1 AND ts > $2
		GROUP BY kind
		ORDER BY kind`
	if err := r.db.SelectContext(ctx, &counts, query, tenantID, sinceTS); err != nil {
		return nil, core.Internal(err, "failed to count events by kind")
	}
	return counts, nil
}

func (r *Repository) CronHealth(ctx context.Context, tenantID string, sinceTS float64) ([]CronHealth, error) {
	rows := []CronHealth{}
	query := `
		SELECT data->>'job' AS job, data->>'status' AS status, COUNT(*) AS count
		FROM events
		WHERE tenant_id = $1 AND kind = $2 AND ts > $3
		GROUP BY 1, 2
		ORDER BY 1, 2`
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, core.KindCron, sinceTS); err != nil {
		return nil, core.Internal(err, "failed to aggregate cron health")
	}
	return rows, nil
}

func (r *Repository) ListSessions(ctx context.Context, tenantID string, sinceTS float64, limit int) ([]SessionSummary, error) {
	sessions := []SessionSummary{}
	query := `
		SELECT session_key, MIN(ts) AS started, MAX(ts) AS last_active, COUNT(*) AS events
		FROM events
		WHERE tenant_id = $1 AND session_key IS NOT NULL AND ts > $2
		GROUP BY session_key
		ORDER BY last_active DESC
		LIMIT $3`
	if err := r.db.SelectContext(ctx, &sessions, query, tenantID, sinceTS, limit); err != nil {
		return nil, core.Internal(err, "failed to list sessions")
	}
	return sessions, nil
}

func (r *Repository) ListCronRuns(ctx context.Context, tenantID string, limit int) ([]CronRun, error) {
	runs := []CronRun{}
	query := `
		SELECT data->>'job' AS job, ts, data->>'status' AS status,
			CASE WHEN jsonb_typeof(data->'duration_ms') = 'number'
				THEN (data->>'duration_ms')::float8 END AS duration_ms
		FROM events
		WHERE tenant_id = $1 AND kind = $2
		ORDER BY ts DESC, id DESC
		LIMIT $3`
	if err := r.db.SelectContext(ctx, &runs, query, tenantID, core.KindCron, limit); err != nil {
		return nil, core.Internal(err, "failed to list cron runs")
	}
	return runs, nil
}

// DeleteEventsBefore removes events of tenants on plan received before cutoff.
// Events exactly at cutoff are kept.
func (r *Repository) DeleteEventsBefore(ctx context.Context, plan core.Plan, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM events e
		USING tenants t
		WHERE e.tenant_id = t.id AND t.plan = $1 AND e.created_at < $2`
	res, err := r.db.ExecContext(ctx, query, string(plan), cutoff)
	if err != nil {
		return 0, core.Internal(err, "failed to delete expired events")
	}
	return res.RowsAffected()
}
