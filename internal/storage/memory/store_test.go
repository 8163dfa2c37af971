package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
)

func seedTenant(t *testing.T, s *Store, name string, plan core.Plan) *db.Tenant {
	t.Helper()
	tenant := &db.Tenant{ID: uuid.NewString(), Name: name, KeyHash: "hash-" + name, Plan: plan, CreatedAt: time.Now()}
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return tenant
}

func TestCreateTenantUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	email := "ops@example.com"

	require.NoError(t, s.CreateTenant(ctx, &db.Tenant{ID: uuid.NewString(), Name: "a", KeyHash: "h1", Email: &email}))

	err := s.CreateTenant(ctx, &db.Tenant{ID: uuid.NewString(), Name: "a", KeyHash: "h2"})
	assert.Equal(t, core.KindConflict, core.KindOf(err))

	dup := "ops@example.com"
	err = s.CreateTenant(ctx, &db.Tenant{ID: uuid.NewString(), Name: "b", KeyHash: "h3", Email: &dup})
	assert.Equal(t, core.KindConflict, core.KindOf(err))

	assert.NoError(t, s.CreateTenant(ctx, &db.Tenant{ID: uuid.NewString(), Name: "c", KeyHash: "h4"}))
}

func TestEventsAreTenantScoped(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedTenant(t, s, "a", core.PlanFree)
	b := seedTenant(t, s, "b", core.PlanFree)
	now := time.Now()

	require.NoError(t, s.InsertEvents(ctx, []*db.Event{
		{TenantID: a.ID, Kind: "cost", TS: 100, CreatedAt: now},
		{TenantID: a.ID, Kind: "cron", TS: 200, CreatedAt: now},
		{TenantID: b.ID, Kind: "cost", TS: 300, CreatedAt: now},
	}))

	events, err := s.ListEvents(ctx, db.EventFilter{TenantID: a.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 200.0, events[0].TS)

	n, err := s.CountEventsSince(ctx, b.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteEventsBeforeKeepsBoundary(t *testing.T) {
	s := New()
	ctx := context.Background()
	free := seedTenant(t, s, "free", core.PlanFree)
	pro := seedTenant(t, s, "pro", core.PlanPro)
	cutoff := time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertEvents(ctx, []*db.Event{
		{TenantID: free.ID, Kind: "old", CreatedAt: cutoff.Add(-time.Second)},
		{TenantID: free.ID, Kind: "boundary", CreatedAt: cutoff},
		{TenantID: pro.ID, Kind: "old", CreatedAt: cutoff.Add(-time.Second)},
	}))

	deleted, err := s.DeleteEventsBefore(ctx, core.PlanFree, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	events, _ := s.ListEvents(ctx, db.EventFilter{TenantID: free.ID})
	require.Len(t, events, 1)
	assert.Equal(t, "boundary", events[0].Kind)

	n, _ := s.CountEventsSince(ctx, pro.ID, time.Time{})
	assert.Equal(t, 1, n)
}

func TestDailyCostAccumulates(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.AddDailyCost(ctx, "t1", "2026-10-17", 0.10, 100, 1))
	require.NoError(t, s.AddDailyCost(ctx, "t1", "2026-10-17", 0.05, 50, 1))

	row, err := s.GetDailyCost(ctx, "t1", "2026-10-17")
	require.NoError(t, err)
	assert.InDelta(t, 0.15, row.TotalCost, 1e-9)
	assert.Equal(t, int64(150), row.TotalTokens)
	assert.Equal(t, int64(2), row.EventCount)

	empty, err := s.GetDailyCost(ctx, "t2", "2026-10-17")
	require.NoError(t, err)
	assert.Zero(t, empty.TotalCost)
}

func TestAlertRuleOwnership(t *testing.T) {
	s := New()
	ctx := context.Background()
	rule := &db.AlertRule{ID: uuid.NewString(), TenantID: "owner", Name: "r", Enabled: true}
	require.NoError(t, s.CreateAlertRule(ctx, rule))

	_, err := s.GetAlertRule(ctx, rule.ID, "intruder")
	assert.True(t, core.IsNotFound(err))
	assert.True(t, core.IsNotFound(s.DeleteAlertRule(ctx, rule.ID, "intruder")))

	update := *rule
	update.TenantID = "intruder"
	assert.True(t, core.IsNotFound(s.UpdateAlertRule(ctx, &update)))

	got, err := s.GetAlertRule(ctx, rule.ID, "owner")
	require.NoError(t, err)
	assert.Equal(t, "r", got.Name)
}
