package quota

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
	"github.com/leozw/agentpulse/internal/storage/memory"
)

func seed(t *testing.T, store *memory.Store, tenantID string, n int, at time.Time) {
	t.Helper()
	events := make([]*db.Event, n)
	for i := range events {
		events[i] = &db.Event{TenantID: tenantID, Kind: "custom", TS: float64(at.Unix()), CreatedAt: at}
	}
	require.NoError(t, store.InsertEvents(context.Background(), events))
}

func TestCheckBatchSize(t *testing.T) {
	store := memory.New()
	e := NewEnforcer(store, quartz.NewMock(t))
	ctx := context.Background()

	free := &db.Tenant{ID: uuid.NewString(), Plan: core.PlanFree}
	err := e.Check(ctx, free, 101)
	require.Error(t, err)
	assert.Equal(t, core.KindTooLarge, core.KindOf(err))
	assert.Equal(t, "batch of 101 exceeds the free plan limit of 100 events", core.PublicMessage(err))

	assert.NoError(t, e.Check(ctx, free, 100))

	pro := &db.Tenant{ID: uuid.NewString(), Plan: core.PlanPro}
	assert.NoError(t, e.Check(ctx, pro, 500))
}

func TestCheckDailyCap(t *testing.T) {
	store := memory.New()
	clock := quartz.NewMock(t)
	e := NewEnforcer(store, clock)
	ctx := context.Background()

	tenant := &db.Tenant{ID: uuid.NewString(), Plan: core.PlanFree}
	seed(t, store, tenant.ID, 4990, clock.Now())

	assert.NoError(t, e.Check(ctx, tenant, 10))

	err := e.Check(ctx, tenant, 11)
	assert.Equal(t, core.KindQuota, core.KindOf(err))

	other := &db.Tenant{ID: uuid.NewString(), Plan: core.PlanFree}
	assert.NoError(t, e.Check(ctx, other, 100), "usage is counted per tenant")

	clock.Advance(Window + time.Second)
	assert.NoError(t, e.Check(ctx, tenant, 100), "events older than the window no longer count")
}

func TestCheckRules(t *testing.T) {
	store := memory.New()
	e := NewEnforcer(store, quartz.NewMock(t))
	ctx := context.Background()
	tenant := &db.Tenant{ID: uuid.NewString(), Plan: core.PlanFree}

	for i := 0; i < 10; i++ {
		require.NoError(t, e.CheckRules(ctx, tenant))
		require.NoError(t, store.CreateAlertRule(ctx, &db.AlertRule{ID: uuid.NewString(), TenantID: tenant.ID}))
	}
	assert.Equal(t, core.KindQuota, core.KindOf(e.CheckRules(ctx, tenant)))

	tenant.Plan = core.PlanPro
	assert.NoError(t, e.CheckRules(ctx, tenant))
}
