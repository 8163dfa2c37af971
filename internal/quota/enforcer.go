package quota

import (
	"context"
	"time"

	"github.com/coder/quartz"

	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
)

// Window is the sliding period the daily event cap applies to.
const Window = 24 * time.Hour

type Enforcer struct {
	store db.Store
	clock quartz.Clock
}

func NewEnforcer(store db.Store, clock quartz.Clock) *Enforcer {
	return &Enforcer{store: store, clock: clock}
}

// Check admits a batch of n events for tenant or returns a TooLarge or Quota
// error. The count and the later insert are not serialized, so concurrent
// batches can overshoot the cap by at most one batch each.
func (e *Enforcer) Check(ctx context.Context, tenant *db.Tenant, n int) error {
	limits := tenant.Plan.Limits()

	if n > limits.MaxBatchSize {
		return core.TooLarge("batch of %d exceeds the %s plan limit of %d events", n, tenant.Plan, limits.MaxBatchSize)
	}

	used, err := e.store.CountEventsSince(ctx, tenant.ID, e.clock.Now().Add(-Window))
	if err != nil {
		return core.Internal(err, "failed to count events")
	}
	if used+n > limits.DailyEventCap {
		return core.QuotaExceeded("daily event limit of %d reached for the %s plan", limits.DailyEventCap, tenant.Plan)
	}
	return nil
}

// CheckRules reports whether tenant may create another alert rule.
func (e *Enforcer) CheckRules(ctx context.Context, tenant *db.Tenant) error {
	limit := tenant.Plan.Limits().MaxAlertRules

	count, err := e.store.CountAlertRules(ctx, tenant.ID)
	if err != nil {
		return core.Internal(err, "failed to count alert rules")
	}
	if count >= limit {
		return core.QuotaExceeded("alert rule limit of %d reached for the %s plan", limit, tenant.Plan)
	}
	return nil
}
