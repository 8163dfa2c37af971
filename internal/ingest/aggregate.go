package ingest

import (
	"context"
	"time"

	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
)

// CostSummary is the contribution of one batch to the daily rollup.
type CostSummary struct {
	Cost   float64
	Tokens int64
	Events int
}

// Summarize sums the cost events of a batch.
func Summarize(events []*db.Event) CostSummary {
	var s CostSummary
	for _, e := range events {
		if e.Kind != core.KindCost {
			continue
		}
		cost, tokens := core.CostOf(e.Data)
		s.Cost += cost
		s.Tokens += tokens
		s.Events++
	}
	return s
}

// aggregate folds a batch into today's rollup with a single upsert. Batches
// without cost events leave the rollup untouched.
func aggregate(ctx context.Context, store db.Store, tenantID string, now time.Time, s CostSummary) error {
	if s.Events == 0 {
		return nil
	}
	return store.AddDailyCost(ctx, tenantID, db.DateKey(now), s.Cost, s.Tokens, s.Events)
}
