package core

import "fmt"

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// Limits are the per-plan quotas applied to a tenant.
type Limits struct {
	MaxBatchSize  int `json:"max_batch_size"`
	DailyEventCap int `json:"daily_event_cap"`
	RetentionDays int `json:"retention_days"`
	MaxAlertRules int `json:"max_alert_rules"`
}

var planLimits = map[Plan]Limits{
	PlanFree: {MaxBatchSize: 100, DailyEventCap: 5000, RetentionDays: 7, MaxAlertRules: 10},
	PlanPro:  {MaxBatchSize: 500, DailyEventCap: 100000, RetentionDays: 90, MaxAlertRules: 100},
}

// Plans returns every known plan tier.
func Plans() []Plan {
	return []Plan{PlanFree, PlanPro}
}

func (p Plan) Valid() bool {
	_, ok := planLimits[p]
	return ok
}

// Limits returns the quotas of p. Unknown plans get the free tier.
func (p Plan) Limits() Limits {
	if l, ok := planLimits[p]; ok {
		return l
	}
	return planLimits[PlanFree]
}

// ParsePlan converts a stored plan name.
func ParsePlan(s string) (Plan, error) {
	p := Plan(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown plan %q", s)
	}
	return p, nil
}
