package db

import (
	"context"
	"time"

	"github.com/leozw/agentpulse/internal/core"
)

// Store is the full persistence surface used by the services. Repository is
// the production implementation; storage/memory backs local development and tests.
type Store interface {
	Ping(ctx context.Context) error

	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	GetTenantByKeyHash(ctx context.Context, keyHash string) (*Tenant, error)

	InsertEvents(ctx context.Context, events []*Event) error
	CountEventsSince(ctx context.Context, tenantID string, since time.Time) (int, error)
	ListEvents(ctx context.Context, f EventFilter) ([]*Event, error)
	CountCronFailuresSince(ctx context.Context, tenantID string, sinceTS float64) (int, error)
	RecentCronStatuses(ctx context.Context, tenantID string, limit int) ([]string, error)
	HasRecentFiring(ctx context.Context, tenantID, ruleID string, since time.Time) (bool, error)
	ListFirings(ctx context.Context, tenantID string, limit int) ([]*Event, error)
	CountEventsByKind(ctx context.Context, tenantID string, sinceTS float64) ([]KindCount, error)
	CronHealth(ctx context.Context, tenantID string, sinceTS float64) ([]CronHealth, error)
	ListSessions(ctx context.Context, tenantID string, sinceTS float64, limit int) ([]SessionSummary, error)
	ListCronRuns(ctx context.Context, tenantID string, limit int) ([]CronRun, error)
	DeleteEventsBefore(ctx context.Context, plan core.Plan, cutoff time.Time) (int64, error)

	AddDailyCost(ctx context.Context, tenantID, date string, cost float64, tokens int64, count int) error
	GetDailyCost(ctx context.Context, tenantID, date string) (*CostDaily, error)
	ListDailyCosts(ctx context.Context, tenantID, fromDate string) ([]*CostDaily, error)
	DeleteDailyCostsBefore(ctx context.Context, date string) (int64, error)

	CreateAlertRule(ctx context.Context, rule *AlertRule) error
	GetAlertRule(ctx context.Context, id, tenantID string) (*AlertRule, error)
	ListAlertRules(ctx context.Context, tenantID string) ([]*AlertRule, error)
	ListEnabledAlertRules(ctx context.Context, tenantID string) ([]*AlertRule, error)
	CountAlertRules(ctx context.Context, tenantID string) (int, error)
	UpdateAlertRule(ctx context.Context, rule *AlertRule) error
	DeleteAlertRule(ctx context.Context, id, tenantID string) error
}

var _ Store = (*Repository)(nil)
