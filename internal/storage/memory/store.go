// Package memory is an in-process implementation of db.Store for local
// development (database.driver = memory) and tests. Data does not survive a
// restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
)

type Store struct {
	mu      sync.RWMutex
	tenants map[string]*db.Tenant
	events  []*db.Event
	nextID  int64
	costs   map[costKey]*db.CostDaily
	rules   map[string]*db.AlertRule
}

type costKey struct {
	tenantID string
	date     string
}

var _ db.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		tenants: make(map[string]*db.Tenant),
		costs:   make(map[costKey]*db.CostDaily),
		rules:   make(map[string]*db.AlertRule),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) CreateTenant(_ context.Context, t *db.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.tenants {
		if existing.Name == t.Name || existing.KeyHash == t.KeyHash ||
			(t.Email != nil && existing.Email != nil && *existing.Email == *t.Email) {
			return core.Conflict("Name or email already registered")
		}
	}
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *Store) GetTenant(_ context.Context, id string) (*db.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, core.NotFound("tenant not found")
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetTenantByKeyHash(_ context.Context, keyHash string) (*db.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tenants {
		if t.KeyHash == keyHash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, core.NotFound("tenant not found")
}

// SetPlan changes a tenant's plan, standing in for the billing process.
func (s *Store) SetPlan(tenantID string, plan core.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tenants[tenantID]; ok {
		t.Plan = plan
	}
}

func (s *Store) InsertEvents(_ context.Context, events []*db.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		s.nextID++
		cp := *e
		cp.ID = s.nextID
		e.ID = cp.ID
		s.events = append(s.events, &cp)
	}
	return nil
}

func (s *Store) CountEventsSince(_ context.Context, tenantID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.events {
		if e.TenantID == tenantID && e.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

// byRecent returns the tenant's events matching keep, newest ts first.
func (s *Store) byRecent(tenantID string, keep func(*db.Event) bool) []*db.Event {
	var out []*db.Event
	for _, e := range s.events {
		if e.TenantID == tenantID && keep(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TS != out[j].TS {
			return out[i].TS > out[j].TS
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func page(events []*db.Event, limit, offset int) []*db.Event {
	if offset >= len(events) {
		return []*db.Event{}
	}
	events = events[offset:]
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

func (s *Store) ListEvents(_ context.Context, f db.EventFilter) ([]*db.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byRecent(f.TenantID, func(e *db.Event) bool {
		if f.Kind != "" && e.Kind != f.Kind {
			return false
		}
		if f.Session != "" && (e.SessionKey == nil || *e.SessionKey != f.Session) {
			return false
		}
		if f.Since > 0 && e.TS <= f.Since {
			return false
		}
		if f.Until > 0 && e.TS > f.Until {
			return false
		}
		return true
	})
	return page(events, f.Limit, f.Offset), nil
}

func (s *Store) CountCronFailuresSince(_ context.Context, tenantID string, sinceTS float64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.events {
		if e.TenantID == tenantID && e.Kind == core.KindCron && e.TS > sinceTS && core.CronFailed(e.Data) {
			count++
		}
	}
	return count, nil
}

func (s *Store) RecentCronStatuses(_ context.Context, tenantID string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := page(s.byRecent(tenantID, func(e *db.Event) bool { return e.Kind == core.KindCron }), limit, 0)
	statuses := make([]string, 0, len(events))
	for _, e := range events {
		status, _ := e.Data[core.FieldStatus].(string)
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (s *Store) HasRecentFiring(_ context.Context, tenantID, ruleID string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.events {
		if e.TenantID != tenantID || e.Kind != core.KindAlertFired || !e.CreatedAt.After(since) {
			continue
		}
		if id, _ := e.Data["rule_id"].(string); id == ruleID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListFirings(_ context.Context, tenantID string, limit int) ([]*db.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*db.Event
	for _, e := range s.events {
		if e.TenantID == tenantID && e.Kind == core.KindAlertFired {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, limit, 0), nil
}

func (s *Store) CountEventsByKind(_ context.Context, tenantID string, sinceTS float64) ([]db.KindCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := map[string]int{}
	for _, e := range s.events {
		if e.TenantID == tenantID && e.TS > sinceTS {
			counts[e.Kind]++
		}
	}
	out := make([]db.KindCount, 0, len(counts))
	for kind, n := range counts {
		out = append(out, db.KindCount{Kind: kind, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func optString(data db.Payload, key string) *string {
	if s, ok := data[key].(string); ok {
		return &s
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *Store) CronHealth(_ context.Context, tenantID string, sinceTS float64) ([]db.CronHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct{ job, status string }
	index := map[key]int{}
	var out []db.CronHealth
	for _, e := range s.events {
		if e.TenantID != tenantID || e.Kind != core.KindCron || e.TS <= sinceTS {
			continue
		}
		job, status := optString(e.Data, core.FieldJob), optString(e.Data, core.FieldStatus)
		k := key{deref(job), deref(status)}
		if i, ok := index[k]; ok {
			out[i].Count++
			continue
		}
		index[k] = len(out)
		out = append(out, db.CronHealth{Job: job, Status: status, Count: 1})
	}
	sort.Slice(out, func(i, j int) bool {
		if deref(out[i].Job) != deref(out[j].Job) {
			return deref(out[i].Job) < deref(out[j].Job)
		}
		return deref(out[i].Status) < deref(out[j].Status)
	})
	return out, nil
}

func (s *Store) ListSessions(_ context.Context, tenantID string, sinceTS float64, limit int) ([]db.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index := map[string]int{}
	var out []db.SessionSummary
	for _, e := range s.events {
		if e.TenantID != tenantID || e.SessionKey == nil || e.TS <= sinceTS {
			continue
		}
		if i, ok := index[*e.SessionKey]; ok {
			sum := &out[i]
			sum.Events++
			if e.TS < sum.Started {
				sum.Started = e.TS
			}
			if e.TS > sum.LastActive {
				sum.LastActive = e.TS
			}
			continue
		}
		index[*e.SessionKey] = len(out)
		out = append(out, db.SessionSummary{SessionKey: *e.SessionKey, Started: e.TS, LastActive: e.TS, Events: 1})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActive > out[j].LastActive })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListCronRuns(_ context.Context, tenantID string, limit int) ([]db.CronRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := page(s.byRecent(tenantID, func(e *db.Event) bool { return e.Kind == core.KindCron }), limit, 0)
	runs := make([]db.CronRun, 0, len(events))
	for _, e := range events {
		run := db.CronRun{
			Job:    optString(e.Data, core.FieldJob),
			TS:     e.TS,
			Status: optString(e.Data, core.FieldStatus),
		}
		if d, ok := e.Data[core.FieldDurationMs].(float64); ok {
			run.DurationMs = &d
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *Store) DeleteEventsBefore(_ context.Context, plan core.Plan, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, e := range s.events {
		t, ok := s.tenants[e.TenantID]
		if ok && t.Plan == plan && e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}

func (s *Store) AddDailyCost(_ context.Context, tenantID, date string, cost float64, tokens int64, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := costKey{tenantID, date}
	row, ok := s.costs[k]
	if !ok {
		row = &db.CostDaily{TenantID: tenantID, Date: date}
		s.costs[k] = row
	}
	row.TotalCost += cost
	row.TotalTokens += tokens
	row.EventCount += int64(count)
	return nil
}

func (s *Store) GetDailyCost(_ context.Context, tenantID, date string) (*db.CostDaily, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if row, ok := s.costs[costKey{tenantID, date}]; ok {
		cp := *row
		return &cp, nil
	}
	return &db.CostDaily{TenantID: tenantID, Date: date}, nil
}

func (s *Store) ListDailyCosts(_ context.Context, tenantID, fromDate string) ([]*db.CostDaily, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*db.CostDaily{}
	for k, row := range s.costs {
		if k.tenantID == tenantID && k.date >= fromDate {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Store) DeleteDailyCostsBefore(_ context.Context, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for k := range s.costs {
		if k.date < date {
			delete(s.costs, k)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) CreateAlertRule(_ context.Context, rule *db.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rule
	s.rules[rule.ID] = &cp
	return nil
}

func (s *Store) ownedRule(id, tenantID string) (*db.AlertRule, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, core.NotFound("alert rule not found")
	}
	rule, ok := s.rules[id]
	if !ok || rule.TenantID != tenantID {
		return nil, core.NotFound("alert rule not found")
	}
	return rule, nil
}

func (s *Store) GetAlertRule(_ context.Context, id, tenantID string) (*db.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, err := s.ownedRule(id, tenantID)
	if err != nil {
		return nil, err
	}
	cp := *rule
	return &cp, nil
}

func (s *Store) listRules(tenantID string, enabledOnly bool) []*db.AlertRule {
	out := []*db.AlertRule{}
	for _, r := range s.rules {
		if r.TenantID == tenantID && (!enabledOnly || r.Enabled) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Store) ListAlertRules(_ context.Context, tenantID string) ([]*db.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := s.listRules(tenantID, false)
	for i, j := 0, len(rules)-1; i < j; i, j = i+1, j-1 {
		rules[i], rules[j] = rules[j], rules[i]
	}
	return rules, nil
}

func (s *Store) ListEnabledAlertRules(_ context.Context, tenantID string) ([]*db.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listRules(tenantID, true), nil
}

func (s *Store) CountAlertRules(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listRules(tenantID, false)), nil
}

func (s *Store) UpdateAlertRule(_ context.Context, rule *db.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.ownedRule(rule.ID, rule.TenantID)
	if err != nil {
		return err
	}
	cp := *rule
	cp.CreatedAt = existing.CreatedAt
	s.rules[rule.ID] = &cp
	return nil
}

func (s *Store) DeleteAlertRule(_ context.Context, id, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedRule(id, tenantID); err != nil {
		return err
	}
	delete(s.rules, id)
	return nil
}
