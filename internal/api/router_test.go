package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/alerts"
	"github.com/leozw/agentpulse/internal/api/handlers"
	"github.com/leozw/agentpulse/internal/config"
	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
	"github.com/leozw/agentpulse/internal/ingest"
	"github.com/leozw/agentpulse/internal/metrics"
	"github.com/leozw/agentpulse/internal/notify"
	"github.com/leozw/agentpulse/internal/quota"
	"github.com/leozw/agentpulse/internal/ratelimit"
	"github.com/leozw/agentpulse/internal/storage/memory"
	"github.com/leozw/agentpulse/internal/tenants"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []alerts.Job
}

func (r *recordingSubmitter) Submit(_ context.Context, job alerts.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *countingNotifier) Dispatch(context.Context, *db.Tenant, notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

type testServer struct {
	*Server
	store *memory.Store
	clock *quartz.Mock
	jobs  *recordingSubmitter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server:    config.ServerConfig{Port: "0", Mode: "release", MaxBodyBytes: 4096},
		RateLimit: config.RateLimitConfig{RegisterPerHour: 3},
	}
	logger := zap.NewNop()
	store := memory.New()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC))
	collector := metrics.NewCollector(cfg.Metrics)
	jobs := &recordingSubmitter{}

	registry := tenants.NewRegistry(store, clock, logger)
	enforcer := quota.NewEnforcer(store, clock)
	gateway := ingest.NewGateway(store, enforcer, jobs, clock, collector, logger)

	h := handlers.NewHandler(handlers.Deps{
		Store:    store,
		Registry: registry,
		Gateway:  gateway,
		Quota:    enforcer,
		Rules:    alerts.NewRuleValidator(nil),
		Clock:    clock,
		Logger:   logger,
		Version:  "test",
	})
	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.RegisterPerHour, time.Hour)

	return &testServer{
		Server: NewServer(cfg, h, registry, limiter, collector, logger),
		store:  store,
		clock:  clock,
		jobs:   jobs,
	}
}

func (s *testServer) do(t *testing.T, method, path, key string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func (s *testServer) register(t *testing.T, name string) (string, string) {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/register", "", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		ID     string `json:"id"`
		APIKey string `json:"api_key"`
		Plan   string `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "free", resp.Plan)
	return resp.ID, resp.APIKey
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = s.do(t, http.MethodGet, "/v1/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	_, key := s.register(t, "acme")
	assert.True(t, strings.HasPrefix(key, tenants.KeyPrefix))

	w := s.do(t, http.MethodPost, "/v1/register", "", map[string]string{"name": "acme"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/v1/register", "", map[string]string{"name": "a"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/register", "", map[string]string{"name": "another"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "fourth attempt from one address is throttled")
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	req.Header.Set("Authorization", "Basic abc")
	w = httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/v1/events", "ap_short", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	unknown, err := tenants.GenerateKey()
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/v1/events", unknown, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestIngestAndQuery(t *testing.T) {
	s := newTestServer(t)
	_, key := s.register(t, "acme")
	now := float64(s.clock.Now().Unix())

	w := s.do(t, http.MethodPost, "/v1/ingest", key, map[string]interface{}{
		"events": []map[string]interface{}{
			{"kind": "cost", "ts": now - 10, "session": "s1", "data": map[string]interface{}{"cost": 0.25, "tokens": 1000}},
			{"kind": "cron", "ts": now - 5, "data": map[string]interface{}{"job": "backup", "status": "fail", "duration_ms": 120}},
			{"kind": "message", "ts": now - 1, "session": "s1"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 3, decode(t, w)["accepted"])

	require.Len(t, s.jobs.jobs, 1)
	assert.True(t, s.jobs.jobs[0].HasCron)

	w = s.do(t, http.MethodGet, "/v1/events?kind=cost", key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = s.do(t, http.MethodGet, "/v1/stats?period=7d", key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.Equal(t, "7d", stats["period"])
	assert.EqualValues(t, 3, stats["total_events"])
	cost := stats["cost"].(map[string]interface{})
	assert.InDelta(t, 0.25, cost["usd"], 1e-9)
	assert.EqualValues(t, 1000, cost["tokens"])
	assert.Len(t, stats["cron_health"], 1)

	w = s.do(t, http.MethodGet, "/v1/sessions", key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["sessions"], 1)

	w = s.do(t, http.MethodGet, "/v1/crons", key, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["crons"], 1)
}

func TestIngestRejections(t *testing.T) {
	s := newTestServer(t)
	tenantID, key := s.register(t, "acme")

	w := s.do(t, http.MethodPost, "/v1/ingest", key, map[string]interface{}{"events": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/ingest", key, `{"events": [`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/v1/ingest", key, map[string]interface{}{
		"events": []map[string]interface{}{{"kind": "ok"}, {"kind": "bad kind!"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "events[1]")

	big := `{"events":[{"kind":"x","data":{"blob":"` + strings.Repeat("a", 5000) + `"}}]}`
	w = s.do(t, http.MethodPost, "/v1/ingest", key, big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	events := make([]map[string]interface{}, core.PlanFree.Limits().MaxBatchSize+1)
	for i := range events {
		events[i] = map[string]interface{}{"kind": "x"}
	}
	w = s.do(t, http.MethodPost, "/v1/ingest", key, map[string]interface{}{"events": events})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	stored, err := s.store.ListEvents(context.Background(), db.EventFilter{TenantID: tenantID})
	require.NoError(t, err)
	assert.Empty(t, stored, "rejected batches store nothing")
}

func TestHeartbeat(t *testing.T) {
	s := newTestServer(t)
	_, key := s.register(t, "acme")

	w := s.do(t, http.MethodPost, "/v1/heartbeat", key, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/v1/events?kind=heartbeat", key, nil)
	assert.EqualValues(t, 1, decode(t, w)["count"])
}

func TestAlertRuleLifecycle(t *testing.T) {
	s := newTestServer(t)
	_, key := s.register(t, "acme")

	w := s.do(t, http.MethodPost, "/v1/alerts", key, map[string]interface{}{
		"name":        "spend",
		"metric":      "daily_cost",
		"operator":    "≥",
		"threshold":   5,
		"webhook_url": "https://hooks.example.com/agentpulse",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rule := decode(t, w)
	id := rule["id"].(string)
	assert.Equal(t, ">=", rule["operator"])
	assert.Equal(t, "webhook", rule["channel"])

	w = s.do(t, http.MethodPatch, "/v1/alerts/"+id, key, map[string]interface{}{"threshold": 10, "enabled": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode(t, w)
	assert.EqualValues(t, 10, updated["threshold"])
	assert.Equal(t, false, updated["enabled"])

	w = s.do(t, http.MethodPatch, "/v1/alerts/"+id, key, map[string]interface{}{"webhook_url": "http://169.254.169.254/latest"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/v1/alerts", key, nil)
	assert.Len(t, decode(t, w)["alerts"], 1)

	w = s.do(t, http.MethodGet, "/v1/alerts/history", key, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/alerts/"+id, key, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodDelete, "/v1/alerts/"+id, key, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAlertRulesAreTenantScoped(t *testing.T) {
	s := newTestServer(t)
	_, owner := s.register(t, "owner")
	_, other := s.register(t, "other")

	w := s.do(t, http.MethodPost, "/v1/alerts", owner, map[string]interface{}{
		"name": "fails", "metric": "cron_fail_count", "operator": ">", "threshold": 3, "channel": "email",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["id"].(string)

	w = s.do(t, http.MethodPatch, "/v1/alerts/"+id, other, map[string]interface{}{"threshold": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodDelete, "/v1/alerts/"+id, other, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/v1/alerts", other, nil)
	assert.Len(t, decode(t, w)["alerts"], 0)
}

func TestTenantCannotReadAnotherTenantsData(t *testing.T) {
	s := newTestServer(t)
	_, owner := s.register(t, "owner")
	_, other := s.register(t, "other")
	now := float64(s.clock.Now().Unix())

	w := s.do(t, http.MethodPost, "/v1/alerts", owner, map[string]interface{}{
		"name": "busy", "metric": "daily_events", "operator": ">", "threshold": 0, "channel": "email",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/v1/ingest", owner, map[string]interface{}{
		"events": []map[string]interface{}{
			{"kind": "cost", "ts": now - 10, "session": "s1", "data": map[string]interface{}{"cost": 1.5, "tokens": 300}},
			{"kind": "cron", "ts": now - 5, "data": map[string]interface{}{"job": "sync", "status": "fail"}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	notifier := &countingNotifier{}
	evaluator := alerts.NewEvaluator(s.store, notifier, s.clock, s.Metrics, zap.NewNop())
	require.Len(t, s.jobs.jobs, 1)
	fired, err := evaluator.Evaluate(context.Background(), s.jobs.jobs[0])
	require.NoError(t, err)
	require.Equal(t, 1, fired)

	w = s.do(t, http.MethodGet, "/v1/alerts/history", owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"], "the owner sees its own firing")

	w = s.do(t, http.MethodGet, "/v1/events", other, nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode(t, w)
	assert.EqualValues(t, 0, events["count"])
	assert.Len(t, events["events"], 0)

	w = s.do(t, http.MethodGet, "/v1/events?kind=alert_fired", other, nil)
	assert.EqualValues(t, 0, decode(t, w)["count"])

	w = s.do(t, http.MethodGet, "/v1/stats?period=7d", other, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)
	assert.EqualValues(t, 0, stats["total_events"])
	assert.Len(t, stats["events"], 0)
	cost := stats["cost"].(map[string]interface{})
	assert.EqualValues(t, 0, cost["usd"])
	assert.EqualValues(t, 0, cost["tokens"])
	assert.Len(t, stats["cron_health"], 0)

	w = s.do(t, http.MethodGet, "/v1/sessions", other, nil)
	assert.Len(t, decode(t, w)["sessions"], 0)

	w = s.do(t, http.MethodGet, "/v1/crons", other, nil)
	assert.Len(t, decode(t, w)["crons"], 0)

	w = s.do(t, http.MethodGet, "/v1/alerts/history", other, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode(t, w)
	assert.EqualValues(t, 0, history["count"])
	assert.Len(t, history["history"], 0)

	w = s.do(t, http.MethodGet, "/v1/alerts", other, nil)
	assert.Len(t, decode(t, w)["alerts"], 0)
}

func TestAlertRuleLimit(t *testing.T) {
	s := newTestServer(t)
	_, key := s.register(t, "acme")

	body := map[string]interface{}{"name": "r", "metric": "daily_events", "operator": ">", "threshold": 1, "channel": "email"}
	for i := 0; i < core.PlanFree.Limits().MaxAlertRules; i++ {
		w := s.do(t, http.MethodPost, "/v1/alerts", key, body)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w := s.do(t, http.MethodPost, "/v1/alerts", key, body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestStatsRejectsBadPeriod(t *testing.T) {
	s := newTestServer(t)
	_, key := s.register(t, "acme")

	for _, period := range []string{"1w", "0h", "91d", "abc"} {
		w := s.do(t, http.MethodGet, "/v1/stats?period="+period, key, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, period)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	_, key := s.register(t, "acme")
	s.do(t, http.MethodPost, "/v1/heartbeat", key, nil)

	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "agentpulse_tenant_events_ingested_total")
	assert.Contains(t, w.Body.String(), "agentpulse_http_requests_total")
}
