package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/prometheus/prompb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leozw/agentpulse/internal/config"
)

func TestHandlerExposesSeries(t *testing.T) {
	c := NewCollector(config.MetricsConfig{})
	c.RecordIngest("t1", 3, 0.25)
	c.RecordRejectedBatch("quota")
	c.RecordHTTPRequest(http.MethodPost, "/v1/ingest", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `agentpulse_tenant_events_ingested_total{tenant_id="t1"} 3`)
	assert.Contains(t, body, `agentpulse_tenant_cost_usd_total{tenant_id="t1"} 0.25`)
	assert.Contains(t, body, `agentpulse_ingest_batches_total{result="quota"} 1`)
	assert.Contains(t, body, `agentpulse_http_requests_total{method="POST",route="/v1/ingest",status="200"} 1`)
}

func TestCollectorsAreIsolated(t *testing.T) {
	a := NewCollector(config.MetricsConfig{})
	b := NewCollector(config.MetricsConfig{})
	a.RecordIngest("t1", 1, 0)

	mfs, err := b.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		assert.NotEqual(t, "agentpulse_tenant_events_ingested_total", mf.GetName())
	}
}

type pushed struct {
	tenant string
	req    prompb.WriteRequest
}

func TestFlushGroupsByTenant(t *testing.T) {
	var (
		mu  sync.Mutex
		got []pushed
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/push", r.URL.Path)
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))

		compressed, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, compressed)
		require.NoError(t, err)

		var req prompb.WriteRequest
		require.NoError(t, req.Unmarshal(raw))

		mu.Lock()
		got = append(got, pushed{tenant: r.Header.Get("X-Scope-OrgID"), req: req})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewCollector(config.MetricsConfig{RemoteWriteURL: srv.URL, TenantHeader: "X-Scope-OrgID", BatchSize: 100})
	c.RecordIngest("t1", 2, 0)
	c.RecordIngest("t2", 1, 0.5)
	c.RecordAlertFired("t2", "daily_cost", "webhook")
	c.RecordRejectedBatch("invalid")

	require.NoError(t, c.Flush(context.Background()))

	byTenant := map[string][]string{}
	for _, p := range got {
		for _, ts := range p.req.Timeseries {
			for _, l := range ts.Labels {
				if l.Name == "__name__" {
					byTenant[p.tenant] = append(byTenant[p.tenant], l.Value)
				}
			}
		}
	}

	require.Len(t, byTenant, 2, "untenanted series are not forwarded")
	assert.ElementsMatch(t, []string{"agentpulse_tenant_events_ingested_total"}, byTenant["t1"])
	assert.ElementsMatch(t, []string{
		"agentpulse_tenant_events_ingested_total",
		"agentpulse_tenant_cost_usd_total",
		"agentpulse_tenant_alerts_fired_total",
	}, byTenant["t2"])
}

func TestFlushReportsRemoteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewCollector(config.MetricsConfig{RemoteWriteURL: srv.URL, TenantHeader: "X-Scope-OrgID"})
	c.RecordIngest("t1", 1, 0)

	assert.Error(t, c.Flush(context.Background()))
}
