package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leozw/agentpulse/internal/config"
)

// Collector owns a private registry so every process (and every test) gets
// its own set of series.
type Collector struct {
	config   config.MetricsConfig
	registry *prometheus.Registry
	client   *http.Client

	// Tenant series, forwarded to Mimir under the tenant's org id
	eventsIngested *prometheus.CounterVec
	costIngested   *prometheus.CounterVec
	alertsFired    *prometheus.CounterVec

	// Pipeline
	ingestBatches       *prometheus.CounterVec
	alertJobs           *prometheus.CounterVec
	alertJobDuration    prometheus.Histogram
	notifications       *prometheus.CounterVec
	notificationLatency *prometheus.HistogramVec
	retentionDeleted    *prometheus.CounterVec
	queueDepth          *prometheus.GaugeVec

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func NewCollector(cfg config.MetricsConfig) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		config:   cfg,
		registry: reg,
		client:   &http.Client{Timeout: 30 * time.Second},

		eventsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpulse_tenant_events_ingested_total",
				Help: "Events accepted for a tenant",
			},
			[]string{"tenant_id"},
		),

		costIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpulse_tenant_cost_usd_total",
				Help: "Cost reported by a tenant's cost events, in USD",
			},
			[]string{"tenant_id"},
		),

		alertsFired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpulse_tenant_alerts_fired_total",
				Help: "Alert rules that fired for a tenant",
			},
			[]string{"tenant_id", "metric", "channel"},
		),

		ingestBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpulse_ingest_batches_total",
				Help: "Ingest batches by outcome",
			},
			[]string{"result"},
		),

		alertJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpulse_alert_jobs_total",
				Help: "Alert evaluation jobs by outcome",
			},
			[]string{"result"},
		),

		alertJobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentpulse_alert_job_duration_seconds",
				Help:    "Time spent evaluating the rules of one batch",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),

		notifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpulse_notifications_total",
				Help: "Notification deliveries by channel and status",
			},
			[]string{"channel", "status"},
		),

		notificationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpulse_notification_latency_seconds",
				Help:    "Notification delivery latency",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"channel"},
		),

		retentionDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpulse_retention_deleted_total",
				Help: "Rows removed by the retention reaper",
			},
			[]string{"table", "plan"},
		),

		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentpulse_alert_queue_depth",
				Help: "Alert jobs waiting to be evaluated",
			},
			[]string{"queue"},
		),

		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentpulse_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),

		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentpulse_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Handler serves the collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordIngest records an accepted batch.
func (c *Collector) RecordIngest(tenantID string, events int, cost float64) {
	c.ingestBatches.WithLabelValues("accepted").Inc()
	c.eventsIngested.WithLabelValues(tenantID).Add(float64(events))
	if cost > 0 {
		c.costIngested.WithLabelValues(tenantID).Add(cost)
	}
}

// RecordRejectedBatch records a batch refused for reason (invalid, too_large, quota, error).
func (c *Collector) RecordRejectedBatch(reason string) {
	c.ingestBatches.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordAlertFired(tenantID, metric, channel string) {
	c.alertsFired.WithLabelValues(tenantID, metric, channel).Inc()
}

// RecordAlertJob records one finished, failed or dropped evaluation job.
func (c *Collector) RecordAlertJob(result string, elapsed time.Duration) {
	c.alertJobs.WithLabelValues(result).Inc()
	if elapsed > 0 {
		c.alertJobDuration.Observe(elapsed.Seconds())
	}
}

func (c *Collector) RecordNotification(channel string, success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "failed"
	}
	c.notifications.WithLabelValues(channel, status).Inc()
	c.notificationLatency.WithLabelValues(channel).Observe(latency.Seconds())
}

func (c *Collector) RecordRetention(table, plan string, deleted int64) {
	c.retentionDeleted.WithLabelValues(table, plan).Add(float64(deleted))
}

func (c *Collector) SetQueueDepth(queue string, depth int) {
	c.queueDepth.WithLabelValues(queue).Set(float64(depth))
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
