package metrics

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/golang/snappy"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
)

const tenantLabel = "tenant_id"

// StartRemoteWrite pushes tenant-labeled series to the configured remote
// write endpoint every flush interval until ctx is done.
func (c *Collector) StartRemoteWrite(ctx context.Context, logger *zap.Logger) {
	if c.config.RemoteWriteURL == "" {
		return
	}

	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				logger.Warn("Remote write failed", zap.Error(err))
			}
		}
	}
}

// Flush gathers the registry once and sends one request per tenant batch.
func (c *Collector) Flush(ctx context.Context) error {
	mfs, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	byTenant := groupByTenant(mfs, time.Now().UnixMilli())

	batchSize := c.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	for tenantID, series := range byTenant {
		for i := 0; i < len(series); i += batchSize {
			end := i + batchSize
			if end > len(series) {
				end = len(series)
			}
			if err := c.send(ctx, tenantID, series[i:end]); err != nil {
				return fmt.Errorf("failed to send batch for tenant %s: %w", tenantID, err)
			}
		}
	}
	return nil
}

// groupByTenant converts gathered families into remote write series keyed by
// their tenant_id label. Series without the label stay local.
func groupByTenant(mfs []*dto.MetricFamily, ts int64) map[string][]prompb.TimeSeries {
	out := make(map[string][]prompb.TimeSeries)

	for _, mf := range mfs {
		name := mf.GetName()
		for _, m := range mf.Metric {
			var tenantID string
			labels := make([]prompb.Label, 0, len(m.Label)+2)
			for _, l := range m.Label {
				if l.GetName() == tenantLabel {
					tenantID = l.GetValue()
				}
				labels = append(labels, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
			}
			if tenantID == "" {
				continue
			}

			add := func(metric string, value float64, extra ...prompb.Label) {
				ls := make([]prompb.Label, 0, len(labels)+1+len(extra))
				ls = append(ls, prompb.Label{Name: "__name__", Value: metric})
				ls = append(ls, labels...)
				ls = append(ls, extra...)
				out[tenantID] = append(out[tenantID], prompb.TimeSeries{
					Labels:  ls,
					Samples: []prompb.Sample{{Value: value, Timestamp: ts}},
				})
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				add(name, m.Counter.GetValue())
			case dto.MetricType_GAUGE:
				add(name, m.Gauge.GetValue())
			case dto.MetricType_HISTOGRAM:
				h := m.Histogram
				for _, b := range h.Bucket {
					add(name+"_bucket", float64(b.GetCumulativeCount()), prompb.Label{Name: "le", Value: formatBound(b.GetUpperBound())})
				}
				add(name+"_bucket", float64(h.GetSampleCount()), prompb.Label{Name: "le", Value: "+Inf"})
				add(name+"_sum", h.GetSampleSum())
				add(name+"_count", float64(h.GetSampleCount()))
			}
		}
	}
	return out
}

func formatBound(v float64) string {
	if math.IsInf(v, 1) {
		return "+Inf"
	}
	return strings.TrimSuffix(fmt.Sprintf("%g", v), ".0")
}

func (c *Collector) send(ctx context.Context, tenantID string, series []prompb.TimeSeries) error {
	req := &prompb.WriteRequest{Timeseries: series}
	data, err := req.Marshal()
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(c.config.RemoteWriteURL, "/")+"/api/v1/push", bytes.NewReader(snappy.Encode(nil, data)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	httpReq.Header.Set(c.config.TenantHeader, tenantID)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("remote write failed: %s", resp.Status)
	}
	return nil
}
