package core

import (
	"encoding/json"
	"math"
)

// Event kinds the pipeline interprets. Any other kind is stored verbatim.
const (
	KindCost       = "cost"
	KindCron       = "cron"
	KindHeartbeat  = "heartbeat"
	KindAlertFired = "alert_fired"
)

// Payload keys read by the aggregation updater and the cron metrics.
//
//	cost events:  "cost" (USD), "tokens" or "input_tokens" + "output_tokens"
//	cron events:  "status" ("fail" marks a failure), "job", "duration_ms"
//
// Missing or non-numeric numbers count as zero; a missing status is not a failure.
const (
	FieldCost         = "cost"
	FieldTokens       = "tokens"
	FieldInputTokens  = "input_tokens"
	FieldOutputTokens = "output_tokens"
	FieldStatus       = "status"
	FieldJob          = "job"
	FieldDurationMs   = "duration_ms"

	CronStatusFail = "fail"
)

// Number converts a decoded JSON value to float64. Non-numeric values yield 0.
func Number(v interface{}) float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		f, _ = n.Float64()
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// CostOf extracts the cost and token count of a cost event payload.
func CostOf(data map[string]interface{}) (cost float64, tokens int64) {
	if data == nil {
		return 0, 0
	}
	cost = Number(data[FieldCost])
	if v, ok := data[FieldTokens]; ok {
		return cost, int64(Number(v))
	}
	return cost, int64(Number(data[FieldInputTokens]) + Number(data[FieldOutputTokens]))
}

// CronFailed reports whether a cron payload records a failed run.
func CronFailed(data map[string]interface{}) bool {
	s, _ := data[FieldStatus].(string)
	return s == CronStatusFail
}
