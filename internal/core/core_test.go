package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanLimits(t *testing.T) {
	assert.Equal(t, Limits{MaxBatchSize: 100, DailyEventCap: 5000, RetentionDays: 7, MaxAlertRules: 10}, PlanFree.Limits())
	assert.Equal(t, Limits{MaxBatchSize: 500, DailyEventCap: 100000, RetentionDays: 90, MaxAlertRules: 100}, PlanPro.Limits())
	assert.Equal(t, PlanFree.Limits(), Plan("enterprise").Limits())

	_, err := ParsePlan("gold")
	assert.Error(t, err)
	p, err := ParsePlan("pro")
	assert.NoError(t, err)
	assert.Equal(t, PlanPro, p)
}

func TestErrorKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{Unauthorized("no"), http.StatusUnauthorized},
		{Forbidden("no"), http.StatusForbidden},
		{TooLarge("big"), http.StatusRequestEntityTooLarge},
		{QuotaExceeded("slow down"), http.StatusTooManyRequests},
		{NotFound("gone"), http.StatusNotFound},
		{Conflict("dup"), http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, KindOf(tc.err).HTTPStatus(), tc.err.Error())
	}

	wrapped := fmt.Errorf("get rule: %w", NotFound("alert rule not found"))
	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, "alert rule not found", PublicMessage(wrapped))

	internal := Internal(fmt.Errorf("connection refused"), "failed to insert events")
	assert.Equal(t, KindInternal, KindOf(internal))
	assert.Equal(t, "Internal server error", PublicMessage(internal))
	assert.Contains(t, internal.Error(), "connection refused")
}

func TestCostOf(t *testing.T) {
	cost, tokens := CostOf(map[string]interface{}{"cost": 0.1, "input_tokens": 100.0, "output_tokens": 50.0})
	assert.InDelta(t, 0.1, cost, 1e-9)
	assert.Equal(t, int64(150), tokens)

	cost, tokens = CostOf(map[string]interface{}{"cost": json.Number("0.25"), "tokens": 42.0, "input_tokens": 1000.0})
	assert.InDelta(t, 0.25, cost, 1e-9)
	assert.Equal(t, int64(42), tokens)

	cost, tokens = CostOf(map[string]interface{}{"cost": "lots"})
	assert.Zero(t, cost)
	assert.Zero(t, tokens)

	cost, tokens = CostOf(nil)
	assert.Zero(t, cost)
	assert.Zero(t, tokens)
}

func TestCronFailed(t *testing.T) {
	assert.True(t, CronFailed(map[string]interface{}{"status": "fail"}))
	assert.False(t, CronFailed(map[string]interface{}{"status": "success"}))
	assert.False(t, CronFailed(map[string]interface{}{"status": 1.0}))
	assert.False(t, CronFailed(nil))
}
