package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/alerts"
	"github.com/leozw/agentpulse/internal/api/middleware"
	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type CreateAlertRequest struct {
	Name       string   `json:"name"`
	Metric     string   `json:"metric"`
	Operator   string   `json:"operator"`
	Threshold  *float64 `json:"threshold"`
	Channel    string   `json:"channel"`
	WebhookURL *string  `json:"webhook_url"`
	Enabled    *bool    `json:"enabled"`
}

// UpdateAlertRequest carries a partial update; nil fields are left unchanged.
type UpdateAlertRequest struct {
	Name       *string  `json:"name"`
	Metric     *string  `json:"metric"`
	Operator   *string  `json:"operator"`
	Threshold  *float64 `json:"threshold"`
	Channel    *string  `json:"channel"`
	WebhookURL *string  `json:"webhook_url"`
	Enabled    *bool    `json:"enabled"`
}

func (h *Handler) ListAlerts(c *gin.Context) {
	rules, err := h.store.ListAlertRules(c.Request.Context(), c.GetString("tenant_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if rules == nil {
		rules = []*db.AlertRule{}
	}

	c.JSON(http.StatusOK, gin.H{"alerts": rules})
}

func (h *Handler) CreateAlert(c *gin.Context) {
	var req CreateAlertRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}
	if req.Threshold == nil {
		h.respondError(c, core.Validation("threshold is required"))
		return
	}

	ctx := c.Request.Context()
	tenant := middleware.Tenant(c)

	if err := h.quota.CheckRules(ctx, tenant); err != nil {
		h.respondError(c, err)
		return
	}

	now := h.clock.Now().UTC()
	rule := &db.AlertRule{
		ID:         uuid.New().String(),
		TenantID:   tenant.ID,
		Name:       req.Name,
		Metric:     req.Metric,
		Operator:   req.Operator,
		Threshold:  *req.Threshold,
		Channel:    req.Channel,
		WebhookURL: req.WebhookURL,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if rule.Channel == "" {
		rule.Channel = alerts.ChannelWebhook
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := h.rules.Validate(ctx, rule); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.store.CreateAlertRule(ctx, rule); err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Alert rule created",
		zap.String("rule_id", rule.ID),
		zap.String("tenant_id", tenant.ID),
		zap.String("metric", rule.Metric),
	)

	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) UpdateAlert(c *gin.Context) {
	var req UpdateAlertRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	tenantID := c.GetString("tenant_id")

	rule, err := h.store.GetAlertRule(ctx, c.Param("id"), tenantID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Metric != nil {
		rule.Metric = *req.Metric
	}
	if req.Operator != nil {
		rule.Operator = *req.Operator
	}
	if req.Threshold != nil {
		rule.Threshold = *req.Threshold
	}
	if req.Channel != nil {
		rule.Channel = *req.Channel
	}
	if req.WebhookURL != nil {
		rule.WebhookURL = req.WebhookURL
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := h.rules.Validate(ctx, rule); err != nil {
		h.respondError(c, err)
		return
	}
	rule.UpdatedAt = h.clock.Now().UTC()

	if err := h.store.UpdateAlertRule(ctx, rule); err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Alert rule updated",
		zap.String("rule_id", rule.ID),
		zap.String("tenant_id", tenantID),
	)

	c.JSON(http.StatusOK, rule)
}

func (h *Handler) DeleteAlert(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	ruleID := c.Param("id")

	if err := h.store.DeleteAlertRule(c.Request.Context(), ruleID, tenantID); err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Alert rule deleted",
		zap.String("rule_id", ruleID),
		zap.String("tenant_id", tenantID),
	)

	c.Status(http.StatusNoContent)
}

// AlertHistory lists the tenant's alert_fired events, newest first.
func (h *Handler) AlertHistory(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	firings, err := h.store.ListFirings(c.Request.Context(), c.GetString("tenant_id"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if firings == nil {
		firings = []*db.Event{}
	}

	c.JSON(http.StatusOK, gin.H{"history": firings, "count": len(firings)})
}
