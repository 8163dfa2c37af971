package handlers

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	maxStatsPeriod    = 90 * 24 * time.Hour
	sessionLimit      = 100
	cronRunLimit      = 50
)

var periodPattern = regexp.MustCompile(`^([0-9]{1,4})([hd])$`)

// ParsePeriod parses "Nh" or "Nd" into a duration of at most 90 days.
func ParsePeriod(s string) (time.Duration, error) {
	m := periodPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, core.Validation("period must look like 24h or 7d")
	}
	n, _ := strconv.Atoi(m[1])
	unit := time.Hour
	if m[2] == "d" {
		unit = 24 * time.Hour
	}
	d := time.Duration(n) * unit
	if d <= 0 || d > maxStatsPeriod {
		return 0, core.Validation("period must be between 1h and 90d")
	}
	return d, nil
}

func queryFloat(c *gin.Context, name string) (float64, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, core.Validation("%s must be a non-negative unix timestamp", name)
	}
	return v, nil
}

func queryInt(c *gin.Context, name string, def, max int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, core.Validation("%s must be a non-negative integer", name)
	}
	if max > 0 && v > max {
		v = max
	}
	return v, nil
}

func (h *Handler) ListEvents(c *gin.Context) {
	f := db.EventFilter{
		TenantID: c.GetString("tenant_id"),
		Kind:     c.Query("kind"),
		Session:  c.Query("session"),
	}

	var err error
	if f.Since, err = queryFloat(c, "since"); err != nil {
		h.respondError(c, err)
		return
	}
	if f.Until, err = queryFloat(c, "until"); err != nil {
		h.respondError(c, err)
		return
	}
	if f.Limit, err = queryInt(c, "limit", defaultEventLimit, maxEventLimit); err != nil {
		h.respondError(c, err)
		return
	}
	if f.Offset, err = queryInt(c, "offset", 0, 0); err != nil {
		h.respondError(c, err)
		return
	}
	if f.Limit == 0 {
		f.Limit = defaultEventLimit
	}

	events, err := h.store.ListEvents(c.Request.Context(), f)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if events == nil {
		events = []*db.Event{}
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// Stats summarizes a tenant's activity over the requested period. Cost is
// read from the daily rollups, so it covers whole UTC days.
func (h *Handler) Stats(c *gin.Context) {
	period := c.DefaultQuery("period", "24h")
	d, err := ParsePeriod(period)
	if err != nil {
		h.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	tenantID := c.GetString("tenant_id")
	since := h.clock.Now().Add(-d)
	sinceTS := float64(since.Unix())

	kinds, err := h.store.CountEventsByKind(ctx, tenantID, sinceTS)
	if err != nil {
		h.respondError(c, err)
		return
	}
	byKind := make(map[string]int, len(kinds))
	total := 0
	for _, k := range kinds {
		byKind[k.Kind] = k.Count
		total += k.Count
	}

	days, err := h.store.ListDailyCosts(ctx, tenantID, db.DateKey(since))
	if err != nil {
		h.respondError(c, err)
		return
	}
	var usd float64
	var tokens int64
	for _, day := range days {
		usd += day.TotalCost
		tokens += day.TotalTokens
	}

	crons, err := h.store.CronHealth(ctx, tenantID, sinceTS)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if crons == nil {
		crons = []db.CronHealth{}
	}

	c.JSON(http.StatusOK, gin.H{
		"period":       period,
		"total_events": total,
		"events":       byKind,
		"cost": gin.H{
			"usd":    usd,
			"tokens": tokens,
		},
		"cron_health": crons,
	})
}

func (h *Handler) ListSessions(c *gin.Context) {
	since, err := queryFloat(c, "since")
	if err != nil {
		h.respondError(c, err)
		return
	}
	if since == 0 {
		since = float64(h.clock.Now().Add(-24 * time.Hour).Unix())
	}

	sessions, err := h.store.ListSessions(c.Request.Context(), c.GetString("tenant_id"), since, sessionLimit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if sessions == nil {
		sessions = []db.SessionSummary{}
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) ListCrons(c *gin.Context) {
	runs, err := h.store.ListCronRuns(c.Request.Context(), c.GetString("tenant_id"), cronRunLimit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if runs == nil {
		runs = []db.CronRun{}
	}

	c.JSON(http.StatusOK, gin.H{"crons": runs})
}
