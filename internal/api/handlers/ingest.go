package handlers

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leozw/agentpulse/internal/api/middleware"
	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/ingest"
)

func (h *Handler) Ingest(c *gin.Context) {
	var batch ingest.Batch
	if err := bindJSON(c, &batch); err != nil {
		h.respondError(c, err)
		return
	}

	n, err := h.gateway.Ingest(c.Request.Context(), middleware.Tenant(c), batch.Events)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"accepted": n})
}

// Heartbeat stores a liveness event. The body is optional.
func (h *Handler) Heartbeat(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(c, core.TooLarge("Request body too large"))
			return
		}
		h.respondError(c, core.Validation("Invalid request body"))
		return
	}

	n, err := h.gateway.Heartbeat(c.Request.Context(), middleware.Tenant(c), bytes.TrimSpace(raw))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "accepted": n})
}
