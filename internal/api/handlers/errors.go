package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/core"
)

// respondError writes err as {"error": ...} with the status of its kind.
// Internal errors are logged and replaced by a generic message.
func (h *Handler) respondError(c *gin.Context, err error) {
	kind := core.KindOf(err)
	if kind == core.KindInternal {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("tenant_id", c.GetString("tenant_id")),
			zap.Error(err),
		)
	}
	c.JSON(kind.HTTPStatus(), gin.H{"error": core.PublicMessage(err)})
}

// bindJSON decodes the body into obj and classifies decode failures.
func bindJSON(c *gin.Context, obj interface{}) error {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return core.TooLarge("Request body too large")
	}
	if errors.Is(err, io.EOF) {
		return core.Validation("Request body required")
	}
	return core.Validation("Invalid request body: %s", err.Error())
}
