package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type RegisterRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Register creates a tenant on the free plan. The API key is shown once.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := bindJSON(c, &req); err != nil {
		h.respondError(c, err)
		return
	}

	reg, err := h.registry.Register(c.Request.Context(), req.Name, req.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":      reg.Tenant.ID,
		"name":    reg.Tenant.Name,
		"plan":    reg.Tenant.Plan,
		"api_key": reg.APIKey,
	})
}
