package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/core"
	"github.com/leozw/agentpulse/internal/db"
)

// Authenticator resolves a bearer credential to a tenant.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*db.Tenant, error)
}

// APIKey requires "Authorization: Bearer ap_..." and stores the tenant in
// the request context.
func APIKey(auth Authenticator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		key := strings.TrimPrefix(authHeader, "Bearer ")
		if key == authHeader || !strings.HasPrefix(key, "ap_") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Bearer API key required"})
			return
		}

		tenant, err := auth.Authenticate(c.Request.Context(), strings.TrimSpace(key))
		if err != nil {
			kind := core.KindOf(err)
			if kind == core.KindInternal {
				logger.Error("Failed to authenticate API key", zap.Error(err))
			}
			c.AbortWithStatusJSON(kind.HTTPStatus(), gin.H{"error": core.PublicMessage(err)})
			return
		}

		setTenant(c, tenant)
		c.Next()
	}
}

func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
