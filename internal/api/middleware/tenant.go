package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/leozw/agentpulse/internal/db"
)

const (
	tenantIDKey = "tenant_id"
	tenantKey   = "tenant"
)

func setTenant(c *gin.Context, tenant *db.Tenant) {
	c.Set(tenantKey, tenant)
	c.Set(tenantIDKey, tenant.ID)
}

// Tenant returns the authenticated tenant. It is only valid behind APIKey.
func Tenant(c *gin.Context) *db.Tenant {
	v, ok := c.Get(tenantKey)
	if !ok {
		return nil
	}
	tenant, _ := v.(*db.Tenant)
	return tenant
}
