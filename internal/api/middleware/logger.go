package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/metrics"
)

// Logger logs every request and records its latency. Query strings are not
// logged; they may carry session keys.
func Logger(logger *zap.Logger, collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		collector.RecordHTTPRequest(c.Request.Method, route, statusCode, latency)

		fields := []zap.Field{
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("tenant_id", c.GetString(tenantIDKey)),
		}
		switch {
		case statusCode >= 500:
			logger.Error("HTTP Request", fields...)
		case route == "/v1/health" || route == "/metrics":
			logger.Debug("HTTP Request", fields...)
		default:
			logger.Info("HTTP Request", fields...)
		}
	}
}
