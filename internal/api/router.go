package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/api/handlers"
	"github.com/leozw/agentpulse/internal/api/middleware"
	"github.com/leozw/agentpulse/internal/config"
	"github.com/leozw/agentpulse/internal/metrics"
	"github.com/leozw/agentpulse/internal/ratelimit"
	"github.com/leozw/agentpulse/internal/tenants"
)

type Server struct {
	Config   *config.Config
	Router   *gin.Engine
	Handler  *handlers.Handler
	Registry *tenants.Registry
	Limiter  ratelimit.Limiter
	Metrics  *metrics.Collector
	Logger   *zap.Logger
}

func NewServer(cfg *config.Config, h *handlers.Handler, registry *tenants.Registry, limiter ratelimit.Limiter, collector *metrics.Collector, logger *zap.Logger) *Server {
	if cfg.Debug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger, collector))
	router.Use(middleware.CORS())

	server := &Server{
		Config:   cfg,
		Router:   router,
		Handler:  h,
		Registry: registry,
		Limiter:  limiter,
		Metrics:  collector,
		Logger:   logger,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))

	v1 := s.Router.Group("/v1")
	v1.GET("/health", s.Handler.Health)
	v1.GET("/ready", s.Handler.Ready)
	v1.POST("/register",
		middleware.RateLimit(s.Limiter, s.Logger),
		middleware.BodyLimit(s.Config.Server.MaxBodyBytes),
		s.Handler.Register,
	)

	// Tenant routes
	api := v1.Group("")
	api.Use(middleware.APIKey(s.Registry, s.Logger))
	api.Use(middleware.BodyLimit(s.Config.Server.MaxBodyBytes))
	{
		api.POST("/ingest", s.Handler.Ingest)
		api.POST("/heartbeat", s.Handler.Heartbeat)

		api.GET("/events", s.Handler.ListEvents)
		api.GET("/stats", s.Handler.Stats)
		api.GET("/sessions", s.Handler.ListSessions)
		api.GET("/crons", s.Handler.ListCrons)

		api.GET("/alerts", s.Handler.ListAlerts)
		api.POST("/alerts", s.Handler.CreateAlert)
		api.GET("/alerts/history", s.Handler.AlertHistory)
		api.PATCH("/alerts/:id", s.Handler.UpdateAlert)
		api.DELETE("/alerts/:id", s.Handler.DeleteAlert)
	}
}
