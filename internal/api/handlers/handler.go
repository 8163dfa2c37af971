package handlers

import (
	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/leozw/agentpulse/internal/alerts"
	"github.com/leozw/agentpulse/internal/db"
	"github.com/leozw/agentpulse/internal/ingest"
	"github.com/leozw/agentpulse/internal/quota"
	"github.com/leozw/agentpulse/internal/tenants"
)

type Handler struct {
	store    db.Store
	registry *tenants.Registry
	gateway  *ingest.Gateway
	quota    *quota.Enforcer
	rules    *alerts.RuleValidator
	clock    quartz.Clock
	logger   *zap.Logger
	version  string
}

type Deps struct {
	Store    db.Store
	Registry *tenants.Registry
	Gateway  *ingest.Gateway
	Quota    *quota.Enforcer
	Rules    *alerts.RuleValidator
	Clock    quartz.Clock
	Logger   *zap.Logger
	Version  string
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		store:    d.Store,
		registry: d.Registry,
		gateway:  d.Gateway,
		quota:    d.Quota,
		rules:    d.Rules,
		clock:    d.Clock,
		logger:   d.Logger,
		version:  d.Version,
	}
}
