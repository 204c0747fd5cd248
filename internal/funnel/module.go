// Package funnel provides the conversion funnel bounded context module:
// the append-only event log, the stage state machine, and funnel metrics.
package funnel

import (
	"estatecrm_backend/internal/events"
	"estatecrm_backend/internal/funnel/handler"
	"estatecrm_backend/internal/funnel/repository"
	"estatecrm_backend/internal/funnel/service"
	apphttp "estatecrm_backend/internal/http"
	"estatecrm_backend/platform/cache"
	"estatecrm_backend/platform/config"
	"estatecrm_backend/platform/logger"
	"estatecrm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the funnel bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	metrics *service.Metrics
}

// NewModule creates and wires the funnel module.
func NewModule(pool *pgxpool.Pool, store cache.Store, eventBus events.Bus, val *validator.Validator, cfg config.FunnelConfig, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, store, eventBus, cfg, log)
	metrics := service.NewMetrics(repo, store, log)

	return &Module{
		handler: handler.New(svc, metrics, val),
		service: svc,
		metrics: metrics,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "funnel" }

// RegisterRoutes mounts the funnel routes on /api/v1.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	leads := ctx.V1.Group("/leads")
	funnel := ctx.V1.Group("/funnel")
	m.handler.RegisterRoutes(leads, funnel)
}

// Service exposes the funnel service for other modules (scoring reads the
// current stage for conversion-probability blending).
func (m *Module) Service() *service.Service { return m.service }
