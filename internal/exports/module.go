// Package exports provides the analytics export bounded context module.
package exports

import (
	"estatecrm_backend/internal/exports/handler"
	"estatecrm_backend/internal/exports/repository"
	"estatecrm_backend/internal/exports/service"
	funnelrepo "estatecrm_backend/internal/funnel/repository"
	apphttp "estatecrm_backend/internal/http"
	"estatecrm_backend/platform/config"
	"estatecrm_backend/platform/logger"
	"estatecrm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the exports bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and wires the exports module.
func NewModule(pool *pgxpool.Pool, tasks service.Enqueuer, val *validator.Validator, cfg config.ExportsConfig, log *logger.Logger) *Module {
	svc := service.New(repository.New(pool), funnelrepo.New(pool), tasks, cfg.GetExportDir(), log)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "exports" }

// RegisterRoutes mounts the export routes on /api/v1/exports.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.V1.Group("/exports"))
}

// Service exposes the service for the worker binary.
func (m *Module) Service() *service.Service { return m.service }
