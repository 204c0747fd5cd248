// Package scoring provides the lead scoring bounded context module.
package scoring

import (
	"estatecrm_backend/internal/events"
	apphttp "estatecrm_backend/internal/http"
	"estatecrm_backend/internal/scoring/handler"
	"estatecrm_backend/internal/scoring/repository"
	"estatecrm_backend/internal/scoring/service"
	"estatecrm_backend/platform/cache"
	"estatecrm_backend/platform/config"
	"estatecrm_backend/platform/logger"
	"estatecrm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the scoring bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates and wires the scoring module. The stage reader is the
// funnel service; it feeds conversion-aware scoring.
func NewModule(pool *pgxpool.Pool, store cache.Store, stages service.StageReader, eventBus events.Bus, val *validator.Validator, cfg config.ScoringConfig, log *logger.Logger) (*Module, error) {
	engine, err := service.NewEngine(cfg.GetScoreProfileTTL())
	if err != nil {
		return nil, err
	}
	repo := repository.New(pool)
	svc := service.NewService(engine, repo, store, stages, eventBus, log)

	return &Module{handler: handler.New(svc, val), service: svc}, nil
}

// Service exposes the scoring service for cross-module wiring.
func (m *Module) Service() *service.Service { return m.service }

// Name returns the module identifier.
func (m *Module) Name() string { return "scoring" }

// RegisterRoutes mounts the scoring routes on /api/v1/leads.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.V1.Group("/leads"))
}
