// Package attribution provides the multi-touch attribution bounded
// context module.
package attribution

import (
	"context"

	"estatecrm_backend/internal/attribution/handler"
	"estatecrm_backend/internal/attribution/repository"
	"estatecrm_backend/internal/attribution/service"
	"estatecrm_backend/internal/events"
	apphttp "estatecrm_backend/internal/http"
	"estatecrm_backend/platform/cache"
	"estatecrm_backend/platform/logger"
	"estatecrm_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the attribution bounded context module implementing http.Module.
type Module struct {
	handler  *handler.Handler
	registry *service.Registry
	calc     *service.Calculator
}

// NewModule creates and wires the attribution module. The registry
// hydrates persisted models on startup.
func NewModule(ctx context.Context, pool *pgxpool.Pool, store cache.Store, eventBus events.Bus, val *validator.Validator, log *logger.Logger) (*Module, error) {
	repo := repository.New(pool)
	registry, err := service.NewRegistry(ctx, repo, eventBus, log)
	if err != nil {
		return nil, err
	}
	calc := service.NewCalculator(registry, store, log)

	// Model changes drop cached attribution results immediately.
	service.SubscribeCacheInvalidation(eventBus, store)

	return &Module{
		handler:  handler.New(calc, registry, val),
		registry: registry,
		calc:     calc,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string { return "attribution" }

// RegisterRoutes mounts the attribution routes on /api/v1/attribution.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.V1.Group("/attribution"))
}
