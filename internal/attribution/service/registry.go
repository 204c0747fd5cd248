// Package service implements attribution: the model registry, the weight
// calculator, and multi-model comparison.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"estatecrm_backend/internal/attribution/domain"
	"estatecrm_backend/internal/attribution/repository"
	"estatecrm_backend/internal/events"
	"estatecrm_backend/platform/apperr"
	"estatecrm_backend/platform/logger"
)

// Registry holds the attribution models. It is explicitly constructed and
// injected (no package-level singleton) so tests and callers can run with
// isolated model sets. Backed by an optional repository for persistence.
type Registry struct {
	mu     sync.RWMutex
	models map[string]domain.Model

	repo repository.Repository
	bus  events.Bus
	log  *logger.Logger
}

// NewRegistry creates a registry seeded with the six standard models and
// hydrated with any models persisted by a previous run. Stored versions of
// the standard models take precedence over the seeds.
func NewRegistry(ctx context.Context, repo repository.Repository, bus events.Bus, log *logger.Logger) (*Registry, error) {
	r := &Registry{
		models: make(map[string]domain.Model),
		repo:   repo,
		bus:    bus,
		log:    log,
	}

	now := time.Now().UTC()
	for _, m := range defaultModels(now) {
		r.models[m.ID] = m
	}

	if repo != nil {
		stored, err := repo.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range stored {
			r.models[m.ID] = m
		}
	}
	return r, nil
}

// defaultModels seeds one model per strategy, with the standard decay
// factor and first/last touch weights for time_decay and position_based.
func defaultModels(now time.Time) []domain.Model {
	build := func(id, name string, t domain.ModelType, cfg domain.ModelConfig) domain.Model {
		return domain.Model{ID: id, Name: name, Type: t, Config: cfg, Active: true, CreatedAt: now, UpdatedAt: now}
	}
	return []domain.Model{
		build("first_touch", "First Touch", domain.ModelFirstTouch, domain.ModelConfig{}),
		build("last_touch", "Last Touch", domain.ModelLastTouch, domain.ModelConfig{}),
		build("linear", "Linear", domain.ModelLinear, domain.ModelConfig{}),
		build("time_decay", "Time Decay", domain.ModelTimeDecay, domain.ModelConfig{DecayFactor: domain.DefaultDecayFactor}),
		build("position_based", "Position Based", domain.ModelPositionBased, domain.ModelConfig{
			FirstTouchWeight: domain.DefaultFirstTouchWeight,
			LastTouchWeight:  domain.DefaultLastTouchWeight,
		}),
		build("custom", "Custom Weights", domain.ModelCustom, domain.ModelConfig{
			CustomWeights: map[string]float64{
				domain.InteractionResponded: 3,
				domain.InteractionClicked:   2,
				domain.InteractionOpened:    1.5,
				domain.InteractionSent:      1,
			},
		}),
	}
}

// Get returns a model by id; unknown ids fail with ModelNotFound.
func (r *Registry) Get(id string) (domain.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	model, ok := r.models[id]
	if !ok {
		return domain.Model{}, apperr.ModelNotFound(id)
	}
	return model, nil
}

// List returns every registered model, ordered by id.
func (r *Registry) List() []domain.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListActive returns the models that take part in comparisons.
func (r *Registry) ListActive() []domain.Model {
	var out []domain.Model
	for _, m := range r.List() {
		if m.Active {
			out = append(out, m)
		}
	}
	return out
}

// Register stores a new model. The id must be unused and the type known.
func (r *Registry) Register(ctx context.Context, model domain.Model) (domain.Model, error) {
	if model.ID == "" {
		return domain.Model{}, apperr.InvalidInput("model id is required")
	}
	if !domain.KnownModelType(model.Type) {
		return domain.Model{}, apperr.InvalidInput("unknown model type: " + string(model.Type))
	}

	r.mu.Lock()
	if _, exists := r.models[model.ID]; exists {
		r.mu.Unlock()
		return domain.Model{}, apperr.Conflict("attribution model already registered: " + model.ID)
	}
	now := time.Now().UTC()
	model.CreatedAt = now
	model.UpdatedAt = now
	model.Active = true
	r.models[model.ID] = model
	r.mu.Unlock()

	return r.persist(ctx, model)
}

// Update replaces a model's name, config, and active flag.
func (r *Registry) Update(ctx context.Context, model domain.Model) (domain.Model, error) {
	if !domain.KnownModelType(model.Type) {
		return domain.Model{}, apperr.InvalidInput("unknown model type: " + string(model.Type))
	}

	r.mu.Lock()
	existing, ok := r.models[model.ID]
	if !ok {
		r.mu.Unlock()
		return domain.Model{}, apperr.ModelNotFound(model.ID)
	}
	model.CreatedAt = existing.CreatedAt
	model.UpdatedAt = time.Now().UTC()
	r.models[model.ID] = model
	r.mu.Unlock()

	return r.persist(ctx, model)
}

// Remove deletes a model from the registry and the store.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	if _, ok := r.models[id]; !ok {
		r.mu.Unlock()
		return apperr.ModelNotFound(id)
	}
	delete(r.models, id)
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.Delete(ctx, id); err != nil {
			return apperr.Wrap(apperr.KindInternal, "failed to delete attribution model", err)
		}
	}
	r.notify(ctx, id)
	return nil
}

func (r *Registry) persist(ctx context.Context, model domain.Model) (domain.Model, error) {
	if r.repo != nil {
		stored, err := r.repo.Upsert(ctx, model)
		if err != nil {
			return domain.Model{}, apperr.Wrap(apperr.KindInternal, "failed to persist attribution model", err)
		}
		r.mu.Lock()
		r.models[stored.ID] = stored
		r.mu.Unlock()
		model = stored
	}
	r.notify(ctx, model.ID)
	return model, nil
}

// notify publishes the model change synchronously so subscribers (cached
// attribution results in particular) are settled before the call returns.
func (r *Registry) notify(ctx context.Context, modelID string) {
	if r.bus == nil {
		return
	}
	err := r.bus.PublishSync(ctx, events.AttributionModelUpdated{
		BaseEvent: events.NewBaseEvent(),
		ModelID:   modelID,
	})
	if err != nil && r.log != nil {
		r.log.Warn("attribution model update handlers failed", "modelId", modelID, "error", err)
	}
}
