package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"estatecrm_backend/internal/attribution/domain"
	"estatecrm_backend/platform/apperr"
	"estatecrm_backend/platform/logger"
)

type fakeModelRepo struct {
	mu     sync.Mutex
	models map[string]domain.Model
}

func newFakeModelRepo() *fakeModelRepo {
	return &fakeModelRepo{models: make(map[string]domain.Model)}
}

func (r *fakeModelRepo) Upsert(_ context.Context, model domain.Model) (domain.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.models[model.ID]; ok {
		model.CreatedAt = existing.CreatedAt
	} else if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	model.UpdatedAt = time.Now().UTC()
	r.models[model.ID] = model
	return model, nil
}

func (r *fakeModelRepo) GetByID(_ context.Context, id string) (domain.Model, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.models[id]
	return m, ok, nil
}

func (r *fakeModelRepo) List(_ context.Context) ([]domain.Model, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out, nil
}

func (r *fakeModelRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.models, id)
	return nil
}

func TestRegistrySeedsSixStandardModels(t *testing.T) {
	registry, err := NewRegistry(context.Background(), nil, nil, logger.New("test"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	models := registry.List()
	if len(models) != 6 {
		t.Fatalf("got %d seeded models, want 6", len(models))
	}

	timeDecay, err := registry.Get("time_decay")
	if err != nil {
		t.Fatalf("Get(time_decay): %v", err)
	}
	if timeDecay.Config.DecayFactor != domain.DefaultDecayFactor {
		t.Errorf("time_decay decay factor = %f, want %f", timeDecay.Config.DecayFactor, domain.DefaultDecayFactor)
	}

	positionBased, err := registry.Get("position_based")
	if err != nil {
		t.Fatalf("Get(position_based): %v", err)
	}
	if positionBased.Config.FirstTouchWeight != 0.4 || positionBased.Config.LastTouchWeight != 0.4 {
		t.Errorf("position_based split = %f/%f, want 0.4/0.4",
			positionBased.Config.FirstTouchWeight, positionBased.Config.LastTouchWeight)
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	registry, _ := NewRegistry(context.Background(), nil, nil, logger.New("test"))

	_, err := registry.Get("quantum_touch")
	if !apperr.IsCode(err, apperr.CodeModelNotFound) {
		t.Fatalf("err = %v, want code %s", err, apperr.CodeModelNotFound)
	}
}

func TestRegistryPersistsAndHydrates(t *testing.T) {
	repo := newFakeModelRepo()
	registry, err := NewRegistry(context.Background(), repo, nil, logger.New("test"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	custom := domain.Model{
		ID:     "steep_decay",
		Name:   "Steep Decay",
		Type:   domain.ModelTimeDecay,
		Config: domain.ModelConfig{DecayFactor: 0.3},
	}
	if _, err := registry.Register(context.Background(), custom); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// A second registry over the same store sees the registered model.
	restarted, err := NewRegistry(context.Background(), repo, nil, logger.New("test"))
	if err != nil {
		t.Fatalf("NewRegistry after restart: %v", err)
	}
	hydrated, err := restarted.Get("steep_decay")
	if err != nil {
		t.Fatalf("Get after hydrate: %v", err)
	}
	if hydrated.Config.DecayFactor != 0.3 {
		t.Errorf("hydrated decay factor = %f, want 0.3", hydrated.Config.DecayFactor)
	}
}

func TestRegistryUpdateAndRemove(t *testing.T) {
	repo := newFakeModelRepo()
	registry, _ := NewRegistry(context.Background(), repo, nil, logger.New("test"))

	model, err := registry.Get("time_decay")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	model.Config.DecayFactor = 0.9
	if _, err := registry.Update(context.Background(), model); err != nil {
		t.Fatalf("Update: %v", err)
	}
	updated, _ := registry.Get("time_decay")
	if updated.Config.DecayFactor != 0.9 {
		t.Errorf("decay factor = %f, want 0.9", updated.Config.DecayFactor)
	}

	if err := registry.Remove(context.Background(), "custom"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := registry.Get("custom"); !apperr.IsCode(err, apperr.CodeModelNotFound) {
		t.Errorf("removed model still resolvable: %v", err)
	}
	if err := registry.Remove(context.Background(), "custom"); !apperr.IsCode(err, apperr.CodeModelNotFound) {
		t.Errorf("double remove: err = %v, want model_not_found", err)
	}
}

func TestRegistryRejectsDuplicateAndUnknownType(t *testing.T) {
	registry, _ := NewRegistry(context.Background(), nil, nil, logger.New("test"))

	dup := domain.Model{ID: "linear", Name: "Linear Again", Type: domain.ModelLinear}
	if _, err := registry.Register(context.Background(), dup); !apperr.Is(err, apperr.KindConflict) {
		t.Errorf("duplicate register: err = %v, want conflict", err)
	}

	bad := domain.Model{ID: "mystery", Name: "Mystery", Type: "astrology"}
	if _, err := registry.Register(context.Background(), bad); !apperr.IsCode(err, apperr.CodeInvalidInput) {
		t.Errorf("unknown type: err = %v, want invalid_input", err)
	}
}

// Two registries never share state: the singleton redesign holds.
func TestRegistriesAreIsolated(t *testing.T) {
	a, _ := NewRegistry(context.Background(), nil, nil, logger.New("test"))
	b, _ := NewRegistry(context.Background(), nil, nil, logger.New("test"))

	extra := domain.Model{ID: "only_in_a", Name: "Only In A", Type: domain.ModelLinear}
	if _, err := a.Register(context.Background(), extra); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := b.Get("only_in_a"); !apperr.IsCode(err, apperr.CodeModelNotFound) {
		t.Errorf("registry b sees a's model: %v", err)
	}
}
