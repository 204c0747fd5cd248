package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"estatecrm_backend/internal/events"
	funneldomain "estatecrm_backend/internal/funnel/domain"
	funnelrepo "estatecrm_backend/internal/funnel/repository"
	"estatecrm_backend/internal/scoring/domain"
	"estatecrm_backend/platform/apperr"
	"estatecrm_backend/platform/cache"
	"estatecrm_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	hooks []cache.InvalidationHook
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string][]byte)}
}

func (s *fakeStore) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (s *fakeStore) Set(_ context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = raw
	return nil
}

func (s *fakeStore) SetWithTTL(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	return s.Set(ctx, key, value)
}

func (s *fakeStore) Invalidate(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *fakeStore) InvalidatePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
		}
	}
	return nil
}

func (s *fakeStore) OnInvalidate(hook cache.InvalidationHook) {
	s.hooks = append(s.hooks, hook)
}

type fakeOverrideRepo struct {
	mu        sync.Mutex
	overrides []domain.ScoreOverride
}

func (r *fakeOverrideRepo) Insert(_ context.Context, override domain.ScoreOverride) (domain.ScoreOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	override.ID = uuid.New()
	override.CreatedAt = time.Now().UTC()
	r.overrides = append(r.overrides, override)
	return override, nil
}

func (r *fakeOverrideRepo) GetLatestByLead(_ context.Context, leadID uuid.UUID) (domain.ScoreOverride, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.overrides) - 1; i >= 0; i-- {
		if r.overrides[i].LeadID == leadID {
			return r.overrides[i], true, nil
		}
	}
	return domain.ScoreOverride{}, false, nil
}

func (r *fakeOverrideRepo) ListByLead(_ context.Context, leadID uuid.UUID) ([]domain.ScoreOverride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ScoreOverride
	for i := len(r.overrides) - 1; i >= 0; i-- {
		if r.overrides[i].LeadID == leadID {
			out = append(out, r.overrides[i])
		}
	}
	return out, nil
}

type fakeStages struct {
	stage string
}

func (f *fakeStages) GetState(_ context.Context, leadID uuid.UUID) (funnelrepo.LeadConversionState, error) {
	return funnelrepo.LeadConversionState{
		LeadID:            leadID,
		CurrentStage:      f.stage,
		CurrentStageOrder: funneldomain.StageOrder(f.stage),
	}, nil
}

type nullBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *nullBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, event)
}

func (b *nullBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *nullBus) Subscribe(string, events.Handler) {}

func newScoringService(t *testing.T, store *fakeStore, repo *fakeOverrideRepo, stages StageReader, bus events.Bus) *Service {
	t.Helper()
	engine, err := NewEngine(time.Hour)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return NewService(engine, repo, store, stages, bus, logger.New("test"))
}

func TestScoreReadsThroughCache(t *testing.T) {
	store := newFakeStore()
	svc := newScoringService(t, store, &fakeOverrideRepo{}, nil, &nullBus{})

	attrs := strongLead()
	first, err := svc.Score(context.Background(), attrs)
	if err != nil {
		t.Fatalf("first Score: %v", err)
	}

	// Change the input: the cached profile is served until invalidated.
	weaker := attrs
	weaker.Budget = 100_000
	second, err := svc.Score(context.Background(), weaker)
	if err != nil {
		t.Fatalf("second Score: %v", err)
	}
	if second.Profile.TotalScore != first.Profile.TotalScore {
		t.Errorf("cached score = %f, want %f", second.Profile.TotalScore, first.Profile.TotalScore)
	}

	if err := store.Invalidate(context.Background(), cache.ScoreKey(attrs.LeadID.String())); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	third, err := svc.Score(context.Background(), weaker)
	if err != nil {
		t.Fatalf("third Score: %v", err)
	}
	if third.Profile.TotalScore >= first.Profile.TotalScore {
		t.Errorf("recomputed score %f should reflect the weaker budget (was %f)", third.Profile.TotalScore, first.Profile.TotalScore)
	}
}

func TestRecordOverrideShadowsProfile(t *testing.T) {
	store := newFakeStore()
	repo := &fakeOverrideRepo{}
	bus := &nullBus{}
	svc := newScoringService(t, store, repo, nil, bus)

	attrs := strongLead()
	before, err := svc.Score(context.Background(), attrs)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if before.Override != nil {
		t.Fatal("no override recorded yet")
	}

	if _, err := svc.RecordOverride(context.Background(), attrs.LeadID, 42, "duplicate inquiry", "agent-3"); err != nil {
		t.Fatalf("RecordOverride: %v", err)
	}

	// Cached profile was dropped; the shadow rides along with the recompute.
	after, err := svc.Score(context.Background(), attrs)
	if err != nil {
		t.Fatalf("Score after override: %v", err)
	}
	if after.Override == nil {
		t.Fatal("override not surfaced")
	}
	if after.Override.OverrideScore != 42 {
		t.Errorf("override score = %f, want 42", after.Override.OverrideScore)
	}
	// The computed profile itself is untouched by the override.
	if after.Profile.TotalScore != before.Profile.TotalScore {
		t.Errorf("computed score changed from %f to %f; overrides must shadow, not replace", before.Profile.TotalScore, after.Profile.TotalScore)
	}

	if len(bus.published) != 1 || bus.published[0].EventName() != "scoring.override.recorded" {
		t.Errorf("published = %v, want one scoring.override.recorded", bus.published)
	}
}

func TestRecordOverrideValidation(t *testing.T) {
	svc := newScoringService(t, newFakeStore(), &fakeOverrideRepo{}, nil, &nullBus{})

	if _, err := svc.RecordOverride(context.Background(), uuid.Nil, 50, "r", "a"); !apperr.IsCode(err, apperr.CodeInvalidInput) {
		t.Errorf("nil lead: err = %v, want invalid_input", err)
	}
	if _, err := svc.RecordOverride(context.Background(), uuid.New(), 120, "r", "a"); !apperr.IsCode(err, apperr.CodeInvalidInput) {
		t.Errorf("score out of range: err = %v, want invalid_input", err)
	}
	if _, err := svc.RecordOverride(context.Background(), uuid.New(), 50, "", "a"); !apperr.IsCode(err, apperr.CodeInvalidInput) {
		t.Errorf("missing reason: err = %v, want invalid_input", err)
	}
}

func TestScoreWithConversionUsesFunnelStage(t *testing.T) {
	stages := &fakeStages{stage: funneldomain.StageOfferAccepted}
	svc := newScoringService(t, newFakeStore(), &fakeOverrideRepo{}, stages, &nullBus{})

	attrs := domain.LeadAttributes{LeadID: uuid.New(), Budget: 100_000, Timeline: "flexible"}
	late, err := svc.ScoreWithConversion(context.Background(), attrs)
	if err != nil {
		t.Fatalf("ScoreWithConversion: %v", err)
	}

	stages.stage = funneldomain.StageLeadCreated
	early, err := svc.ScoreWithConversion(context.Background(), attrs)
	if err != nil {
		t.Fatalf("ScoreWithConversion: %v", err)
	}

	if late.Profile.TotalScore <= early.Profile.TotalScore {
		t.Errorf("offer_accepted blend %f should exceed lead_created %f", late.Profile.TotalScore, early.Profile.TotalScore)
	}
}

type fakeRecalcQueue struct {
	mu      sync.Mutex
	leadIDs []string
	err     error
}

func (q *fakeRecalcQueue) EnqueueScoreRecalculate(_ context.Context, leadID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.leadIDs = append(q.leadIDs, leadID)
	return nil
}

func TestRequestRecalculationQueuesTask(t *testing.T) {
	svc := newScoringService(t, newFakeStore(), &fakeOverrideRepo{}, nil, &nullBus{})
	queue := &fakeRecalcQueue{}
	svc.SetRecalculator(queue)

	leadID := uuid.New()
	if err := svc.RequestRecalculation(context.Background(), leadID); err != nil {
		t.Fatalf("RequestRecalculation: %v", err)
	}
	if len(queue.leadIDs) != 1 || queue.leadIDs[0] != leadID.String() {
		t.Errorf("queued = %v, want [%s]", queue.leadIDs, leadID)
	}
}

func TestRequestRecalculationWithoutQueue(t *testing.T) {
	svc := newScoringService(t, newFakeStore(), &fakeOverrideRepo{}, nil, &nullBus{})

	err := svc.RequestRecalculation(context.Background(), uuid.New())
	if !apperr.IsCode(err, apperr.CodeTransportUnavailable) {
		t.Errorf("err = %v, want transport unavailable", err)
	}

	if err := svc.RequestRecalculation(context.Background(), uuid.Nil); !apperr.IsCode(err, apperr.CodeInvalidInput) {
		t.Errorf("nil lead: err = %v, want invalid_input", err)
	}
}
