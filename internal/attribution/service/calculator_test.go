package service

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"estatecrm_backend/internal/attribution/domain"
	"estatecrm_backend/internal/events"
	"estatecrm_backend/platform/apperr"
	"estatecrm_backend/platform/cache"
	"estatecrm_backend/platform/logger"

	"github.com/google/uuid"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (s *memStore) Set(_ context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = raw
	return nil
}

func (s *memStore) SetWithTTL(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	return s.Set(ctx, key, value)
}

func (s *memStore) Invalidate(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *memStore) InvalidatePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			delete(s.data, key)
		}
	}
	return nil
}

func (s *memStore) OnInvalidate(cache.InvalidationHook) {}

func newTestCalculator(t *testing.T) *Calculator {
	t.Helper()
	registry, err := NewRegistry(context.Background(), nil, nil, logger.New("test"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return NewCalculator(registry, nil, logger.New("test"))
}

func journey(interactions ...string) []domain.Touchpoint {
	base := time.Now().UTC().Add(-time.Duration(len(interactions)) * 24 * time.Hour)
	out := make([]domain.Touchpoint, len(interactions))
	for i, interaction := range interactions {
		out[i] = domain.Touchpoint{
			TemplateID:      "tmpl-" + string(rune('a'+i)),
			InteractionType: interaction,
			Timestamp:       base.Add(time.Duration(i) * 24 * time.Hour),
			Position:        i + 1,
		}
	}
	return out
}

func conversionOver(model string, touchpoints []domain.Touchpoint, value float64) ConversionInput {
	return ConversionInput{
		LeadID:          uuid.New(),
		ConversionID:    "conv-1",
		ConversionType:  "sale",
		ConversionValue: value,
		Touchpoints:     touchpoints,
		ModelID:         model,
	}
}

func within(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}

// Three touchpoints, position_based defaults .4/.4: the middle touchpoint
// takes the remaining .2.
func TestPositionBasedDefaults(t *testing.T) {
	calc := newTestCalculator(t)

	result, err := calc.Attribute(context.Background(), conversionOver("position_based",
		journey(domain.InteractionSent, domain.InteractionOpened, domain.InteractionClicked), 10_000))
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}

	wantWeights := []float64{0.4, 0.2, 0.4}
	wantValues := []float64{4000, 2000, 4000}
	for i, tp := range result.Touchpoints {
		if !within(tp.Weight, wantWeights[i]) {
			t.Errorf("weight[%d] = %f, want %f", i, tp.Weight, wantWeights[i])
		}
		if !within(tp.AttributedValue, wantValues[i]) {
			t.Errorf("attributedValue[%d] = %f, want %f", i, tp.AttributedValue, wantValues[i])
		}
	}
	if !within(result.TotalAttribution, 1.0) {
		t.Errorf("total attribution = %f, want 1.0", result.TotalAttribution)
	}
}

// time_decay with decayFactor 0.5 over 3 touchpoints: unnormalized
// [0.25, 0.5, 1.0] → [0.1429, 0.2857, 0.5714].
func TestTimeDecayNormalization(t *testing.T) {
	calc := newTestCalculator(t)
	halving := domain.Model{
		ID:     "halving",
		Name:   "Halving Decay",
		Type:   domain.ModelTimeDecay,
		Config: domain.ModelConfig{DecayFactor: 0.5},
	}
	if _, err := calc.registry.Register(context.Background(), halving); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := calc.Attribute(context.Background(), conversionOver("halving",
		journey(domain.InteractionSent, domain.InteractionOpened, domain.InteractionClicked), 1000))
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}

	wantWeights := []float64{0.1429, 0.2857, 0.5714}
	for i, tp := range result.Touchpoints {
		if !within(tp.Weight, wantWeights[i]) {
			t.Errorf("weight[%d] = %f, want %f", i, tp.Weight, wantWeights[i])
		}
	}
	last := result.Touchpoints[len(result.Touchpoints)-1]
	for _, tp := range result.Touchpoints[:len(result.Touchpoints)-1] {
		if tp.Weight >= last.Weight {
			t.Errorf("most recent touchpoint must carry the largest share; got %f >= %f", tp.Weight, last.Weight)
		}
	}
}

// A single touchpoint takes full credit under position_based regardless of
// the configured split.
func TestPositionBasedSingleTouchpoint(t *testing.T) {
	calc := newTestCalculator(t)

	result, err := calc.Attribute(context.Background(),
		conversionOver("position_based", journey(domain.InteractionClicked), 500))
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if len(result.Touchpoints) != 1 || !within(result.Touchpoints[0].Weight, 1.0) {
		t.Errorf("single-touchpoint weights = %+v, want [1.0]", result.Touchpoints)
	}
	if !within(result.Touchpoints[0].AttributedValue, 500) {
		t.Errorf("attributed value = %f, want 500", result.Touchpoints[0].AttributedValue)
	}
}

func TestUnknownModelFails(t *testing.T) {
	calc := newTestCalculator(t)

	_, err := calc.Attribute(context.Background(),
		conversionOver("quantum_touch", journey(domain.InteractionSent), 100))
	if !apperr.IsCode(err, apperr.CodeModelNotFound) {
		t.Fatalf("err = %v, want code %s", err, apperr.CodeModelNotFound)
	}
}

func TestEmptyTouchpointsFail(t *testing.T) {
	calc := newTestCalculator(t)

	_, err := calc.Attribute(context.Background(), conversionOver("linear", nil, 100))
	if !apperr.IsCode(err, apperr.CodeInsufficientData) {
		t.Fatalf("err = %v, want code %s", err, apperr.CodeInsufficientData)
	}
}

// Every model's weight vector sums to 1 (within epsilon) and never exceeds
// it, for journeys of length 1 through 6.
func TestWeightSumInvariantAcrossModels(t *testing.T) {
	calc := newTestCalculator(t)

	interactions := []string{
		domain.InteractionSent, domain.InteractionOpened, domain.InteractionClicked,
		domain.InteractionSent, domain.InteractionResponded, domain.InteractionOpened,
	}

	for _, model := range calc.registry.List() {
		for n := 1; n <= len(interactions); n++ {
			result, err := calc.Attribute(context.Background(),
				conversionOver(model.ID, journey(interactions[:n]...), 1000))
			if err != nil {
				t.Fatalf("%s over %d touchpoints: %v", model.ID, n, err)
			}

			sum := 0.0
			for _, tp := range result.Touchpoints {
				sum += tp.Weight
				if tp.Weight < 0 {
					t.Errorf("%s/%d: negative weight %f", model.ID, n, tp.Weight)
				}
			}
			if math.Abs(sum-1.0) > 1e-9 {
				t.Errorf("%s over %d touchpoints: weight sum = %.12f, want 1", model.ID, n, sum)
			}
			if result.TotalAttribution > 1 {
				t.Errorf("%s over %d touchpoints: total attribution %f exceeds 1", model.ID, n, result.TotalAttribution)
			}
		}
	}
}

func TestFirstAndLastTouchAllocation(t *testing.T) {
	calc := newTestCalculator(t)
	tps := journey(domain.InteractionSent, domain.InteractionOpened, domain.InteractionClicked)

	first, err := calc.Attribute(context.Background(), conversionOver("first_touch", tps, 100))
	if err != nil {
		t.Fatalf("first_touch: %v", err)
	}
	if !within(first.Touchpoints[0].Weight, 1) || !within(first.Touchpoints[2].Weight, 0) {
		t.Errorf("first_touch weights = %+v", first.Touchpoints)
	}

	last, err := calc.Attribute(context.Background(), conversionOver("last_touch", tps, 100))
	if err != nil {
		t.Fatalf("last_touch: %v", err)
	}
	if !within(last.Touchpoints[2].Weight, 1) || !within(last.Touchpoints[0].Weight, 0) {
		t.Errorf("last_touch weights = %+v", last.Touchpoints)
	}
}

func TestCustomWeightsNormalized(t *testing.T) {
	calc := newTestCalculator(t)

	// Default custom model: responded 3, clicked 2, opened 1.5, sent 1.
	result, err := calc.Attribute(context.Background(), conversionOver("custom",
		journey(domain.InteractionSent, domain.InteractionResponded), 400))
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if !within(result.Touchpoints[0].Weight, 0.25) {
		t.Errorf("sent weight = %f, want 0.25", result.Touchpoints[0].Weight)
	}
	if !within(result.Touchpoints[1].Weight, 0.75) {
		t.Errorf("responded weight = %f, want 0.75", result.Touchpoints[1].Weight)
	}
}

func TestConfidenceModel(t *testing.T) {
	calc := newTestCalculator(t)

	// Three fresh touchpoints, full allocation:
	// 0.5 + 0.3 (count, capped) + 0.2 (total) + 0.1 (all recent) = 1.1 → cap 0.95.
	result, err := calc.Attribute(context.Background(), conversionOver("linear",
		journey(domain.InteractionSent, domain.InteractionOpened, domain.InteractionClicked), 100))
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if !within(result.Confidence, confidenceCap) {
		t.Errorf("confidence = %f, want capped at %f", result.Confidence, confidenceCap)
	}

	// A single stale touchpoint: 0.5 + 0.1 + 0.2 + 0 = 0.8.
	stale := []domain.Touchpoint{{
		TemplateID:      "tmpl-old",
		InteractionType: domain.InteractionSent,
		Timestamp:       time.Now().UTC().Add(-90 * 24 * time.Hour),
		Position:        1,
	}}
	result, err = calc.Attribute(context.Background(), conversionOver("linear", stale, 100))
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if !within(result.Confidence, 0.8) {
		t.Errorf("confidence = %f, want 0.8", result.Confidence)
	}
}

func TestInsightsDescribeJourney(t *testing.T) {
	calc := newTestCalculator(t)

	result, err := calc.Attribute(context.Background(), conversionOver("last_touch",
		journey(domain.InteractionSent, domain.InteractionClicked), 100))
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if len(result.Insights) == 0 {
		t.Fatal("expected insights")
	}
	// Last touch: the final touchpoint is the most influential.
	if got := result.Insights[0]; !strings.Contains(got, "tmpl-b") {
		t.Errorf("top-touchpoint insight = %q, want mention of tmpl-b", got)
	}
}

func TestCompareModelsAggregates(t *testing.T) {
	calc := newTestCalculator(t)

	conversions := []ConversionInput{
		conversionOver("", journey(domain.InteractionSent, domain.InteractionClicked), 1000),
		conversionOver("", journey(domain.InteractionOpened, domain.InteractionResponded, domain.InteractionClicked), 2000),
	}

	aggregates, err := calc.CompareModels(context.Background(), conversions)
	if err != nil {
		t.Fatalf("CompareModels: %v", err)
	}
	if len(aggregates) != 6 {
		t.Fatalf("got %d model aggregates, want 6", len(aggregates))
	}
	for id, agg := range aggregates {
		if agg.Conversions != 2 {
			t.Errorf("%s counted %d conversions, want 2", id, agg.Conversions)
		}
		// Every model fully allocates, so totals match across models.
		if !within(agg.TotalAttributedValue, 3000) {
			t.Errorf("%s attributed %f, want 3000", id, agg.TotalAttributedValue)
		}
		if len(agg.TopTemplates) == 0 {
			t.Errorf("%s has no top templates", id)
		}
	}
}

func TestCompareModelsEmptyInput(t *testing.T) {
	calc := newTestCalculator(t)

	_, err := calc.CompareModels(context.Background(), nil)
	if !apperr.IsCode(err, apperr.CodeInsufficientData) {
		t.Fatalf("err = %v, want code %s", err, apperr.CodeInsufficientData)
	}
}

// Changing a model's configuration must drop cached results: the second
// Attribute call recomputes with the new decay factor instead of serving
// the entry written under the old one.
func TestModelUpdateInvalidatesCachedResults(t *testing.T) {
	bus := events.NewInMemoryBus(logger.New("test"))
	registry, err := NewRegistry(context.Background(), nil, bus, logger.New("test"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store := newMemStore()
	SubscribeCacheInvalidation(bus, store)
	calc := NewCalculator(registry, store, logger.New("test"))

	input := conversionOver("time_decay",
		journey(domain.InteractionSent, domain.InteractionOpened, domain.InteractionClicked), 1000)

	// decay 0.7, n=3: [0.49, 0.7, 1] / 2.19 → first weight ≈ 0.2237.
	first, err := calc.Attribute(context.Background(), input)
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if !within(first.Touchpoints[0].Weight, 0.49/2.19) {
		t.Fatalf("weight[0] = %f, want %f", first.Touchpoints[0].Weight, 0.49/2.19)
	}

	// Unchanged model: the cached result is served as-is.
	cached, err := calc.Attribute(context.Background(), input)
	if err != nil {
		t.Fatalf("Attribute (cached): %v", err)
	}
	if !cached.CalculatedAt.Equal(first.CalculatedAt) {
		t.Fatal("expected cached result before any model change")
	}

	model, err := registry.Get("time_decay")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	model.Config.DecayFactor = 0.1
	if _, err := registry.Update(context.Background(), model); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// decay 0.1, n=3: [0.01, 0.1, 1] / 1.11 → first weight ≈ 0.0090.
	second, err := calc.Attribute(context.Background(), input)
	if err != nil {
		t.Fatalf("Attribute after update: %v", err)
	}
	if !within(second.Touchpoints[0].Weight, 0.01/1.11) {
		t.Fatalf("weight[0] = %f after update, want %f (stale cache)", second.Touchpoints[0].Weight, 0.01/1.11)
	}
}

// Removing a model clears its cached results too.
func TestModelRemovalInvalidatesCachedResults(t *testing.T) {
	bus := events.NewInMemoryBus(logger.New("test"))
	registry, err := NewRegistry(context.Background(), nil, bus, logger.New("test"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store := newMemStore()
	SubscribeCacheInvalidation(bus, store)
	calc := NewCalculator(registry, store, logger.New("test"))

	input := conversionOver("linear", journey(domain.InteractionSent, domain.InteractionOpened), 500)
	if _, err := calc.Attribute(context.Background(), input); err != nil {
		t.Fatalf("Attribute: %v", err)
	}

	if err := registry.Remove(context.Background(), "linear"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	store.mu.Lock()
	remaining := len(store.data)
	store.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("%d cached attribution entries survived model removal", remaining)
	}
}
