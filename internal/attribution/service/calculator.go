package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"estatecrm_backend/internal/attribution/domain"
	"estatecrm_backend/internal/events"
	"estatecrm_backend/platform/apperr"
	"estatecrm_backend/platform/cache"
	"estatecrm_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// Confidence model: base plus touchpoint-count, allocation, and
	// recency terms, capped.
	confidenceBase           = 0.5
	confidencePerTouchpoint  = 0.1
	confidenceCountCap       = 0.3
	confidenceAllocationTerm = 0.2
	confidenceRecencyTerm    = 0.1
	confidenceCap            = 0.95

	// recencyWindow bounds the "recent touchpoint" fraction in confidence.
	recencyWindow = 30 * 24 * time.Hour

	// compareConcurrency bounds parallel model evaluation in comparisons.
	compareConcurrency = 4

	topTemplateLimit = 3
)

// ConversionInput describes one conversion to attribute.
type ConversionInput struct {
	LeadID          uuid.UUID
	ConversionID    string
	ConversionType  string
	ConversionValue float64
	Touchpoints     []domain.Touchpoint
	ModelID         string
}

// Calculator computes attribution results. The weight math is pure; the
// calculator adds model lookup and result caching around it.
type Calculator struct {
	registry *Registry
	cache    cache.Store
	log      *logger.Logger
	now      func() time.Time
}

// NewCalculator creates the attribution calculator.
func NewCalculator(registry *Registry, store cache.Store, log *logger.Logger) *Calculator {
	return &Calculator{registry: registry, cache: store, log: log, now: time.Now}
}

// SubscribeCacheInvalidation drops every cached attribution result when a
// model is registered, updated, or removed. Results are keyed by
// (lead, conversion, model) with the model last, so a per-model prefix is
// not expressible; the whole namespace is cleared instead.
func SubscribeCacheInvalidation(bus events.Bus, store cache.Store) {
	if bus == nil || store == nil {
		return
	}
	bus.Subscribe(events.AttributionModelUpdated{}.EventName(), events.HandlerFunc(func(ctx context.Context, _ events.Event) error {
		return store.InvalidatePrefix(ctx, cache.AttributionPrefix)
	}))
}

// Attribute computes the normalized weight vector and per-touchpoint
// attributed value for one conversion under one model. Results are read
// through the cache keyed by (lead, conversion, model).
func (c *Calculator) Attribute(ctx context.Context, input ConversionInput) (domain.Result, error) {
	if input.LeadID == uuid.Nil {
		return domain.Result{}, apperr.InvalidInput("lead id is required")
	}
	if len(input.Touchpoints) == 0 {
		return domain.Result{}, apperr.InsufficientData("attribution requires at least one touchpoint")
	}

	model, err := c.registry.Get(input.ModelID)
	if err != nil {
		return domain.Result{}, err
	}

	key := cache.AttributionKey(input.LeadID.String(), input.ConversionID, model.ID)
	if c.cache != nil {
		var cached domain.Result
		if found, err := c.cache.Get(ctx, key, &cached); err == nil && found {
			return cached, nil
		}
	}

	result := c.compute(input, model)

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, result); err != nil && c.log != nil {
			c.log.Error("attribution cache write failed", "error", err)
		}
	}
	return result, nil
}

// CompareModels runs every active model over the same conversion set and
// returns per-model aggregates for side-by-side evaluation. Model-to-model
// discrepancy is expected, not an error.
func (c *Calculator) CompareModels(ctx context.Context, conversions []ConversionInput) (map[string]domain.ModelAggregate, error) {
	if len(conversions) == 0 {
		return nil, apperr.InsufficientData("comparison requires at least one conversion")
	}

	models := c.registry.ListActive()
	aggregates := make(map[string]domain.ModelAggregate, len(models))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(compareConcurrency)
	for _, model := range models {
		g.Go(func() error {
			agg := domain.ModelAggregate{ModelID: model.ID, ModelType: model.Type}
			templateValues := make(map[string]float64)

			for _, conv := range conversions {
				conv.ModelID = model.ID
				result, err := c.Attribute(gctx, conv)
				if err != nil {
					// A conversion one model cannot attribute (no touchpoints)
					// fails them all; surface it.
					return err
				}
				agg.Conversions++
				for _, tp := range result.Touchpoints {
					agg.TotalAttributedValue += tp.AttributedValue
					templateValues[tp.TemplateID] += tp.AttributedValue
				}
			}
			agg.TopTemplates = rankTemplates(templateValues, topTemplateLimit)

			mu.Lock()
			aggregates[model.ID] = agg
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return aggregates, nil
}

func (c *Calculator) compute(input ConversionInput, model domain.Model) domain.Result {
	weights := modelWeights(model, input.Touchpoints)

	// Defensive clamp: every model normalizes to 1 by construction, but a
	// future custom-model misconfiguration must never over-attribute.
	total := 0.0
	for _, w := range weights {
		total += w
	}
	total = math.Min(total, 1)

	now := c.now().UTC()
	credits := make([]domain.TouchpointCredit, len(input.Touchpoints))
	for i, tp := range input.Touchpoints {
		credits[i] = domain.TouchpointCredit{
			TemplateID:      tp.TemplateID,
			InteractionType: tp.InteractionType,
			Position:        tp.Position,
			Weight:          weights[i],
			AttributedValue: weights[i] * input.ConversionValue,
		}
	}

	return domain.Result{
		LeadID:           input.LeadID,
		ConversionID:     input.ConversionID,
		ConversionType:   input.ConversionType,
		ConversionValue:  input.ConversionValue,
		ModelID:          model.ID,
		TotalAttribution: total,
		Touchpoints:      credits,
		Confidence:       confidence(input.Touchpoints, total, now),
		Insights:         insights(credits, input.Touchpoints),
		CalculatedAt:     now,
	}
}

// modelWeights computes the normalized weight vector for the model type.
// Every vector sums to 1 for non-empty input.
func modelWeights(model domain.Model, touchpoints []domain.Touchpoint) []float64 {
	n := len(touchpoints)
	weights := make([]float64, n)

	switch model.Type {
	case domain.ModelFirstTouch:
		weights[0] = 1

	case domain.ModelLastTouch:
		weights[n-1] = 1

	case domain.ModelLinear:
		for i := range weights {
			weights[i] = 1 / float64(n)
		}

	case domain.ModelTimeDecay:
		decay := model.Config.DecayFactor
		if decay <= 0 || decay > 1 {
			decay = domain.DefaultDecayFactor
		}
		// Most recent touchpoint decays least: weight[i] = d^(n-1-i).
		for i := range weights {
			weights[i] = math.Pow(decay, float64(n-1-i))
		}
		normalize(weights)

	case domain.ModelPositionBased:
		first := model.Config.FirstTouchWeight
		last := model.Config.LastTouchWeight
		if first <= 0 {
			first = domain.DefaultFirstTouchWeight
		}
		if last <= 0 {
			last = domain.DefaultLastTouchWeight
		}
		switch n {
		case 1:
			// A single touchpoint takes full credit regardless of the split.
			weights[0] = 1
		case 2:
			weights[0] = first
			weights[1] = last
			normalize(weights)
		default:
			weights[0] = first
			weights[n-1] = last
			interior := 1 - first - last
			if interior < 0 {
				interior = 0
			}
			share := interior / float64(n-2)
			for i := 1; i < n-1; i++ {
				weights[i] = share
			}
			normalize(weights)
		}

	case domain.ModelCustom:
		// Per-interaction-type table; unlisted types carry neutral weight 1
		// so they still take part in normalization.
		for i, tp := range touchpoints {
			w, ok := model.Config.CustomWeights[tp.InteractionType]
			if !ok || w < 0 {
				w = 1
			}
			weights[i] = w
		}
		normalize(weights)

	default:
		// Unreachable for registered models; treat as linear.
		for i := range weights {
			weights[i] = 1 / float64(n)
		}
	}

	return weights
}

// normalize scales weights in place so they sum to 1. An all-zero vector
// falls back to an even split.
func normalize(weights []float64) {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		for i := range weights {
			weights[i] = 1 / float64(len(weights))
		}
		return
	}
	for i := range weights {
		weights[i] /= sum
	}
}

func confidence(touchpoints []domain.Touchpoint, totalAttribution float64, now time.Time) float64 {
	conf := confidenceBase
	conf += math.Min(confidencePerTouchpoint*float64(len(touchpoints)), confidenceCountCap)
	conf += confidenceAllocationTerm * totalAttribution

	recent := 0
	for _, tp := range touchpoints {
		if !tp.Timestamp.IsZero() && now.Sub(tp.Timestamp) <= recencyWindow {
			recent++
		}
	}
	conf += confidenceRecencyTerm * (float64(recent) / float64(len(touchpoints)))

	return math.Min(conf, confidenceCap)
}

// insights derives human-readable observations. Descriptive only; nothing
// downstream branches on them.
func insights(credits []domain.TouchpointCredit, touchpoints []domain.Touchpoint) []string {
	top := credits[0]
	for _, c := range credits[1:] {
		if c.Weight > top.Weight {
			top = c
		}
	}

	var out []string
	out = append(out, fmt.Sprintf(
		"Most influential touchpoint: %s (%s) at position %d with %.0f%% of the credit",
		top.TemplateID, top.InteractionType, top.Position, top.Weight*100,
	))

	first, last := touchpoints[0].Timestamp, touchpoints[len(touchpoints)-1].Timestamp
	if !first.IsZero() && !last.IsZero() {
		days := last.Sub(first).Hours() / 24
		out = append(out, fmt.Sprintf("Journey spanned %.1f days across %d touchpoints", days, len(touchpoints)))
	}

	types := make(map[string]bool)
	for _, tp := range touchpoints {
		types[tp.InteractionType] = true
	}
	out = append(out, fmt.Sprintf("%d distinct interaction types in the journey", len(types)))

	return out
}

func rankTemplates(values map[string]float64, limit int) []domain.TemplateActivity {
	ranked := make([]domain.TemplateActivity, 0, len(values))
	for id, value := range values {
		ranked = append(ranked, domain.TemplateActivity{TemplateID: id, AttributedValue: value})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].AttributedValue != ranked[j].AttributedValue {
			return ranked[i].AttributedValue > ranked[j].AttributedValue
		}
		return ranked[i].TemplateID < ranked[j].TemplateID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
