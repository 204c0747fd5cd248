package service

import (
	"context"

	"estatecrm_backend/internal/events"
	funnelrepo "estatecrm_backend/internal/funnel/repository"
	"estatecrm_backend/internal/scoring/domain"
	"estatecrm_backend/internal/scoring/repository"
	"estatecrm_backend/platform/apperr"
	"estatecrm_backend/platform/cache"
	"estatecrm_backend/platform/logger"

	"github.com/google/uuid"
)

// StageReader provides the lead's current funnel position for the
// enhanced score. Implemented by the funnel service.
type StageReader interface {
	GetState(ctx context.Context, leadID uuid.UUID) (funnelrepo.LeadConversionState, error)
}

// Recalculator queues a background score recalculation for a lead.
// Implemented by the scheduler client.
type Recalculator interface {
	EnqueueScoreRecalculate(ctx context.Context, leadID string) error
}

// Service wraps the pure Engine with caching, manual overrides, and the
// funnel lookup for conversion-aware scoring.
type Service struct {
	engine *Engine
	repo   repository.Repository
	cache  cache.Store
	stages StageReader
	bus    events.Bus
	tasks  Recalculator
	log    *logger.Logger
}

// NewService creates the scoring service.
func NewService(engine *Engine, repo repository.Repository, store cache.Store, stages StageReader, bus events.Bus, log *logger.Logger) *Service {
	return &Service{engine: engine, repo: repo, cache: store, stages: stages, bus: bus, log: log}
}

// SetRecalculator wires the background task client. Optional: without it,
// RequestRecalculation reports the scheduler as unavailable.
func (s *Service) SetRecalculator(tasks Recalculator) {
	s.tasks = tasks
}

// ScoreResult pairs a computed profile with the override that shadows it,
// if one has been recorded. The profile itself is never replaced.
type ScoreResult struct {
	Profile  domain.LeadScoreProfile `json:"profile"`
	Override *domain.ScoreOverride   `json:"override,omitempty"`
}

// Score computes (or serves from cache) a lead's score profile. Cached
// profiles are invalidated on conversion events and overrides, so a hit
// is at most bounded-stale.
func (s *Service) Score(ctx context.Context, attrs domain.LeadAttributes) (ScoreResult, error) {
	if attrs.LeadID == uuid.Nil {
		return ScoreResult{}, apperr.InvalidInput("lead id is required")
	}

	key := cache.ScoreKey(attrs.LeadID.String())
	var profile domain.LeadScoreProfile
	hit := false
	if s.cache != nil {
		if found, err := s.cache.Get(ctx, key, &profile); err == nil && found {
			hit = true
		}
	}
	if !hit {
		var err error
		profile, err = s.engine.Score(attrs)
		if err != nil {
			return ScoreResult{}, err
		}
		if s.cache != nil {
			if err := s.cache.SetWithTTL(ctx, key, profile, s.engine.profileTTL); err != nil && s.log != nil {
				s.log.Error("score cache write failed", "error", err)
			}
		}
	}

	return s.withOverride(ctx, attrs.LeadID, profile)
}

// ScoreWithConversion computes the enhanced score blending in the lead's
// current funnel stage. Never cached: the blend depends on live funnel
// state.
func (s *Service) ScoreWithConversion(ctx context.Context, attrs domain.LeadAttributes) (ScoreResult, error) {
	if attrs.LeadID == uuid.Nil {
		return ScoreResult{}, apperr.InvalidInput("lead id is required")
	}

	stage := ""
	if s.stages != nil {
		state, err := s.stages.GetState(ctx, attrs.LeadID)
		if err != nil {
			return ScoreResult{}, err
		}
		stage = state.CurrentStage
	}

	profile, err := s.engine.ScoreWithConversion(attrs, stage)
	if err != nil {
		return ScoreResult{}, err
	}
	return s.withOverride(ctx, attrs.LeadID, profile)
}

// RecordOverride persists a manual score annotation and drops the lead's
// cached profile so the shadow is visible immediately.
func (s *Service) RecordOverride(ctx context.Context, leadID uuid.UUID, score float64, reason, actorID string) (domain.ScoreOverride, error) {
	if leadID == uuid.Nil {
		return domain.ScoreOverride{}, apperr.InvalidInput("lead id is required")
	}
	if score < 0 || score > 100 {
		return domain.ScoreOverride{}, apperr.InvalidInput("override score must be in [0,100]")
	}
	if reason == "" || actorID == "" {
		return domain.ScoreOverride{}, apperr.InvalidInput("override requires a reason and actor id")
	}

	override, err := s.repo.Insert(ctx, domain.ScoreOverride{
		LeadID:        leadID,
		OverrideScore: score,
		Reason:        reason,
		ActorID:       actorID,
	})
	if err != nil {
		return domain.ScoreOverride{}, apperr.Wrap(apperr.KindInternal, "failed to record score override", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, cache.ScoreKey(leadID.String())); err != nil && s.log != nil {
			s.log.Error("score cache invalidation failed", "error", err)
		}
	}
	s.bus.Publish(ctx, events.LeadScoreOverridden{
		BaseEvent:     events.NewBaseEvent(),
		LeadID:        leadID,
		OverrideScore: int(score),
		Reason:        reason,
		ActorID:       actorID,
	})

	return override, nil
}

// RequestRecalculation queues a background task that drops the lead's
// cached score profile, forcing the next Score call to recompute.
func (s *Service) RequestRecalculation(ctx context.Context, leadID uuid.UUID) error {
	if leadID == uuid.Nil {
		return apperr.InvalidInput("lead id is required")
	}
	if s.tasks == nil {
		return apperr.TransportUnavailable("score recalculation queue is not configured", nil)
	}
	if err := s.tasks.EnqueueScoreRecalculate(ctx, leadID.String()); err != nil {
		return apperr.TransportUnavailable("failed to queue score recalculation", err)
	}
	if s.log != nil {
		s.log.Info("score recalculation queued", "leadId", leadID)
	}
	return nil
}

// ListOverrides returns a lead's override history, newest first.
func (s *Service) ListOverrides(ctx context.Context, leadID uuid.UUID) ([]domain.ScoreOverride, error) {
	if leadID == uuid.Nil {
		return nil, apperr.InvalidInput("lead id is required")
	}
	return s.repo.ListByLead(ctx, leadID)
}

func (s *Service) withOverride(ctx context.Context, leadID uuid.UUID, profile domain.LeadScoreProfile) (ScoreResult, error) {
	result := ScoreResult{Profile: profile}
	if s.repo == nil {
		return result, nil
	}
	override, found, err := s.repo.GetLatestByLead(ctx, leadID)
	if err != nil {
		// The computed profile is still valid without its shadow.
		if s.log != nil {
			s.log.DatabaseError("get score override", err)
		}
		return result, nil
	}
	if found {
		result.Override = &override
	}
	return result, nil
}
