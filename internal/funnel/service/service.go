// Package service implements the conversion funnel state machine: event
// ingestion, automatic stage progression, manual correction, and the
// derived funnel metrics.
package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"estatecrm_backend/internal/events"
	"estatecrm_backend/internal/funnel/domain"
	"estatecrm_backend/internal/funnel/repository"
	"estatecrm_backend/platform/apperr"
	"estatecrm_backend/platform/cache"
	"estatecrm_backend/platform/config"
	"estatecrm_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// batchConcurrency bounds parallel batch processing. Entries for the same
// lead still serialize on the per-lead lock.
const batchConcurrency = 4

// Service owns lead conversion state. Per-lead transitions are serialized
// through a keyed lock so near-simultaneous events for one lead cannot race
// to an inconsistent stage order; different leads proceed in parallel.
type Service struct {
	repo  repository.Repository
	cache cache.Store
	bus   events.Bus
	log   *logger.Logger

	maxAttempts int
	baseBackoff time.Duration

	leadLocks sync.Map // uuid.UUID -> *sync.Mutex
}

// New creates the funnel service.
func New(repo repository.Repository, store cache.Store, bus events.Bus, cfg config.FunnelConfig, log *logger.Logger) *Service {
	maxAttempts := cfg.GetEventWriteMaxAttempts()
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	baseBackoff := cfg.GetEventWriteBaseBackoff()
	if baseBackoff <= 0 {
		baseBackoff = 200 * time.Millisecond
	}
	return &Service{
		repo:        repo,
		cache:       store,
		bus:         bus,
		log:         log,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
	}
}

// LogEventParams contains parameters for recording a conversion event.
type LogEventParams struct {
	LeadID      uuid.UUID
	EventType   string
	Description string
	EventData   json.RawMessage
	ActorID     string
	OccurredAt  time.Time // zero means now
}

// LogEventResult reports the appended event and any resulting transition.
type LogEventResult struct {
	EventID       uuid.UUID
	StageChanged  bool
	NewStage      string
	NewStageOrder int
}

// LogEvent appends a conversion event and evaluates automatic progression.
// The append is retried with bounded exponential backoff; once the event is
// durably logged it is never rolled back. A failing state write after a
// logged event surfaces as StageUpdateFailed with the event id preserved —
// the event log remains the source of truth for reconciliation.
func (s *Service) LogEvent(ctx context.Context, params LogEventParams) (LogEventResult, error) {
	if params.LeadID == uuid.Nil {
		return LogEventResult{}, apperr.InvalidInput("lead id is required")
	}
	if !domain.IsKnownEventType(params.EventType) {
		return LogEventResult{}, apperr.InvalidInput("unknown event type: " + params.EventType)
	}

	unlock := s.lockLead(params.LeadID)
	defer unlock()

	occurredAt := params.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	var ev repository.ConversionEvent
	err := s.withRetry(ctx, func() error {
		var appendErr error
		ev, appendErr = s.repo.Append(ctx, repository.AppendEventParams{
			LeadID:      params.LeadID,
			EventType:   params.EventType,
			Description: params.Description,
			EventData:   params.EventData,
			ActorID:     params.ActorID,
			OccurredAt:  occurredAt,
		})
		return appendErr
	})
	if err != nil {
		return LogEventResult{}, apperr.Wrap(apperr.KindInternal, "failed to log conversion event", err)
	}

	s.bus.Publish(ctx, events.ConversionEventLogged{
		BaseEvent:  events.NewBaseEvent(),
		EventID:    ev.ID,
		LeadID:     ev.LeadID,
		EventType:  ev.EventType,
		ActorID:    ev.ActorID,
		RecordedAt: ev.OccurredAt,
	})

	result := LogEventResult{EventID: ev.ID}

	state := s.currentState(ctx, params.LeadID, occurredAt)
	targetStage, _ := domain.StageForEventType(params.EventType)
	targetOrder := domain.StageOrder(targetStage)

	// Monotonic rule: only a strictly later stage transitions. Replaying a
	// same-or-earlier event is a no-op, never a regression.
	if targetOrder <= state.CurrentStageOrder {
		s.invalidateFunnelCaches(ctx, params.LeadID)
		return result, nil
	}

	fromStage := state.CurrentStage
	fromOrder := state.CurrentStageOrder
	state.CurrentStage = targetStage
	state.CurrentStageOrder = targetOrder
	state.LastTransitionAt = occurredAt

	if err := s.withRetry(ctx, func() error {
		return s.repo.UpsertState(ctx, state)
	}); err != nil {
		// The event stays logged; derived state is temporarily behind.
		return result, apperr.StageUpdateFailed("conversion state write failed after event was logged", err)
	}

	s.invalidateFunnelCaches(ctx, params.LeadID)
	if s.log != nil {
		s.log.StageTransition(params.LeadID.String(), fromStage, targetStage, false)
	}
	s.bus.Publish(ctx, events.LeadStageChanged{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    params.LeadID,
		FromStage: fromStage,
		FromOrder: fromOrder,
		ToStage:   targetStage,
		ToOrder:   targetOrder,
	})

	result.StageChanged = true
	result.NewStage = targetStage
	result.NewStageOrder = targetOrder
	return result, nil
}

// BatchOutcome reports the result of one entry in a batch.
type BatchOutcome struct {
	Params LogEventParams
	Result LogEventResult
	Err    error
}

// LogEventBatch processes entries independently: one failing entry never
// aborts the rest, and outcomes are reported per item in input order.
func (s *Service) LogEventBatch(ctx context.Context, items []LogEventParams) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, item := range items {
		g.Go(func() error {
			result, err := s.LogEvent(gctx, item)
			outcomes[i] = BatchOutcome{Params: item, Result: result, Err: err}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; outcomes carry them

	return outcomes
}

// OverrideStage moves a lead to an arbitrary stage. This is the only path
// that can lower a stage order. The correction is itself recorded in the
// append-only event log, flagged manual, with the reason and actor.
func (s *Service) OverrideStage(ctx context.Context, leadID uuid.UUID, stage, reason, actorID string) (repository.LeadConversionState, error) {
	if leadID == uuid.Nil {
		return repository.LeadConversionState{}, apperr.InvalidInput("lead id is required")
	}
	if !domain.IsKnownStage(stage) {
		return repository.LeadConversionState{}, apperr.InvalidInput("unknown stage: " + stage)
	}
	if reason == "" || actorID == "" {
		return repository.LeadConversionState{}, apperr.InvalidInput("manual override requires a reason and actor id")
	}

	unlock := s.lockLead(leadID)
	defer unlock()

	now := time.Now().UTC()
	state := s.currentState(ctx, leadID, now)
	fromStage := state.CurrentStage

	payload, _ := json.Marshal(map[string]string{
		"fromStage": fromStage,
		"toStage":   stage,
		"reason":    reason,
	})
	if err := s.withRetry(ctx, func() error {
		_, appendErr := s.repo.Append(ctx, repository.AppendEventParams{
			LeadID:      leadID,
			EventType:   domain.EventManualCorrection,
			Description: "manual stage correction",
			EventData:   payload,
			ActorID:     actorID,
			Manual:      true,
			OccurredAt:  now,
		})
		return appendErr
	}); err != nil {
		return repository.LeadConversionState{}, apperr.Wrap(apperr.KindInternal, "failed to log manual correction", err)
	}

	state.CurrentStage = stage
	state.CurrentStageOrder = domain.StageOrder(stage)
	state.LastTransitionAt = now

	if err := s.withRetry(ctx, func() error {
		return s.repo.UpsertState(ctx, state)
	}); err != nil {
		return repository.LeadConversionState{}, apperr.StageUpdateFailed("conversion state write failed after correction was logged", err)
	}

	s.invalidateFunnelCaches(ctx, leadID)
	if s.log != nil {
		s.log.StageTransition(leadID.String(), fromStage, stage, true)
	}
	s.bus.Publish(ctx, events.LeadStageOverridden{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    leadID,
		FromStage: fromStage,
		ToStage:   stage,
		Reason:    reason,
		ActorID:   actorID,
	})

	return state, nil
}

// GetState returns a lead's current funnel position. A lead with no
// recorded transitions is reported at the initial stage.
func (s *Service) GetState(ctx context.Context, leadID uuid.UUID) (repository.LeadConversionState, error) {
	if leadID == uuid.Nil {
		return repository.LeadConversionState{}, apperr.InvalidInput("lead id is required")
	}
	state, found, err := s.repo.GetState(ctx, leadID)
	if err != nil {
		return repository.LeadConversionState{}, err
	}
	if !found {
		return initialState(leadID, time.Now().UTC()), nil
	}
	return state, nil
}

// ListEvents returns a lead's conversion events in log order.
func (s *Service) ListEvents(ctx context.Context, leadID uuid.UUID) ([]repository.ConversionEvent, error) {
	if leadID == uuid.Nil {
		return nil, apperr.InvalidInput("lead id is required")
	}
	return s.repo.ListByLead(ctx, leadID)
}

// currentState loads the lead's state, synthesizing the initial stage when
// no row exists yet. Read errors degrade to the initial state: the
// monotonic upsert cannot regress a stored later stage.
func (s *Service) currentState(ctx context.Context, leadID uuid.UUID, at time.Time) repository.LeadConversionState {
	state, found, err := s.repo.GetState(ctx, leadID)
	if err == nil && found {
		return state
	}
	if err != nil && s.log != nil {
		s.log.DatabaseError("get conversion state", err)
	}
	return initialState(leadID, at)
}

func initialState(leadID uuid.UUID, at time.Time) repository.LeadConversionState {
	return repository.LeadConversionState{
		LeadID:            leadID,
		CurrentStage:      domain.InitialStage(),
		CurrentStageOrder: domain.StageOrder(domain.InitialStage()),
		LastTransitionAt:  at,
	}
}

// invalidateFunnelCaches eagerly drops every cached entry a new event could
// affect, rather than waiting for TTL expiry.
func (s *Service) invalidateFunnelCaches(ctx context.Context, leadID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePrefix(ctx, cache.FunnelKeyPrefix); err != nil && s.log != nil {
		s.log.Error("funnel cache invalidation failed", "error", err)
	}
	if err := s.cache.Invalidate(ctx, cache.ScoreKey(leadID.String())); err != nil && s.log != nil {
		s.log.Error("score cache invalidation failed", "error", err)
	}
	if err := s.cache.InvalidatePrefix(ctx, cache.AttributionKeyPrefix(leadID.String())); err != nil && s.log != nil {
		s.log.Error("attribution cache invalidation failed", "error", err)
	}
}

func (s *Service) lockLead(leadID uuid.UUID) func() {
	v, _ := s.leadLocks.LoadOrStore(leadID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// withRetry runs fn with bounded exponential backoff.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	backoff := s.baseBackoff
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
