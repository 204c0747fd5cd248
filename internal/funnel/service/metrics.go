package service

import (
	"context"
	"sort"
	"time"

	"estatecrm_backend/internal/funnel/domain"
	"estatecrm_backend/internal/funnel/repository"
	"estatecrm_backend/internal/funnel/transport"
	"estatecrm_backend/platform/cache"
	"estatecrm_backend/platform/logger"
)

const topStageLimit = 3

// Metrics computes funnel-wide aggregates. Results are read through the
// shared result cache; the funnel service invalidates those entries on
// every new event, so reads are bounded-stale without recomputing on
// every request.
type Metrics struct {
	repo  repository.Repository
	cache cache.Store
	log   *logger.Logger
	now   func() time.Time
}

// NewMetrics creates the funnel metrics reader.
func NewMetrics(repo repository.Repository, store cache.Store, log *logger.Logger) *Metrics {
	return &Metrics{repo: repo, cache: store, log: log, now: time.Now}
}

// GetConversionFunnel returns per-stage lead counts, stage-to-stage
// conversion rates, and average completed days in stage.
func (m *Metrics) GetConversionFunnel(ctx context.Context) (transport.FunnelSnapshot, error) {
	key := cache.FunnelSnapshotKey()
	if m.cache != nil {
		var cached transport.FunnelSnapshot
		if found, err := m.cache.Get(ctx, key, &cached); err == nil && found {
			return cached, nil
		}
	}

	states, err := m.repo.ListStates(ctx)
	if err != nil {
		return transport.FunnelSnapshot{}, err
	}
	allEvents, err := m.repo.ListBetween(ctx, time.Time{}, time.Time{})
	if err != nil {
		return transport.FunnelSnapshot{}, err
	}

	snapshot := buildSnapshot(states, allEvents, m.now().UTC())

	if m.cache != nil {
		if err := m.cache.Set(ctx, key, snapshot); err != nil && m.log != nil {
			m.log.Error("funnel snapshot cache write failed", "error", err)
		}
	}
	return snapshot, nil
}

// GetConversionMetrics aggregates conversion outcomes over [from, to].
// Zero times are unbounded.
func (m *Metrics) GetConversionMetrics(ctx context.Context, from, to time.Time) (transport.ConversionMetrics, error) {
	key := cache.MetricsKey(from, to)
	if m.cache != nil {
		var cached transport.ConversionMetrics
		if found, err := m.cache.Get(ctx, key, &cached); err == nil && found {
			return cached, nil
		}
	}

	eventList, err := m.repo.ListBetween(ctx, from, to)
	if err != nil {
		return transport.ConversionMetrics{}, err
	}

	metrics := buildMetrics(eventList, from, to)

	if m.cache != nil {
		if err := m.cache.Set(ctx, key, metrics); err != nil && m.log != nil {
			m.log.Error("conversion metrics cache write failed", "error", err)
		}
	}
	return metrics, nil
}

func buildSnapshot(states []repository.LeadConversionState, eventList []repository.ConversionEvent, now time.Time) transport.FunnelSnapshot {
	stages := domain.Stages()

	// Leads that reached at least each rung. A lead at order N has passed
	// through every rung up to N.
	atLeast := make([]int, len(stages)+1)
	for _, st := range states {
		for order := 1; order <= st.CurrentStageOrder && order <= len(stages); order++ {
			atLeast[order]++
		}
	}

	durations := stageDurations(eventList)

	out := transport.FunnelSnapshot{
		GeneratedAt: now,
		TotalLeads:  len(states),
		Stages:      make([]transport.StageMetrics, 0, len(stages)),
	}
	for i, stage := range stages {
		order := i + 1
		rate := 0.0
		if order == 1 {
			if len(states) > 0 {
				rate = 1.0
			}
		} else if atLeast[order-1] > 0 {
			rate = float64(atLeast[order]) / float64(atLeast[order-1])
		}

		avgDays := 0.0
		if ds := durations[stage]; len(ds) > 0 {
			var total time.Duration
			for _, d := range ds {
				total += d
			}
			avgDays = (total / time.Duration(len(ds))).Hours() / 24
		}

		out.Stages = append(out.Stages, transport.StageMetrics{
			Stage:          stage,
			Order:          order,
			LeadCount:      atLeast[order],
			ConversionRate: rate,
			AvgDaysInStage: avgDays,
		})
	}
	return out
}

// stageDurations derives completed time-in-stage spans from the event log:
// the gap between entering a stage and entering the next one. Manual
// corrections are excluded; they do not represent funnel progression.
func stageDurations(eventList []repository.ConversionEvent) map[string][]time.Duration {
	type entry struct {
		stage string
		order int
		at    time.Time
	}
	perLead := make(map[string][]entry)
	for _, ev := range eventList {
		if ev.Manual {
			continue
		}
		stage, ok := domain.StageForEventType(ev.EventType)
		if !ok {
			continue
		}
		key := ev.LeadID.String()
		perLead[key] = append(perLead[key], entry{stage: stage, order: domain.StageOrder(stage), at: ev.OccurredAt})
	}

	durations := make(map[string][]time.Duration)
	for _, entries := range perLead {
		// Events arrive ordered by occurred_at; keep only forward progress,
		// mirroring the state machine's monotonic rule.
		progress := entries[:0]
		current := 0
		for _, e := range entries {
			if e.order > current {
				progress = append(progress, e)
				current = e.order
			}
		}
		for i := 0; i+1 < len(progress); i++ {
			d := progress[i+1].at.Sub(progress[i].at)
			if d > 0 {
				durations[progress[i].stage] = append(durations[progress[i].stage], d)
			}
		}
	}
	return durations
}

func buildMetrics(eventList []repository.ConversionEvent, from, to time.Time) transport.ConversionMetrics {
	leadsSeen := make(map[string]bool)
	firstEvent := make(map[string]time.Time)
	closedAt := make(map[string]time.Time)
	stageEvents := make(map[string]int)

	for _, ev := range eventList {
		key := ev.LeadID.String()
		leadsSeen[key] = true
		if first, ok := firstEvent[key]; !ok || ev.OccurredAt.Before(first) {
			firstEvent[key] = ev.OccurredAt
		}
		if ev.EventType == domain.EventSaleClosed {
			if prev, ok := closedAt[key]; !ok || ev.OccurredAt.Before(prev) {
				closedAt[key] = ev.OccurredAt
			}
		}
		if stage, ok := domain.StageForEventType(ev.EventType); ok {
			stageEvents[stage]++
		}
	}

	metrics := transport.ConversionMetrics{
		TotalConversions: len(closedAt),
	}
	if !from.IsZero() {
		metrics.From = &from
	}
	if !to.IsZero() {
		metrics.To = &to
	}
	if len(leadsSeen) > 0 {
		metrics.ConversionRate = float64(len(closedAt)) / float64(len(leadsSeen))
	}

	if len(closedAt) > 0 {
		var total time.Duration
		for lead, closed := range closedAt {
			total += closed.Sub(firstEvent[lead])
		}
		metrics.AverageTimeToConvertDays = (total / time.Duration(len(closedAt))).Hours() / 24
	}

	type ranked struct {
		stage string
		count int
	}
	rankedStages := make([]ranked, 0, len(stageEvents))
	for stage, count := range stageEvents {
		rankedStages = append(rankedStages, ranked{stage: stage, count: count})
	}
	sort.Slice(rankedStages, func(i, j int) bool {
		if rankedStages[i].count != rankedStages[j].count {
			return rankedStages[i].count > rankedStages[j].count
		}
		return domain.StageOrder(rankedStages[i].stage) < domain.StageOrder(rankedStages[j].stage)
	})
	for i, r := range rankedStages {
		if i == topStageLimit {
			break
		}
		metrics.TopStages = append(metrics.TopStages, transport.StageActivity{Stage: r.stage, Events: r.count})
	}

	return metrics
}
