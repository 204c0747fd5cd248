package service

import (
	"context"
	"testing"
	"time"

	"estatecrm_backend/internal/funnel/domain"
	"estatecrm_backend/internal/funnel/repository"
	"estatecrm_backend/platform/logger"

	"github.com/google/uuid"
)

func seedLead(t *testing.T, svc *Service, leadID uuid.UUID, start time.Time, eventTypes ...string) {
	t.Helper()
	for i, eventType := range eventTypes {
		if _, err := svc.LogEvent(context.Background(), LogEventParams{
			LeadID:     leadID,
			EventType:  eventType,
			OccurredAt: start.Add(time.Duration(i) * 24 * time.Hour),
		}); err != nil {
			t.Fatalf("seed LogEvent(%s): %v", eventType, err)
		}
	}
}

func TestGetConversionFunnelCountsAndRates(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeCache()
	svc := newTestService(repo, store, &recordingBus{})
	metrics := NewMetrics(repo, store, logger.New("test"))

	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	// Three leads: one reaches qualified, one contact_made, one closes.
	seedLead(t, svc, uuid.New(), start, domain.EventContactMade, domain.EventQualified)
	seedLead(t, svc, uuid.New(), start, domain.EventContactMade)
	seedLead(t, svc, uuid.New(), start,
		domain.EventContactMade, domain.EventQualified, domain.EventShowingScheduled,
		domain.EventShowingCompleted, domain.EventOfferSubmitted, domain.EventOfferAccepted,
		domain.EventSaleClosed,
	)

	snapshot, err := metrics.GetConversionFunnel(context.Background())
	if err != nil {
		t.Fatalf("GetConversionFunnel: %v", err)
	}
	if snapshot.TotalLeads != 3 {
		t.Errorf("total leads = %d, want 3", snapshot.TotalLeads)
	}
	if len(snapshot.Stages) != 8 {
		t.Fatalf("got %d stage rows, want 8", len(snapshot.Stages))
	}

	byStage := make(map[string]int)
	rates := make(map[string]float64)
	for _, row := range snapshot.Stages {
		byStage[row.Stage] = row.LeadCount
		rates[row.Stage] = row.ConversionRate
	}

	if byStage[domain.StageContactMade] != 3 {
		t.Errorf("contact_made count = %d, want 3", byStage[domain.StageContactMade])
	}
	if byStage[domain.StageQualified] != 2 {
		t.Errorf("qualified count = %d, want 2", byStage[domain.StageQualified])
	}
	if byStage[domain.StageSaleClosed] != 1 {
		t.Errorf("sale_closed count = %d, want 1", byStage[domain.StageSaleClosed])
	}

	// 2 of 3 contact_made leads qualified.
	if got, want := rates[domain.StageQualified], 2.0/3.0; !almostEqual(got, want) {
		t.Errorf("qualified conversion rate = %f, want %f", got, want)
	}
	// 1 of 2 qualified leads scheduled a showing.
	if got, want := rates[domain.StageShowingScheduled], 0.5; !almostEqual(got, want) {
		t.Errorf("showing_scheduled conversion rate = %f, want %f", got, want)
	}
}

func TestGetConversionFunnelAverageDaysInStage(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeCache()
	svc := newTestService(repo, store, &recordingBus{})
	metrics := NewMetrics(repo, store, logger.New("test"))

	// seedLead spaces events one day apart, so every completed stage span
	// is exactly one day.
	seedLead(t, svc, uuid.New(), time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		domain.EventContactMade, domain.EventQualified, domain.EventShowingScheduled,
	)

	snapshot, err := metrics.GetConversionFunnel(context.Background())
	if err != nil {
		t.Fatalf("GetConversionFunnel: %v", err)
	}
	for _, row := range snapshot.Stages {
		switch row.Stage {
		case domain.StageContactMade, domain.StageQualified:
			if !almostEqual(row.AvgDaysInStage, 1.0) {
				t.Errorf("%s avg days = %f, want 1.0", row.Stage, row.AvgDaysInStage)
			}
		case domain.StageShowingScheduled:
			// Stage is still open; no completed span to average.
			if row.AvgDaysInStage != 0 {
				t.Errorf("%s avg days = %f, want 0", row.Stage, row.AvgDaysInStage)
			}
		}
	}
}

func TestGetConversionFunnelReadsThroughCache(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeCache()
	svc := newTestService(repo, store, &recordingBus{})
	metrics := NewMetrics(repo, store, logger.New("test"))

	leadID := uuid.New()
	seedLead(t, svc, leadID, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), domain.EventContactMade)

	first, err := metrics.GetConversionFunnel(context.Background())
	if err != nil {
		t.Fatalf("first GetConversionFunnel: %v", err)
	}

	// Mutate the repo behind the cache's back: a cached snapshot is served
	// verbatim until an event invalidates it.
	repo.states[uuid.New()] = repository.LeadConversionState{
		LeadID: uuid.New(), CurrentStage: domain.StageQualified, CurrentStageOrder: 3,
	}
	second, err := metrics.GetConversionFunnel(context.Background())
	if err != nil {
		t.Fatalf("second GetConversionFunnel: %v", err)
	}
	if second.TotalLeads != first.TotalLeads {
		t.Errorf("cached read returned %d leads, want %d", second.TotalLeads, first.TotalLeads)
	}

	// A new event invalidates the snapshot; the next read recomputes.
	if _, err := svc.LogEvent(context.Background(), LogEventParams{
		LeadID: leadID, EventType: domain.EventQualified,
	}); err != nil {
		t.Fatalf("LogEvent: %v", err)
	}
	third, err := metrics.GetConversionFunnel(context.Background())
	if err != nil {
		t.Fatalf("third GetConversionFunnel: %v", err)
	}
	if third.TotalLeads != 2 {
		t.Errorf("recomputed snapshot has %d leads, want 2", third.TotalLeads)
	}
}

func TestGetConversionMetrics(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeCache()
	svc := newTestService(repo, store, &recordingBus{})
	metrics := NewMetrics(repo, store, logger.New("test"))

	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	// One lead converts in 2 days, one stalls at qualified.
	seedLead(t, svc, uuid.New(), start,
		domain.EventContactMade, domain.EventOfferAccepted, domain.EventSaleClosed,
	)
	seedLead(t, svc, uuid.New(), start, domain.EventContactMade, domain.EventQualified)

	got, err := metrics.GetConversionMetrics(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("GetConversionMetrics: %v", err)
	}
	if got.TotalConversions != 1 {
		t.Errorf("total conversions = %d, want 1", got.TotalConversions)
	}
	if !almostEqual(got.ConversionRate, 0.5) {
		t.Errorf("conversion rate = %f, want 0.5", got.ConversionRate)
	}
	if !almostEqual(got.AverageTimeToConvertDays, 2.0) {
		t.Errorf("avg time to convert = %f days, want 2.0", got.AverageTimeToConvertDays)
	}
	if len(got.TopStages) == 0 || got.TopStages[0].Stage != domain.StageContactMade {
		t.Errorf("top stage = %+v, want contact_made first", got.TopStages)
	}
}

func TestGetConversionMetricsRespectsDateRange(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeCache()
	svc := newTestService(repo, store, &recordingBus{})
	metrics := NewMetrics(repo, store, logger.New("test"))

	may := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	july := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	seedLead(t, svc, uuid.New(), may, domain.EventContactMade, domain.EventSaleClosed)
	seedLead(t, svc, uuid.New(), july, domain.EventContactMade, domain.EventSaleClosed)

	from := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)
	got, err := metrics.GetConversionMetrics(context.Background(), from, to)
	if err != nil {
		t.Fatalf("GetConversionMetrics: %v", err)
	}
	if got.TotalConversions != 1 {
		t.Errorf("total conversions in range = %d, want 1", got.TotalConversions)
	}
	if got.From == nil || !got.From.Equal(from) {
		t.Errorf("from = %v, want %v", got.From, from)
	}
}

func TestGetConversionMetricsEmptyLog(t *testing.T) {
	repo := newFakeRepo()
	metrics := NewMetrics(repo, newFakeCache(), logger.New("test"))

	got, err := metrics.GetConversionMetrics(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("GetConversionMetrics: %v", err)
	}
	if got.TotalConversions != 0 || got.ConversionRate != 0 || got.AverageTimeToConvertDays != 0 {
		t.Errorf("empty log produced non-zero metrics: %+v", got)
	}
}

func almostEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
