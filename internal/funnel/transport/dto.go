// Package transport defines the request/response shapes for the funnel API.
package transport

import (
	"time"

	"github.com/google/uuid"
)

// LogEventRequest records a conversion event for a lead.
type LogEventRequest struct {
	EventType   string                 `json:"eventType" binding:"required"`
	Description string                 `json:"description"`
	EventData   map[string]interface{} `json:"eventData"`
	ActorID     string                 `json:"actorId"`
	OccurredAt  *time.Time             `json:"occurredAt"`
}

// LogEventResponse reports the logged event and any resulting transition.
// Callers must treat the event as durable even when stage fields are absent;
// after a stage_update_failed error the current state should be re-queried.
type LogEventResponse struct {
	EventID       uuid.UUID `json:"eventId"`
	LeadID        uuid.UUID `json:"leadId"`
	EventType     string    `json:"eventType"`
	StageChanged  bool      `json:"stageChanged"`
	NewStage      *string   `json:"newStage,omitempty"`
	NewStageOrder *int      `json:"newStageOrder,omitempty"`
}

// BatchEventItem is a single entry in a batch log request.
type BatchEventItem struct {
	LeadID      string                 `json:"leadId" binding:"required,uuid"`
	EventType   string                 `json:"eventType" binding:"required"`
	Description string                 `json:"description"`
	EventData   map[string]interface{} `json:"eventData"`
	ActorID     string                 `json:"actorId"`
	OccurredAt  *time.Time             `json:"occurredAt"`
}

// BatchLogEventsRequest logs several events; entries are processed
// independently and partial success is reported per item.
type BatchLogEventsRequest struct {
	Events []BatchEventItem `json:"events" binding:"required,min=1,dive"`
}

// BatchItemResult reports the outcome for one batch entry.
type BatchItemResult struct {
	LeadID       string     `json:"leadId"`
	EventType    string     `json:"eventType"`
	EventID      *uuid.UUID `json:"eventId,omitempty"`
	StageChanged bool       `json:"stageChanged"`
	NewStage     *string    `json:"newStage,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// BatchLogEventsResponse wraps the per-item outcomes.
type BatchLogEventsResponse struct {
	Results   []BatchItemResult `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// OverrideStageRequest is the manual correction path. It is the only way to
// move a lead to a lower stage order and requires a reason and actor.
type OverrideStageRequest struct {
	Stage   string `json:"stage" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
	ActorID string `json:"actorId" binding:"required"`
}

// StateResponse is a lead's current funnel position.
type StateResponse struct {
	LeadID            uuid.UUID `json:"leadId"`
	CurrentStage      string    `json:"currentStage"`
	CurrentStageOrder int       `json:"currentStageOrder"`
	LastTransitionAt  time.Time `json:"lastTransitionAt"`
}

// StageMetrics describes one rung of the funnel snapshot.
type StageMetrics struct {
	Stage          string  `json:"stage"`
	Order          int     `json:"order"`
	LeadCount      int     `json:"leadCount"`
	ConversionRate float64 `json:"conversionRate"`
	AvgDaysInStage float64 `json:"avgDaysInStage"`
}

// FunnelSnapshot is the funnel-wide aggregate view.
type FunnelSnapshot struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	TotalLeads  int            `json:"totalLeads"`
	Stages      []StageMetrics `json:"stages"`
}

// StageActivity ranks a stage by event volume.
type StageActivity struct {
	Stage  string `json:"stage"`
	Events int    `json:"events"`
}

// ConversionMetrics aggregates conversion outcomes over a date range.
type ConversionMetrics struct {
	From                     *time.Time      `json:"from,omitempty"`
	To                       *time.Time      `json:"to,omitempty"`
	TotalConversions         int             `json:"totalConversions"`
	ConversionRate           float64         `json:"conversionRate"`
	AverageTimeToConvertDays float64         `json:"averageTimeToConvertDays"`
	TopStages                []StageActivity `json:"topStages"`
}
