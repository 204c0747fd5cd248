// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"estatecrm_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Funnel Domain Events
// =============================================================================

// ConversionEventLogged is published after a conversion event is durably
// appended to the event log, whether or not it caused a stage transition.
type ConversionEventLogged struct {
	BaseEvent
	EventID    uuid.UUID `json:"eventId"`
	LeadID     uuid.UUID `json:"leadId"`
	EventType  string    `json:"eventType"`
	ActorID    string    `json:"actorId,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

func (e ConversionEventLogged) EventName() string { return "funnel.event.logged" }

// LeadStageChanged is published when automatic progression moves a lead to
// a later funnel stage.
type LeadStageChanged struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	FromStage string    `json:"fromStage"`
	FromOrder int       `json:"fromOrder"`
	ToStage   string    `json:"toStage"`
	ToOrder   int       `json:"toOrder"`
}

func (e LeadStageChanged) EventName() string { return "funnel.stage.changed" }

// LeadStageOverridden is published when a manual correction moves a lead to
// an arbitrary stage. This is the only path that can lower a stage order.
type LeadStageOverridden struct {
	BaseEvent
	LeadID    uuid.UUID `json:"leadId"`
	FromStage string    `json:"fromStage"`
	ToStage   string    `json:"toStage"`
	Reason    string    `json:"reason"`
	ActorID   string    `json:"actorId"`
}

func (e LeadStageOverridden) EventName() string { return "funnel.stage.overridden" }

// =============================================================================
// Scoring Domain Events
// =============================================================================

// LeadScoreOverridden is published when an agent records a manual score
// override. The computed profile is shadowed, never replaced.
type LeadScoreOverridden struct {
	BaseEvent
	LeadID        uuid.UUID `json:"leadId"`
	OverrideScore int       `json:"overrideScore"`
	Reason        string    `json:"reason"`
	ActorID       string    `json:"actorId"`
}

func (e LeadScoreOverridden) EventName() string { return "scoring.override.recorded" }

// =============================================================================
// Attribution Domain Events
// =============================================================================

// AttributionModelUpdated is published when a model is registered or its
// configuration changes, so cached attribution results can be dropped.
type AttributionModelUpdated struct {
	BaseEvent
	ModelID string `json:"modelId"`
}

func (e AttributionModelUpdated) EventName() string { return "attribution.model.updated" }
