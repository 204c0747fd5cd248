package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ConversionEvent is an append-only record of a business event for a lead.
// Rows are never mutated or deleted; the event log is the source of truth
// for reconciling derived state.
type ConversionEvent struct {
	ID          uuid.UUID       `db:"id"`
	LeadID      uuid.UUID       `db:"lead_id"`
	EventType   string          `db:"event_type"`
	Description string          `db:"description"`
	EventData   json.RawMessage `db:"event_data"`
	ActorID     string          `db:"actor_id"`
	Manual      bool            `db:"manual"`
	OccurredAt  time.Time       `db:"occurred_at"`
	CreatedAt   time.Time       `db:"created_at"`
}

// LeadConversionState is the single logical row per lead holding its
// current funnel position. Mutated exclusively by the funnel service.
type LeadConversionState struct {
	LeadID            uuid.UUID `db:"lead_id"`
	CurrentStage      string    `db:"current_stage"`
	CurrentStageOrder int       `db:"current_stage_order"`
	LastTransitionAt  time.Time `db:"last_transition_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

// AppendEventParams contains parameters for appending a conversion event.
type AppendEventParams struct {
	LeadID      uuid.UUID
	EventType   string
	Description string
	EventData   json.RawMessage
	ActorID     string
	Manual      bool
	OccurredAt  time.Time
}

// EventReader provides read operations over the event log.
type EventReader interface {
	// ListByLead returns a lead's events ordered by timestamp then insertion.
	ListByLead(ctx context.Context, leadID uuid.UUID) ([]ConversionEvent, error)
	// ListBetween returns all events in [from, to]. Zero times are unbounded.
	ListBetween(ctx context.Context, from, to time.Time) ([]ConversionEvent, error)
}

// EventWriter provides the append operation. Appends are idempotent by
// (lead_id, event_type, occurred_at): replaying the same event returns the
// previously stored row.
type EventWriter interface {
	Append(ctx context.Context, params AppendEventParams) (ConversionEvent, error)
}

// StateReader provides read operations over lead conversion state.
type StateReader interface {
	GetState(ctx context.Context, leadID uuid.UUID) (LeadConversionState, bool, error)
	ListStates(ctx context.Context) ([]LeadConversionState, error)
}

// StateWriter persists lead conversion state.
type StateWriter interface {
	UpsertState(ctx context.Context, state LeadConversionState) error
}

// Repository combines all funnel repository operations.
type Repository interface {
	EventReader
	EventWriter
	StateReader
	StateWriter
}
