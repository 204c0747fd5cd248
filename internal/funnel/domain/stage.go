// Package domain provides core business rules for the conversion funnel
// bounded context: the canonical stage ladder and the event vocabulary
// that drives automatic progression.
package domain

// Funnel stages in canonical order. Every lead moves through the same
// ladder; stage order is monotonically non-decreasing except for explicit
// manual correction.
const (
	StageLeadCreated      = "lead_created"
	StageContactMade      = "contact_made"
	StageQualified        = "qualified"
	StageShowingScheduled = "showing_scheduled"
	StageShowingCompleted = "showing_completed"
	StageOfferSubmitted   = "offer_submitted"
	StageOfferAccepted    = "offer_accepted"
	StageSaleClosed       = "sale_closed"
)

// Conversion event types. Each maps to the stage it promotes a lead into.
// The vocabulary is fixed; unknown types are rejected at the service layer.
const (
	EventContactMade      = "contact_made"
	EventQualified        = "qualified"
	EventShowingScheduled = "showing_scheduled"
	EventShowingCompleted = "showing_completed"
	EventOfferSubmitted   = "offer_submitted"
	EventOfferAccepted    = "offer_accepted"
	EventSaleClosed       = "sale_closed"
)

// EventManualCorrection records a manual stage override in the event log.
// It is outside the automatic vocabulary and never drives progression.
const EventManualCorrection = "manual_correction"

// stageOrders maps each stage to its 1-based position in the ladder.
var stageOrders = map[string]int{
	StageLeadCreated:      1,
	StageContactMade:      2,
	StageQualified:        3,
	StageShowingScheduled: 4,
	StageShowingCompleted: 5,
	StageOfferSubmitted:   6,
	StageOfferAccepted:    7,
	StageSaleClosed:       8,
}

// orderedStages lists the ladder from first to last.
var orderedStages = []string{
	StageLeadCreated,
	StageContactMade,
	StageQualified,
	StageShowingScheduled,
	StageShowingCompleted,
	StageOfferSubmitted,
	StageOfferAccepted,
	StageSaleClosed,
}

// eventStages maps each event type to the stage it promotes a lead into.
var eventStages = map[string]string{
	EventContactMade:      StageContactMade,
	EventQualified:        StageQualified,
	EventShowingScheduled: StageShowingScheduled,
	EventShowingCompleted: StageShowingCompleted,
	EventOfferSubmitted:   StageOfferSubmitted,
	EventOfferAccepted:    StageOfferAccepted,
	EventSaleClosed:       StageSaleClosed,
}

// Stages returns the canonical ladder, first to last.
func Stages() []string {
	out := make([]string, len(orderedStages))
	copy(out, orderedStages)
	return out
}

// StageOrder returns the 1-based order of a stage, or 0 for unknown stages.
func StageOrder(stage string) int {
	return stageOrders[stage]
}

// IsKnownStage reports whether stage is part of the canonical ladder.
func IsKnownStage(stage string) bool {
	_, ok := stageOrders[stage]
	return ok
}

// IsKnownEventType reports whether eventType belongs to the fixed vocabulary.
func IsKnownEventType(eventType string) bool {
	_, ok := eventStages[eventType]
	return ok
}

// StageForEventType returns the stage an event type promotes a lead into.
func StageForEventType(eventType string) (string, bool) {
	stage, ok := eventStages[eventType]
	return stage, ok
}

// IsTerminal reports whether stage is the end of the ladder. No automatic
// transition leaves a terminal stage; manual correction remains possible.
func IsTerminal(stage string) bool {
	return stage == StageSaleClosed
}

// InitialStage is where every lead starts.
func InitialStage() string {
	return StageLeadCreated
}

// StageByOrder returns the stage at the given 1-based order, or "" when the
// order is outside the ladder.
func StageByOrder(order int) string {
	if order < 1 || order > len(orderedStages) {
		return ""
	}
	return orderedStages[order-1]
}
