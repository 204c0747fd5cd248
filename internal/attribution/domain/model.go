// Package domain provides core business rules for multi-touch attribution:
// model types, their configuration, touchpoints, and result shapes.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ModelType enumerates the six supported attribution strategies.
type ModelType string

const (
	ModelFirstTouch    ModelType = "first_touch"
	ModelLastTouch     ModelType = "last_touch"
	ModelLinear        ModelType = "linear"
	ModelTimeDecay     ModelType = "time_decay"
	ModelPositionBased ModelType = "position_based"
	ModelCustom        ModelType = "custom"
)

// KnownModelType reports whether t is one of the six supported strategies.
func KnownModelType(t ModelType) bool {
	switch t {
	case ModelFirstTouch, ModelLastTouch, ModelLinear, ModelTimeDecay, ModelPositionBased, ModelCustom:
		return true
	}
	return false
}

// Config defaults applied when a model omits them.
const (
	DefaultDecayFactor      = 0.7
	DefaultFirstTouchWeight = 0.4
	DefaultLastTouchWeight  = 0.4
)

// ModelConfig holds the per-type tuning knobs. Fields irrelevant to a
// model's type are ignored.
type ModelConfig struct {
	DecayFactor      float64            `json:"decayFactor,omitempty"`
	FirstTouchWeight float64            `json:"firstTouchWeight,omitempty"`
	LastTouchWeight  float64            `json:"lastTouchWeight,omitempty"`
	CustomWeights    map[string]float64 `json:"customWeights,omitempty"`
}

// Model is a registered attribution model. Immutable after creation
// except through an explicit update.
type Model struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Type      ModelType   `json:"type"`
	Config    ModelConfig `json:"config"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Interaction types a touchpoint can carry.
const (
	InteractionSent      = "sent"
	InteractionOpened    = "opened"
	InteractionClicked   = "clicked"
	InteractionResponded = "responded"
)

// Touchpoint is one recorded interaction in a lead's journey. Supplied by
// the caller in journey order; not persisted by this context.
type Touchpoint struct {
	TemplateID      string    `json:"templateId"`
	InteractionType string    `json:"interactionType"`
	Timestamp       time.Time `json:"timestamp"`
	Position        int       `json:"position"` // 1-based index in the journey
}

// TouchpointCredit is the per-touchpoint share of a conversion's value.
type TouchpointCredit struct {
	TemplateID      string  `json:"templateId"`
	InteractionType string  `json:"interactionType"`
	Position        int     `json:"position"`
	Weight          float64 `json:"weight"`
	AttributedValue float64 `json:"attributedValue"`
}

// Result is a computed attribution. Derived and cacheable; never the
// system of record for the conversion itself.
type Result struct {
	LeadID           uuid.UUID          `json:"leadId"`
	ConversionID     string             `json:"conversionId"`
	ConversionType   string             `json:"conversionType"`
	ConversionValue  float64            `json:"conversionValue"`
	ModelID          string             `json:"modelId"`
	TotalAttribution float64            `json:"totalAttribution"`
	Touchpoints      []TouchpointCredit `json:"touchpoints"`
	Confidence       float64            `json:"confidence"`
	Insights         []string           `json:"insights"`
	CalculatedAt     time.Time          `json:"calculatedAt"`
}

// ModelAggregate summarizes one model's behavior across a conversion set
// in a side-by-side comparison.
type ModelAggregate struct {
	ModelID              string             `json:"modelId"`
	ModelType            ModelType          `json:"modelType"`
	Conversions          int                `json:"conversions"`
	TotalAttributedValue float64            `json:"totalAttributedValue"`
	TopTemplates         []TemplateActivity `json:"topTemplates"`
}

// TemplateActivity ranks a template by the value attributed to it.
type TemplateActivity struct {
	TemplateID      string  `json:"templateId"`
	AttributedValue float64 `json:"attributedValue"`
}
