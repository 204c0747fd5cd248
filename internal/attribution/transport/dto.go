// Package transport defines the request/response shapes for the
// attribution API.
package transport

import (
	"time"

	"estatecrm_backend/internal/attribution/domain"
)

// TouchpointRequest mirrors domain.Touchpoint on the wire.
type TouchpointRequest struct {
	TemplateID      string    `json:"templateId" binding:"required"`
	InteractionType string    `json:"interactionType" binding:"required" validate:"oneof=sent opened clicked responded"`
	Timestamp       time.Time `json:"timestamp" binding:"required"`
	Position        int       `json:"position" validate:"gte=0"`
}

// CalculateRequest attributes one conversion under one model.
type CalculateRequest struct {
	LeadID          string              `json:"leadId" binding:"required,uuid"`
	ConversionID    string              `json:"conversionId" binding:"required"`
	ConversionType  string              `json:"conversionType"`
	ConversionValue float64             `json:"conversionValue" validate:"gte=0"`
	ModelID         string              `json:"modelId" binding:"required"`
	Touchpoints     []TouchpointRequest `json:"touchpoints" binding:"required,min=1,dive"`
}

// CompareConversion is one conversion in a model comparison.
type CompareConversion struct {
	LeadID          string              `json:"leadId" binding:"required,uuid"`
	ConversionID    string              `json:"conversionId" binding:"required"`
	ConversionType  string              `json:"conversionType"`
	ConversionValue float64             `json:"conversionValue" validate:"gte=0"`
	Touchpoints     []TouchpointRequest `json:"touchpoints" binding:"required,min=1,dive"`
}

// CompareRequest runs every active model over a conversion set.
type CompareRequest struct {
	Conversions []CompareConversion `json:"conversions" binding:"required,min=1,dive"`
}

// CompareResponse maps model id to its aggregate.
type CompareResponse struct {
	Models map[string]domain.ModelAggregate `json:"models"`
}

// ModelRequest registers or updates an attribution model.
type ModelRequest struct {
	ID     string             `json:"id" binding:"required"`
	Name   string             `json:"name" binding:"required"`
	Type   string             `json:"type" binding:"required"`
	Config domain.ModelConfig `json:"config"`
	Active *bool              `json:"active"`
}

// ModelListResponse wraps the registered models.
type ModelListResponse struct {
	Models []domain.Model `json:"models"`
	Count  int            `json:"count"`
}
