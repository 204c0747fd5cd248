// Package transport defines the request/response shapes for the scoring API.
package transport

import (
	"time"

	"estatecrm_backend/internal/scoring/domain"
)

// MarketContextRequest mirrors domain.MarketContext on the wire.
type MarketContextRequest struct {
	AveragePrice     float64 `json:"averagePrice" validate:"gte=0"`
	Trend            string  `json:"trend" validate:"omitempty,oneof=rising up stable declining down"`
	CompetitionCount int     `json:"competitionCount" validate:"gte=0"`
}

// ScoreRequest carries the lead attributes to score. Only leadId is
// required; absent fields lower confidence instead of failing.
type ScoreRequest struct {
	LeadID          string                `json:"leadId" binding:"required,uuid"`
	Budget          float64               `json:"budget" validate:"gte=0"`
	Timeline        string                `json:"timeline"`
	Location        string                `json:"location"`
	PropertyType    string                `json:"propertyType"`
	Qualification   string                `json:"qualification"`
	EngagementScore float64               `json:"engagementScore" validate:"gte=0,lte=100"`
	InquiryCount    int                   `json:"inquiryCount" validate:"gte=0"`
	LastActivityAt  *time.Time            `json:"lastActivityAt"`
	Market          *MarketContextRequest `json:"market"`
}

// OverrideScoreRequest records a manual score annotation.
type OverrideScoreRequest struct {
	OverrideScore float64 `json:"overrideScore" binding:"required" validate:"gte=0,lte=100"`
	Reason        string  `json:"reason" binding:"required"`
	ActorID       string  `json:"actorId" binding:"required"`
}

// ScoreResponse pairs the computed profile with its override shadow.
type ScoreResponse struct {
	Profile  domain.LeadScoreProfile `json:"profile"`
	Override *domain.ScoreOverride   `json:"override,omitempty"`
}
