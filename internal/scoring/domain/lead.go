// Package domain provides core business rules for lead scoring: the
// input attributes, the fixed category breakdown, and grade derivation.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// QualificationStatus is the categorical qualification of a lead.
type QualificationStatus string

const (
	QualificationUnknown      QualificationStatus = "unknown"
	QualificationUnqualified  QualificationStatus = "unqualified"
	QualificationContacted    QualificationStatus = "contacted"
	QualificationInterested   QualificationStatus = "interested"
	QualificationPreQualified QualificationStatus = "preQualified"
	QualificationQualified    QualificationStatus = "qualified"
)

// MarketContext carries optional market data for the lead's target area.
type MarketContext struct {
	AveragePrice     float64 `json:"averagePrice"`
	Trend            string  `json:"trend"` // rising, stable, declining
	CompetitionCount int     `json:"competitionCount"`
}

// LeadAttributes is the scoring input. Immutable per scoring call and
// owned by the caller; every field except LeadID is optional and degrades
// confidence rather than failing the calculation.
type LeadAttributes struct {
	LeadID          uuid.UUID           `json:"leadId"`
	Budget          float64             `json:"budget"`
	Timeline        string              `json:"timeline"`
	Location        string              `json:"location"`
	PropertyType    string              `json:"propertyType"`
	Qualification   QualificationStatus `json:"qualification"`
	EngagementScore float64             `json:"engagementScore"` // 0-100
	InquiryCount    int                 `json:"inquiryCount"`
	LastActivityAt  time.Time           `json:"lastActivityAt"`
	Market          *MarketContext      `json:"market,omitempty"`
}

// ScoreBreakdown holds the seven category sub-scores, each in [0,100].
// Always recomputed from LeadAttributes, never persisted independently.
type ScoreBreakdown struct {
	Budget        float64 `json:"budget"`
	Timeline      float64 `json:"timeline"`
	PropertyType  float64 `json:"propertyType"`
	Location      float64 `json:"location"`
	Engagement    float64 `json:"engagement"`
	Qualification float64 `json:"qualification"`
	MarketFit     float64 `json:"marketFit"`
}

// Grade is the letter classification derived from a total score.
type Grade string

const (
	GradeAPlus Grade = "A+"
	GradeA     Grade = "A"
	GradeBPlus Grade = "B+"
	GradeB     Grade = "B"
	GradeCPlus Grade = "C+"
	GradeC     Grade = "C"
	GradeD     Grade = "D"
	GradeF     Grade = "F"
)

// GradeFor maps a total score onto the piecewise grade thresholds.
func GradeFor(total float64) Grade {
	switch {
	case total >= 95:
		return GradeAPlus
	case total >= 85:
		return GradeA
	case total >= 77.5:
		return GradeBPlus
	case total >= 70:
		return GradeB
	case total >= 62.5:
		return GradeCPlus
	case total >= 55:
		return GradeC
	case total >= 40:
		return GradeD
	default:
		return GradeF
	}
}

// LeadScoreProfile is the output of a scoring invocation. Later
// calculations supersede earlier profiles; they are never mutated.
type LeadScoreProfile struct {
	LeadID       uuid.UUID      `json:"leadId"`
	TotalScore   float64        `json:"totalScore"`
	Grade        Grade          `json:"grade"`
	Confidence   float64        `json:"confidence"`
	Breakdown    ScoreBreakdown `json:"breakdown"`
	CalculatedAt time.Time      `json:"calculatedAt"`
	ExpiresAt    time.Time      `json:"expiresAt"`
}

// ScoreOverride is an out-of-band manual annotation. It shadows the
// computed profile for display but never replaces it.
type ScoreOverride struct {
	ID            uuid.UUID `json:"id"`
	LeadID        uuid.UUID `json:"leadId"`
	OverrideScore float64   `json:"overrideScore"`
	Reason        string    `json:"reason"`
	ActorID       string    `json:"actorId"`
	CreatedAt     time.Time `json:"createdAt"`
}
