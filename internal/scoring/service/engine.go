// Package service implements the lead scoring engine: a pure, rule-table
// driven calculation of a weighted category breakdown, total score, grade,
// and confidence, plus an enhanced variant that blends in funnel progress.
package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	funneldomain "estatecrm_backend/internal/funnel/domain"
	"estatecrm_backend/internal/scoring/domain"
	"estatecrm_backend/platform/apperr"

	"github.com/google/uuid"
)

const (
	// weightSumEpsilon is the tolerance for the weights-sum-to-1 invariant.
	weightSumEpsilon = 1e-9

	// conversionBlendWeight is the fixed share of the enhanced score taken
	// from funnel progress; the remainder comes from the base score.
	conversionBlendWeight = 0.15

	// Budget ratio bands relative to the market average price.
	budgetHighRatio = 1.2
	budgetLowRatio  = 0.8

	// Engagement staleness decay multipliers.
	staleDecayAfter30Days = 0.7
	staleDecayAfter14Days = 0.85

	// Confidence starts at 100; missing fields and staleness subtract.
	confidenceBase          = 100.0
	penaltyMissingBudget    = 15.0
	penaltyMissingTimeline  = 10.0
	penaltyMissingLocation  = 10.0
	penaltyMissingProperty  = 10.0
	penaltyMissingMarket    = 15.0
	penaltyUnknownQualified = 10.0

	// Staleness confidence penalty: proportional beyond 30 days of
	// inactivity, reaching the 20-point cap at 60 days.
	stalenessPenaltyCap  = 20.0
	stalenessGraceDays   = 30.0
	stalenessRampoutDays = 30.0
)

// categoryWeights fixes the share of each category in the total score.
// The values must sum to exactly 1.0; NewEngine enforces this.
type categoryWeights struct {
	Budget        float64
	Timeline      float64
	PropertyType  float64
	Location      float64
	Engagement    float64
	Qualification float64
	MarketFit     float64
}

var defaultWeights = categoryWeights{
	Budget:        0.25,
	Timeline:      0.20,
	PropertyType:  0.15,
	Location:      0.15,
	Engagement:    0.10,
	Qualification: 0.10,
	MarketFit:     0.05,
}

func (w categoryWeights) sum() float64 {
	return w.Budget + w.Timeline + w.PropertyType + w.Location + w.Engagement + w.Qualification + w.MarketFit
}

// propertyTypeFallback scores property types outside the preference
// table; see propertyTypeScore.
const propertyTypeFallback = 60.0

// urgentKeywords classify a free-text timeline as urgent; soonKeywords as
// near-term. Anything else with content is treated as flexible.
var urgentKeywords = []string{"asap", "urgent", "immediately", "now", "this week"}

var soonKeywords = []string{"soon", "month", "30 day", "60 day", "quarter"}

// stageProgressScores maps the funnel stage onto a 0-100 progress score
// for the enhanced calculation.
var stageProgressScores = map[string]float64{
	funneldomain.StageLeadCreated:      10,
	funneldomain.StageContactMade:      25,
	funneldomain.StageQualified:        40,
	funneldomain.StageShowingScheduled: 55,
	funneldomain.StageShowingCompleted: 70,
	funneldomain.StageOfferSubmitted:   85,
	funneldomain.StageOfferAccepted:    95,
	funneldomain.StageSaleClosed:       100,
}

// stageConversionProbability is the empirical close probability per stage.
var stageConversionProbability = map[string]float64{
	funneldomain.StageLeadCreated:      0.05,
	funneldomain.StageContactMade:      0.15,
	funneldomain.StageQualified:        0.30,
	funneldomain.StageShowingScheduled: 0.45,
	funneldomain.StageShowingCompleted: 0.60,
	funneldomain.StageOfferSubmitted:   0.80,
	funneldomain.StageOfferAccepted:    0.95,
	funneldomain.StageSaleClosed:       1.00,
}

// Engine computes lead score profiles. It is pure: Score and
// ScoreWithConversion have no side effects and are safe for concurrent use.
type Engine struct {
	weights    categoryWeights
	profileTTL time.Duration
	now        func() time.Time
}

// NewEngine creates a scoring engine. It fails if the category weights do
// not sum to 1.0, which would silently skew every total score.
func NewEngine(profileTTL time.Duration) (*Engine, error) {
	w := defaultWeights
	if diff := math.Abs(w.sum() - 1.0); diff > weightSumEpsilon {
		return nil, fmt.Errorf("category weights sum to %f, want 1.0", w.sum())
	}
	if profileTTL <= 0 {
		profileTTL = 24 * time.Hour
	}
	return &Engine{weights: w, profileTTL: profileTTL, now: time.Now}, nil
}

// Score computes the full profile for a lead. Only a missing lead id is an
// error; every other absent field lowers confidence instead.
func (e *Engine) Score(attrs domain.LeadAttributes) (domain.LeadScoreProfile, error) {
	if attrs.LeadID == uuid.Nil {
		return domain.LeadScoreProfile{}, apperr.InvalidInput("lead id is required")
	}

	now := e.now().UTC()
	breakdown := domain.ScoreBreakdown{
		Budget:        e.budgetScore(attrs),
		Timeline:      e.timelineScore(attrs.Timeline),
		PropertyType:  e.propertyTypeScore(attrs.PropertyType),
		Location:      e.locationScore(attrs),
		Engagement:    e.engagementScore(attrs, now),
		Qualification: e.qualificationScore(attrs.Qualification),
		MarketFit:     e.marketFitScore(attrs.Market),
	}

	total := clamp(
		breakdown.Budget*e.weights.Budget+
			breakdown.Timeline*e.weights.Timeline+
			breakdown.PropertyType*e.weights.PropertyType+
			breakdown.Location*e.weights.Location+
			breakdown.Engagement*e.weights.Engagement+
			breakdown.Qualification*e.weights.Qualification+
			breakdown.MarketFit*e.weights.MarketFit,
		0, 100)

	return domain.LeadScoreProfile{
		LeadID:       attrs.LeadID,
		TotalScore:   total,
		Grade:        domain.GradeFor(total),
		Confidence:   e.confidence(attrs, now),
		Breakdown:    breakdown,
		CalculatedAt: now,
		ExpiresAt:    now.Add(e.profileTTL),
	}, nil
}

// ScoreWithConversion blends the base score with funnel progress: the
// stage progress score and conversion probability contribute a fixed 15%
// of the adjusted total, and the grade is recomputed from it.
func (e *Engine) ScoreWithConversion(attrs domain.LeadAttributes, stage string) (domain.LeadScoreProfile, error) {
	profile, err := e.Score(attrs)
	if err != nil {
		return domain.LeadScoreProfile{}, err
	}

	progress, ok := stageProgressScores[stage]
	if !ok {
		// Unknown stage: treat as the start of the funnel.
		stage = funneldomain.InitialStage()
		progress = stageProgressScores[stage]
	}
	probability := stageConversionProbability[stage]

	conversionScore := (progress + probability*100) / 2
	adjusted := clamp(profile.TotalScore*(1-conversionBlendWeight)+conversionScore*conversionBlendWeight, 0, 100)

	profile.TotalScore = adjusted
	profile.Grade = domain.GradeFor(adjusted)
	return profile, nil
}

// budgetScore bands the budget against the market average price:
// >=1.2x is a strong budget, >=0.8x workable, below that constrained.
// Without market data a stated budget scores the middle band.
func (e *Engine) budgetScore(attrs domain.LeadAttributes) float64 {
	if attrs.Budget <= 0 {
		return 0
	}
	if attrs.Market == nil || attrs.Market.AveragePrice <= 0 {
		return 75
	}
	ratio := attrs.Budget / attrs.Market.AveragePrice
	switch {
	case ratio >= budgetHighRatio:
		return 100
	case ratio >= budgetLowRatio:
		return 75
	default:
		return 50
	}
}

// timelineScore classifies free text by urgency keyword.
func (e *Engine) timelineScore(timeline string) float64 {
	normalized := strings.ToLower(strings.TrimSpace(timeline))
	if normalized == "" {
		return 0
	}
	for _, kw := range urgentKeywords {
		if strings.Contains(normalized, kw) {
			return 100
		}
	}
	for _, kw := range soonKeywords {
		if strings.Contains(normalized, kw) {
			return 80
		}
	}
	return 60
}

func (e *Engine) propertyTypeScore(propertyType string) float64 {
	normalized := strings.ToLower(strings.TrimSpace(propertyType))
	switch normalized {
	case "":
		return 0
	case "single-family":
		return 95
	case "townhouse":
		return 80
	case "condo":
		return 75
	case "multi-family":
		return 70
	case "commercial":
		return 65
	case "land":
		return 60
	default:
		return propertyTypeFallback
	}
}

// locationScore rates the stated location against the market trend when
// market data is available; a bare location is a weak positive signal.
func (e *Engine) locationScore(attrs domain.LeadAttributes) float64 {
	if strings.TrimSpace(attrs.Location) == "" {
		return 0
	}
	if attrs.Market == nil {
		return 70
	}
	switch strings.ToLower(attrs.Market.Trend) {
	case "rising", "up":
		return 90
	case "declining", "down":
		return 55
	default:
		return 75
	}
}

// engagementScore blends the raw engagement figure with inquiry-count
// tiers, then decays the result when the last activity is stale.
func (e *Engine) engagementScore(attrs domain.LeadAttributes, now time.Time) float64 {
	score := clamp(attrs.EngagementScore, 0, 100)

	switch {
	case attrs.InquiryCount >= 10:
		score += 15
	case attrs.InquiryCount >= 5:
		score += 10
	case attrs.InquiryCount >= 2:
		score += 5
	}
	score = clamp(score, 0, 100)

	if attrs.LastActivityAt.IsZero() {
		return score
	}
	days := now.Sub(attrs.LastActivityAt).Hours() / 24
	switch {
	case days > 30:
		score *= staleDecayAfter30Days
	case days > 14:
		score *= staleDecayAfter14Days
	}
	return score
}

func (e *Engine) qualificationScore(status domain.QualificationStatus) float64 {
	switch status {
	case domain.QualificationQualified:
		return 100
	case domain.QualificationPreQualified:
		return 90
	case domain.QualificationInterested:
		return 70
	case domain.QualificationContacted:
		return 55
	case domain.QualificationUnqualified:
		return 20
	case domain.QualificationUnknown:
		return 40
	default:
		// Unrecognized statuses score like unknown.
		return 40
	}
}

// marketFitScore rewards low competition in the lead's target market.
func (e *Engine) marketFitScore(market *domain.MarketContext) float64 {
	if market == nil {
		return 60
	}
	switch {
	case market.CompetitionCount <= 3:
		return 90
	case market.CompetitionCount <= 10:
		return 70
	default:
		return 50
	}
}

// confidence starts at 100 and subtracts fixed penalties per missing
// field plus a staleness penalty proportional to inactivity beyond 30
// days, capped at 20 points.
func (e *Engine) confidence(attrs domain.LeadAttributes, now time.Time) float64 {
	confidence := confidenceBase

	if attrs.Budget <= 0 {
		confidence -= penaltyMissingBudget
	}
	if strings.TrimSpace(attrs.Timeline) == "" {
		confidence -= penaltyMissingTimeline
	}
	if strings.TrimSpace(attrs.Location) == "" {
		confidence -= penaltyMissingLocation
	}
	if strings.TrimSpace(attrs.PropertyType) == "" {
		confidence -= penaltyMissingProperty
	}
	if attrs.Market == nil {
		confidence -= penaltyMissingMarket
	}
	if attrs.Qualification == "" || attrs.Qualification == domain.QualificationUnknown {
		confidence -= penaltyUnknownQualified
	}

	if !attrs.LastActivityAt.IsZero() {
		days := now.Sub(attrs.LastActivityAt).Hours() / 24
		if days > stalenessGraceDays {
			penalty := (days - stalenessGraceDays) / stalenessRampoutDays * stalenessPenaltyCap
			confidence -= math.Min(penalty, stalenessPenaltyCap)
		}
	}

	return clamp(confidence, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
