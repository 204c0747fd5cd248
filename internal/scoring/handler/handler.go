// Package handler exposes the lead scoring HTTP API.
package handler

import (
	"net/http"

	"estatecrm_backend/internal/scoring/domain"
	"estatecrm_backend/internal/scoring/service"
	"estatecrm_backend/internal/scoring/transport"
	"estatecrm_backend/platform/httpkit"
	"estatecrm_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

type Handler struct {
	svc *service.Service
	val *validator.Validator
}

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func (h *Handler) RegisterRoutes(leads *gin.RouterGroup) {
	leads.POST("/score", h.Score)
	leads.POST("/score/conversion", h.ScoreWithConversion)
	leads.POST("/:id/score/override", h.Override)
	leads.GET("/:id/score/overrides", h.ListOverrides)
	leads.POST("/:id/score/recalculate", h.Recalculate)
}

func (h *Handler) Score(c *gin.Context) {
	attrs, ok := h.bindAttributes(c)
	if !ok {
		return
	}

	result, err := h.svc.Score(c.Request.Context(), attrs)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.ScoreResponse{Profile: result.Profile, Override: result.Override})
}

func (h *Handler) ScoreWithConversion(c *gin.Context) {
	attrs, ok := h.bindAttributes(c)
	if !ok {
		return
	}

	result, err := h.svc.ScoreWithConversion(c.Request.Context(), attrs)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.ScoreResponse{Profile: result.Profile, Override: result.Override})
}

func (h *Handler) Override(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.OverrideScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	override, err := h.svc.RecordOverride(c.Request.Context(), leadID, req.OverrideScore, req.Reason, req.ActorID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.Created(c, override)
}

// Recalculate queues a background recomputation of the lead's score.
// Returns 202: the work happens on the worker, not in this request.
func (h *Handler) Recalculate(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	if err := h.svc.RequestRecalculation(c.Request.Context(), leadID); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusAccepted, gin.H{"leadId": leadID, "status": "queued"})
}

func (h *Handler) ListOverrides(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	overrides, err := h.svc.ListOverrides(c.Request.Context(), leadID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, gin.H{"overrides": overrides, "count": len(overrides)})
}

func (h *Handler) bindAttributes(c *gin.Context) (domain.LeadAttributes, bool) {
	var req transport.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return domain.LeadAttributes{}, false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return domain.LeadAttributes{}, false
	}

	leadID, err := uuid.Parse(req.LeadID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid lead id", nil)
		return domain.LeadAttributes{}, false
	}

	attrs := domain.LeadAttributes{
		LeadID:          leadID,
		Budget:          req.Budget,
		Timeline:        req.Timeline,
		Location:        req.Location,
		PropertyType:    req.PropertyType,
		Qualification:   domain.QualificationStatus(req.Qualification),
		EngagementScore: req.EngagementScore,
		InquiryCount:    req.InquiryCount,
	}
	if req.LastActivityAt != nil {
		attrs.LastActivityAt = req.LastActivityAt.UTC()
	}
	if req.Market != nil {
		attrs.Market = &domain.MarketContext{
			AveragePrice:     req.Market.AveragePrice,
			Trend:            req.Market.Trend,
			CompetitionCount: req.Market.CompetitionCount,
		}
	}
	return attrs, true
}
