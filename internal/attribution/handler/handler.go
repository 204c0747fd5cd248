// Package handler exposes the attribution HTTP API.
package handler

import (
	"net/http"

	"estatecrm_backend/internal/attribution/domain"
	"estatecrm_backend/internal/attribution/service"
	"estatecrm_backend/internal/attribution/transport"
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
	calc     *service.Calculator
	registry *service.Registry
	val      *validator.Validator
}

func New(calc *service.Calculator, registry *service.Registry, val *validator.Validator) *Handler {
	return &Handler{calc: calc, registry: registry, val: val}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/calculate", h.Calculate)
	rg.POST("/compare", h.Compare)
	rg.GET("/models", h.ListModels)
	rg.POST("/models", h.RegisterModel)
	rg.GET("/models/:id", h.GetModel)
	rg.PUT("/models/:id", h.UpdateModel)
	rg.DELETE("/models/:id", h.DeleteModel)
}

func (h *Handler) Calculate(c *gin.Context) {
	var req transport.CalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	leadID, err := uuid.Parse(req.LeadID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid lead id", nil)
		return
	}

	result, err := h.calc.Attribute(c.Request.Context(), service.ConversionInput{
		LeadID:          leadID,
		ConversionID:    req.ConversionID,
		ConversionType:  req.ConversionType,
		ConversionValue: req.ConversionValue,
		Touchpoints:     toTouchpoints(req.Touchpoints),
		ModelID:         req.ModelID,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Compare(c *gin.Context) {
	var req transport.CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	conversions := make([]service.ConversionInput, 0, len(req.Conversions))
	for _, conv := range req.Conversions {
		leadID, err := uuid.Parse(conv.LeadID)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, "invalid lead id: "+conv.LeadID, nil)
			return
		}
		conversions = append(conversions, service.ConversionInput{
			LeadID:          leadID,
			ConversionID:    conv.ConversionID,
			ConversionType:  conv.ConversionType,
			ConversionValue: conv.ConversionValue,
			Touchpoints:     toTouchpoints(conv.Touchpoints),
		})
	}

	aggregates, err := h.calc.CompareModels(c.Request.Context(), conversions)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.CompareResponse{Models: aggregates})
}

func (h *Handler) ListModels(c *gin.Context) {
	models := h.registry.List()
	httpkit.OK(c, transport.ModelListResponse{Models: models, Count: len(models)})
}

func (h *Handler) GetModel(c *gin.Context) {
	model, err := h.registry.Get(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, model)
}

func (h *Handler) RegisterModel(c *gin.Context) {
	req, ok := h.bindModel(c)
	if !ok {
		return
	}

	model, err := h.registry.Register(c.Request.Context(), req)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.Created(c, model)
}

func (h *Handler) UpdateModel(c *gin.Context) {
	req, ok := h.bindModel(c)
	if !ok {
		return
	}
	req.ID = c.Param("id")

	model, err := h.registry.Update(c.Request.Context(), req)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, model)
}

func (h *Handler) DeleteModel(c *gin.Context) {
	if err := h.registry.Remove(c.Request.Context(), c.Param("id")); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) bindModel(c *gin.Context) (domain.Model, bool) {
	var req transport.ModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return domain.Model{}, false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return domain.Model{}, false
	}

	model := domain.Model{
		ID:     req.ID,
		Name:   req.Name,
		Type:   domain.ModelType(req.Type),
		Config: req.Config,
		Active: true,
	}
	if req.Active != nil {
		model.Active = *req.Active
	}
	return model, true
}

func toTouchpoints(in []transport.TouchpointRequest) []domain.Touchpoint {
	out := make([]domain.Touchpoint, len(in))
	for i, tp := range in {
		position := tp.Position
		if position == 0 {
			position = i + 1
		}
		out[i] = domain.Touchpoint{
			TemplateID:      tp.TemplateID,
			InteractionType: tp.InteractionType,
			Timestamp:       tp.Timestamp.UTC(),
			Position:        position,
		}
	}
	return out
}
