// Package handler exposes the conversion funnel HTTP API.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"estatecrm_backend/internal/funnel/service"
	"estatecrm_backend/internal/funnel/transport"
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
	svc     *service.Service
	metrics *service.Metrics
	val     *validator.Validator
}

func New(svc *service.Service, metrics *service.Metrics, val *validator.Validator) *Handler {
	return &Handler{svc: svc, metrics: metrics, val: val}
}

func (h *Handler) RegisterRoutes(leads, funnel *gin.RouterGroup) {
	leads.POST("/:id/events", h.LogEvent)
	leads.GET("/:id/events", h.ListEvents)
	leads.GET("/:id/funnel", h.GetState)
	leads.POST("/:id/funnel/override", h.OverrideStage)
	leads.POST("/events/batch", h.LogEventBatch)

	funnel.GET("", h.GetFunnel)
	funnel.GET("/metrics", h.GetMetrics)
}

func (h *Handler) LogEvent(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.LogEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.LogEvent(c.Request.Context(), toLogEventParams(leadID, req.EventType, req.Description, req.EventData, req.ActorID, req.OccurredAt))
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.Created(c, logEventResponse(leadID, req.EventType, result))
}

func (h *Handler) LogEventBatch(c *gin.Context) {
	var req transport.BatchLogEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	items := make([]service.LogEventParams, 0, len(req.Events))
	for _, item := range req.Events {
		leadID, err := uuid.Parse(item.LeadID)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, "invalid lead id: "+item.LeadID, nil)
			return
		}
		items = append(items, toLogEventParams(leadID, item.EventType, item.Description, item.EventData, item.ActorID, item.OccurredAt))
	}

	outcomes := h.svc.LogEventBatch(c.Request.Context(), items)

	resp := transport.BatchLogEventsResponse{Results: make([]transport.BatchItemResult, 0, len(outcomes))}
	for _, outcome := range outcomes {
		item := transport.BatchItemResult{
			LeadID:    outcome.Params.LeadID.String(),
			EventType: outcome.Params.EventType,
		}
		if outcome.Err != nil {
			item.Error = outcome.Err.Error()
			resp.Failed++
		} else {
			id := outcome.Result.EventID
			item.EventID = &id
			item.StageChanged = outcome.Result.StageChanged
			if outcome.Result.StageChanged {
				stage := outcome.Result.NewStage
				item.NewStage = &stage
			}
			resp.Succeeded++
		}
		resp.Results = append(resp.Results, item)
	}

	// 200 even on partial failure; per-item outcomes carry the detail.
	httpkit.OK(c, resp)
}

func (h *Handler) OverrideStage(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.OverrideStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	state, err := h.svc.OverrideStage(c.Request.Context(), leadID, req.Stage, req.Reason, req.ActorID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, transport.StateResponse{
		LeadID:            state.LeadID,
		CurrentStage:      state.CurrentStage,
		CurrentStageOrder: state.CurrentStageOrder,
		LastTransitionAt:  state.LastTransitionAt,
	})
}

func (h *Handler) GetState(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	state, err := h.svc.GetState(c.Request.Context(), leadID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, transport.StateResponse{
		LeadID:            state.LeadID,
		CurrentStage:      state.CurrentStage,
		CurrentStageOrder: state.CurrentStageOrder,
		LastTransitionAt:  state.LastTransitionAt,
	})
}

func (h *Handler) ListEvents(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	events, err := h.svc.ListEvents(c.Request.Context(), leadID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, gin.H{"events": events, "count": len(events)})
}

func (h *Handler) GetFunnel(c *gin.Context) {
	snapshot, err := h.metrics.GetConversionFunnel(c.Request.Context())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, snapshot)
}

func (h *Handler) GetMetrics(c *gin.Context) {
	from, ok := parseTimeQuery(c, "from")
	if !ok {
		return
	}
	to, ok := parseTimeQuery(c, "to")
	if !ok {
		return
	}

	metrics, err := h.metrics.GetConversionMetrics(c.Request.Context(), from, to)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, metrics)
}

func parseTimeQuery(c *gin.Context, name string) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid "+name+" timestamp, want RFC3339", nil)
		return time.Time{}, false
	}
	return t, true
}

func toLogEventParams(leadID uuid.UUID, eventType, description string, data map[string]interface{}, actorID string, occurredAt *time.Time) service.LogEventParams {
	params := service.LogEventParams{
		LeadID:      leadID,
		EventType:   eventType,
		Description: description,
		ActorID:     actorID,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err == nil {
			params.EventData = raw
		}
	}
	if occurredAt != nil {
		params.OccurredAt = occurredAt.UTC()
	}
	return params
}

func logEventResponse(leadID uuid.UUID, eventType string, result service.LogEventResult) transport.LogEventResponse {
	resp := transport.LogEventResponse{
		EventID:      result.EventID,
		LeadID:       leadID,
		EventType:    eventType,
		StageChanged: result.StageChanged,
	}
	if result.StageChanged {
		stage := result.NewStage
		order := result.NewStageOrder
		resp.NewStage = &stage
		resp.NewStageOrder = &order
	}
	return resp
}
