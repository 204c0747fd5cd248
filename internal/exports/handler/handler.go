// Package handler exposes the analytics export HTTP API.
package handler

import (
	"net/http"
	"time"

	"estatecrm_backend/internal/exports/service"
	"estatecrm_backend/internal/exports/transport"
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

func (h *Handler) RegisterRoutes(exports *gin.RouterGroup) {
	exports.POST("", h.Create)
	exports.GET("", h.List)
	exports.GET("/:id", h.Get)
	exports.POST("/:id/cancel", h.Cancel)
}

func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	from, ok := parseOptionalTime(req.From)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "invalid from timestamp", nil)
		return
	}
	to, ok := parseOptionalTime(req.To)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, "invalid to timestamp", nil)
		return
	}

	job, err := h.svc.CreateJob(c.Request.Context(), service.CreateJobParams{
		From:        from,
		To:          to,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.Created(c, transport.FromJob(job))
}

func (h *Handler) List(c *gin.Context) {
	jobs, err := h.svc.ListJobs(c.Request.Context())
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	out := make([]transport.ExportJobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, transport.FromJob(job))
	}
	httpkit.OK(c, gin.H{"jobs": out})
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	job, err := h.svc.GetJob(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.FromJob(job))
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	job, err := h.svc.CancelJob(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, transport.FromJob(job))
}

func parseOptionalTime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
