// Package transport defines the export job API payloads.
package transport

import (
	"time"

	"estatecrm_backend/internal/exports/repository"
)

// CreateExportRequest starts an analytics export. From and To are
// RFC3339; either side may be omitted for an unbounded range.
type CreateExportRequest struct {
	From        string `json:"from" binding:"omitempty"`
	To          string `json:"to" binding:"omitempty"`
	RequestedBy string `json:"requestedBy" binding:"required"`
}

// ExportJobResponse is the API shape of an export job.
type ExportJobResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
	RequestedBy string     `json:"requestedBy"`
	FilePath    string     `json:"filePath,omitempty"`
	RowCount    int        `json:"rowCount"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// FromJob maps a repository row to the API shape.
func FromJob(job repository.ExportJob) ExportJobResponse {
	return ExportJobResponse{
		ID:          job.ID.String(),
		Status:      job.Status,
		From:        job.From,
		To:          job.To,
		RequestedBy: job.RequestedBy,
		FilePath:    job.FilePath,
		RowCount:    job.RowCount,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
	}
}
