// Package service implements analytics export jobs: a request creates a
// pending job row and queues a background task; the worker materializes
// the conversion event log for the requested date range as a CSV file.
package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"estatecrm_backend/internal/exports/repository"
	funnelrepo "estatecrm_backend/internal/funnel/repository"
	"estatecrm_backend/platform/apperr"
	"estatecrm_backend/platform/logger"

	"github.com/google/uuid"
)

// cancelCheckRows is how many CSV rows are written between cancellation
// checks. A cancelled job stops within one chunk.
const cancelCheckRows = 500

const listJobsLimit = 50

// Enqueuer queues the background task that executes a job.
type Enqueuer interface {
	EnqueueAnalyticsExport(ctx context.Context, jobID string) error
}

// EventReader reads the conversion event log for a date range.
type EventReader interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]funnelrepo.ConversionEvent, error)
}

type Service struct {
	repo   repository.Repository
	events EventReader
	tasks  Enqueuer
	dir    string
	log    *logger.Logger
}

type CreateJobParams struct {
	From        time.Time
	To          time.Time
	RequestedBy string
}

func New(repo repository.Repository, events EventReader, tasks Enqueuer, dir string, log *logger.Logger) *Service {
	return &Service{repo: repo, events: events, tasks: tasks, dir: dir, log: log}
}

// CreateJob records a pending export job and queues it for the worker.
func (s *Service) CreateJob(ctx context.Context, params CreateJobParams) (repository.ExportJob, error) {
	if params.RequestedBy == "" {
		return repository.ExportJob{}, apperr.InvalidInput("requestedBy is required")
	}
	if !params.From.IsZero() && !params.To.IsZero() && params.To.Before(params.From) {
		return repository.ExportJob{}, apperr.InvalidInput("export range end precedes start")
	}

	job := repository.ExportJob{
		ID:          uuid.New(),
		Status:      repository.StatusPending,
		RequestedBy: params.RequestedBy,
	}
	if !params.From.IsZero() {
		from := params.From
		job.From = &from
	}
	if !params.To.IsZero() {
		to := params.To
		job.To = &to
	}

	if err := s.repo.Insert(ctx, job); err != nil {
		return repository.ExportJob{}, err
	}

	if err := s.tasks.EnqueueAnalyticsExport(ctx, job.ID.String()); err != nil {
		if markErr := s.repo.MarkFailed(ctx, job.ID, "enqueue failed"); markErr != nil {
			s.log.Error("failed to mark unqueueable export job", "jobId", job.ID, "error", markErr)
		}
		return repository.ExportJob{}, fmt.Errorf("enqueue export job: %w", err)
	}

	return job, nil
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (repository.ExportJob, error) {
	job, found, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return repository.ExportJob{}, err
	}
	if !found {
		return repository.ExportJob{}, apperr.NotFound("export job not found")
	}
	return job, nil
}

// ListJobs returns the most recent jobs.
func (s *Service) ListJobs(ctx context.Context) ([]repository.ExportJob, error) {
	return s.repo.List(ctx, listJobsLimit)
}

// CancelJob cancels a pending or running job. A job the worker has not
// picked up yet never runs; a running job discards its partial output.
func (s *Service) CancelJob(ctx context.Context, id uuid.UUID) (repository.ExportJob, error) {
	cancelled, err := s.repo.Cancel(ctx, id)
	if err != nil {
		return repository.ExportJob{}, err
	}
	if !cancelled {
		job, found, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return repository.ExportJob{}, err
		}
		if !found {
			return repository.ExportJob{}, apperr.NotFound("export job not found")
		}
		return repository.ExportJob{}, apperr.Conflict("export job already " + job.Status)
	}
	return s.GetJob(ctx, id)
}

// RunExport executes a job. Called from the worker. A job that is no
// longer pending (cancelled before pickup, or already claimed) is a
// no-op. Cancellation mid-run discards the partial file; the job row
// only reaches completed with the file fully written.
func (s *Service) RunExport(ctx context.Context, jobID uuid.UUID) error {
	claimed, err := s.repo.MarkRunning(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		s.log.Info("export job not pending, skipping", "jobId", jobID)
		return nil
	}

	job, found, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return s.fail(ctx, jobID, err)
	}
	if !found {
		return nil
	}

	filePath, rowCount, err := s.writeCSV(ctx, job)
	if err != nil {
		if errors.Is(err, errCancelled) {
			s.log.Info("export job cancelled mid-run", "jobId", jobID)
			return nil
		}
		return s.fail(ctx, jobID, err)
	}

	completed, err := s.repo.MarkCompleted(ctx, jobID, filePath, rowCount)
	if err != nil {
		return err
	}
	if !completed {
		// Cancelled between the last check and completion: discard.
		_ = os.Remove(filePath)
		return nil
	}

	s.log.Info("export job completed", "jobId", jobID, "rows", rowCount, "file", filePath)
	return nil
}

func (s *Service) fail(ctx context.Context, jobID uuid.UUID, cause error) error {
	if err := s.repo.MarkFailed(ctx, jobID, cause.Error()); err != nil {
		s.log.Error("failed to mark export job failed", "jobId", jobID, "error", err)
	}
	return cause
}

// errCancelled aborts writeCSV when the job row flips to cancelled.
var errCancelled = errors.New("export cancelled")

func (s *Service) writeCSV(ctx context.Context, job repository.ExportJob) (string, int, error) {
	var from, to time.Time
	if job.From != nil {
		from = *job.From
	}
	if job.To != nil {
		to = *job.To
	}

	events, err := s.events.ListBetween(ctx, from, to)
	if err != nil {
		return "", 0, err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", 0, err
	}

	finalPath := filepath.Join(s.dir, "conversion_events_"+job.ID.String()+".csv")
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		if f != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	w := csv.NewWriter(f)
	header := []string{"event_id", "lead_id", "event_type", "description", "actor_id", "manual", "occurred_at", "created_at"}
	if err := w.Write(header); err != nil {
		return "", 0, err
	}

	rows := 0
	for _, ev := range events {
		if rows%cancelCheckRows == 0 {
			if err := s.checkCancelled(ctx, job.ID); err != nil {
				return "", 0, err
			}
		}
		record := []string{
			ev.ID.String(),
			ev.LeadID.String(),
			ev.EventType,
			ev.Description,
			ev.ActorID,
			strconv.FormatBool(ev.Manual),
			ev.OccurredAt.UTC().Format(time.RFC3339),
			ev.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return "", 0, err
		}
		rows++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		f = nil
		_ = os.Remove(tmpPath)
		return "", 0, err
	}
	f = nil

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", 0, err
	}
	return finalPath, rows, nil
}

func (s *Service) checkCancelled(ctx context.Context, jobID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job, found, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !found || job.Status == repository.StatusCancelled {
		return errCancelled
	}
	return nil
}
