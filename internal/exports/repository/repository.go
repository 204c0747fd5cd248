// Package repository persists analytics export jobs.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Export job lifecycle statuses. Status transitions are enforced with
// guarded UPDATEs so concurrent workers and cancellations cannot race a
// job into an inconsistent state.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// ExportJob is a row in export_jobs.
type ExportJob struct {
	ID          uuid.UUID
	Status      string
	From        *time.Time
	To          *time.Time
	RequestedBy string
	FilePath    string
	RowCount    int
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Repository is the persistence port for export jobs.
type Repository interface {
	Insert(ctx context.Context, job ExportJob) error
	GetByID(ctx context.Context, id uuid.UUID) (ExportJob, bool, error)
	List(ctx context.Context, limit int) ([]ExportJob, error)
	// MarkRunning claims a pending job. Returns false when the job is not
	// pending anymore (already claimed, cancelled, or missing).
	MarkRunning(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkCompleted finishes a running job. Returns false when the job was
	// cancelled while running.
	MarkCompleted(ctx context.Context, id uuid.UUID, filePath string, rowCount int) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	// Cancel moves a pending or running job to cancelled. Returns false
	// when the job is already in a terminal state.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}

// Repo implements Repository with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new export job repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Repository = (*Repo)(nil)

const jobColumns = `id, status, from_ts, to_ts, requested_by, file_path, row_count, error, created_at, updated_at, completed_at`

func (r *Repo) Insert(ctx context.Context, job ExportJob) error {
	query := `
		INSERT INTO export_jobs (id, status, from_ts, to_ts, requested_by)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.pool.Exec(ctx, query, job.ID, job.Status, job.From, job.To, job.RequestedBy)
	if err != nil {
		return fmt.Errorf("insert export job: %w", err)
	}
	return nil
}

func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (ExportJob, bool, error) {
	query := `SELECT ` + jobColumns + ` FROM export_jobs WHERE id = $1`

	job, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ExportJob{}, false, nil
	}
	if err != nil {
		return ExportJob{}, false, fmt.Errorf("get export job: %w", err)
	}
	return job, true, nil
}

func (r *Repo) List(ctx context.Context, limit int) ([]ExportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM export_jobs ORDER BY created_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list export jobs: %w", err)
	}
	defer rows.Close()

	var out []ExportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *Repo) MarkRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE export_jobs
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`

	tag, err := r.pool.Exec(ctx, query, id, StatusRunning, StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark export job running: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repo) MarkCompleted(ctx context.Context, id uuid.UUID, filePath string, rowCount int) (bool, error) {
	query := `
		UPDATE export_jobs
		SET status = $2, file_path = $3, row_count = $4, updated_at = now(), completed_at = now()
		WHERE id = $1 AND status = $5`

	tag, err := r.pool.Exec(ctx, query, id, StatusCompleted, filePath, rowCount, StatusRunning)
	if err != nil {
		return false, fmt.Errorf("mark export job completed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repo) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE export_jobs
		SET status = $2, error = $3, updated_at = now(), completed_at = now()
		WHERE id = $1 AND status IN ($4, $5)`

	_, err := r.pool.Exec(ctx, query, id, StatusFailed, message, StatusPending, StatusRunning)
	if err != nil {
		return fmt.Errorf("mark export job failed: %w", err)
	}
	return nil
}

func (r *Repo) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE export_jobs
		SET status = $2, updated_at = now(), completed_at = now()
		WHERE id = $1 AND status IN ($3, $4)`

	tag, err := r.pool.Exec(ctx, query, id, StatusCancelled, StatusPending, StatusRunning)
	if err != nil {
		return false, fmt.Errorf("cancel export job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanJob(row pgx.Row) (ExportJob, error) {
	var job ExportJob
	err := row.Scan(
		&job.ID, &job.Status, &job.From, &job.To, &job.RequestedBy,
		&job.FilePath, &job.RowCount, &job.Error,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	return job, err
}
