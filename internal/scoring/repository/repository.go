// Package repository persists manual score overrides. Overrides are
// append-only annotations; the latest one per lead shadows the computed
// profile for display.
package repository

import (
	"context"
	"errors"
	"fmt"

	"estatecrm_backend/internal/scoring/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OverrideWriter records manual score overrides.
type OverrideWriter interface {
	Insert(ctx context.Context, override domain.ScoreOverride) (domain.ScoreOverride, error)
}

// OverrideReader reads back recorded overrides.
type OverrideReader interface {
	// GetLatestByLead returns the most recent override for a lead.
	// The boolean reports whether one exists.
	GetLatestByLead(ctx context.Context, leadID uuid.UUID) (domain.ScoreOverride, bool, error)
	ListByLead(ctx context.Context, leadID uuid.UUID) ([]domain.ScoreOverride, error)
}

// Repository combines override persistence operations.
type Repository interface {
	OverrideWriter
	OverrideReader
}

// Repo implements Repository with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new scoring repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Repository = (*Repo)(nil)

// Insert records an override and returns the stored row.
func (r *Repo) Insert(ctx context.Context, override domain.ScoreOverride) (domain.ScoreOverride, error) {
	query := `
		INSERT INTO lead_score_overrides (id, lead_id, override_score, reason, actor_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, lead_id, override_score, reason, actor_id, created_at`

	var out domain.ScoreOverride
	err := r.pool.QueryRow(ctx, query,
		uuid.New(), override.LeadID, override.OverrideScore, override.Reason, override.ActorID,
	).Scan(&out.ID, &out.LeadID, &out.OverrideScore, &out.Reason, &out.ActorID, &out.CreatedAt)
	if err != nil {
		return domain.ScoreOverride{}, fmt.Errorf("insert score override: %w", err)
	}
	return out, nil
}

// GetLatestByLead returns the newest override for a lead, if any.
func (r *Repo) GetLatestByLead(ctx context.Context, leadID uuid.UUID) (domain.ScoreOverride, bool, error) {
	query := `
		SELECT id, lead_id, override_score, reason, actor_id, created_at
		FROM lead_score_overrides
		WHERE lead_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var out domain.ScoreOverride
	err := r.pool.QueryRow(ctx, query, leadID).Scan(
		&out.ID, &out.LeadID, &out.OverrideScore, &out.Reason, &out.ActorID, &out.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScoreOverride{}, false, nil
	}
	if err != nil {
		return domain.ScoreOverride{}, false, fmt.Errorf("get latest score override: %w", err)
	}
	return out, true, nil
}

// ListByLead returns every override for a lead, newest first.
func (r *Repo) ListByLead(ctx context.Context, leadID uuid.UUID) ([]domain.ScoreOverride, error) {
	query := `
		SELECT id, lead_id, override_score, reason, actor_id, created_at
		FROM lead_score_overrides
		WHERE lead_id = $1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("list score overrides: %w", err)
	}
	defer rows.Close()

	var out []domain.ScoreOverride
	for rows.Next() {
		var o domain.ScoreOverride
		if err := rows.Scan(&o.ID, &o.LeadID, &o.OverrideScore, &o.Reason, &o.ActorID, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan score override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
