// Package repository persists attribution models so registered models
// survive restarts. The registry hydrates from here on startup.
package repository

import (
	"context"
	"errors"
	"fmt"

	"estatecrm_backend/internal/attribution/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the attribution model store.
type Repository interface {
	Upsert(ctx context.Context, model domain.Model) (domain.Model, error)
	GetByID(ctx context.Context, id string) (domain.Model, bool, error)
	List(ctx context.Context) ([]domain.Model, error)
	Delete(ctx context.Context, id string) error
}

// Repo implements Repository with PostgreSQL. Model config is stored as
// a jsonb column; pgx marshals it through the struct's json tags.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new attribution repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Repository = (*Repo)(nil)

const modelColumns = `id, name, type, config, active, created_at, updated_at`

// Upsert inserts or replaces a model by id and returns the stored row.
func (r *Repo) Upsert(ctx context.Context, model domain.Model) (domain.Model, error) {
	query := `
		INSERT INTO attribution_models (id, name, type, config, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			config = EXCLUDED.config,
			active = EXCLUDED.active,
			updated_at = now()
		RETURNING ` + modelColumns

	var out domain.Model
	err := r.pool.QueryRow(ctx, query, model.ID, model.Name, model.Type, model.Config, model.Active).Scan(
		&out.ID, &out.Name, &out.Type, &out.Config, &out.Active, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return domain.Model{}, fmt.Errorf("upsert attribution model: %w", err)
	}
	return out, nil
}

// GetByID returns a model. The boolean reports whether it exists.
func (r *Repo) GetByID(ctx context.Context, id string) (domain.Model, bool, error) {
	query := `SELECT ` + modelColumns + ` FROM attribution_models WHERE id = $1`

	var out domain.Model
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&out.ID, &out.Name, &out.Type, &out.Config, &out.Active, &out.CreatedAt, &out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Model{}, false, nil
	}
	if err != nil {
		return domain.Model{}, false, fmt.Errorf("get attribution model: %w", err)
	}
	return out, true, nil
}

// List returns every stored model.
func (r *Repo) List(ctx context.Context) ([]domain.Model, error) {
	query := `SELECT ` + modelColumns + ` FROM attribution_models ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list attribution models: %w", err)
	}
	defer rows.Close()

	var out []domain.Model
	for rows.Next() {
		var m domain.Model
		if err := rows.Scan(&m.ID, &m.Name, &m.Type, &m.Config, &m.Active, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan attribution model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes a model by id.
func (r *Repo) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM attribution_models WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete attribution model: %w", err)
	}
	return nil
}
