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

// Repo implements the Repository interface with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new funnel repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

const eventColumns = `id, lead_id, event_type, description, event_data, actor_id, manual, occurred_at, created_at`

// Append inserts a conversion event. A unique index on
// (lead_id, event_type, occurred_at) makes replays idempotent: the insert
// is skipped and the previously stored row is returned instead.
func (r *Repo) Append(ctx context.Context, params AppendEventParams) (ConversionEvent, error) {
	query := `
		INSERT INTO conversion_events (id, lead_id, event_type, description, event_data, actor_id, manual, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (lead_id, event_type, occurred_at) DO NOTHING
		RETURNING ` + eventColumns

	id := uuid.New()
	eventData := params.EventData
	if eventData == nil {
		eventData = []byte("{}")
	}

	var ev ConversionEvent
	err := r.pool.QueryRow(ctx, query,
		id, params.LeadID, params.EventType, params.Description, eventData,
		params.ActorID, params.Manual, params.OccurredAt,
	).Scan(
		&ev.ID, &ev.LeadID, &ev.EventType, &ev.Description, &ev.EventData,
		&ev.ActorID, &ev.Manual, &ev.OccurredAt, &ev.CreatedAt,
	)
	if err == nil {
		return ev, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ConversionEvent{}, fmt.Errorf("append conversion event: %w", err)
	}

	// Conflict: the identical event was already logged. Return it.
	existing := `
		SELECT ` + eventColumns + `
		FROM conversion_events
		WHERE lead_id = $1 AND event_type = $2 AND occurred_at = $3`

	err = r.pool.QueryRow(ctx, existing, params.LeadID, params.EventType, params.OccurredAt).Scan(
		&ev.ID, &ev.LeadID, &ev.EventType, &ev.Description, &ev.EventData,
		&ev.ActorID, &ev.Manual, &ev.OccurredAt, &ev.CreatedAt,
	)
	if err != nil {
		return ConversionEvent{}, fmt.Errorf("load duplicate conversion event: %w", err)
	}
	return ev, nil
}

// ListByLead returns a lead's events ordered by timestamp then insertion.
func (r *Repo) ListByLead(ctx context.Context, leadID uuid.UUID) ([]ConversionEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM conversion_events
		WHERE lead_id = $1
		ORDER BY occurred_at ASC, created_at ASC`

	rows, err := r.pool.Query(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("list events by lead: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListBetween returns all events in [from, to]. Zero times are unbounded.
func (r *Repo) ListBetween(ctx context.Context, from, to time.Time) ([]ConversionEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM conversion_events
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at <= $2)
		ORDER BY occurred_at ASC, created_at ASC`

	var fromArg, toArg *time.Time
	if !from.IsZero() {
		fromArg = &from
	}
	if !to.IsZero() {
		toArg = &to
	}

	rows, err := r.pool.Query(ctx, query, fromArg, toArg)
	if err != nil {
		return nil, fmt.Errorf("list events between: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]ConversionEvent, error) {
	var out []ConversionEvent
	for rows.Next() {
		var ev ConversionEvent
		if err := rows.Scan(
			&ev.ID, &ev.LeadID, &ev.EventType, &ev.Description, &ev.EventData,
			&ev.ActorID, &ev.Manual, &ev.OccurredAt, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversion event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetState returns the conversion state for a lead. The boolean reports
// whether a state row exists yet.
func (r *Repo) GetState(ctx context.Context, leadID uuid.UUID) (LeadConversionState, bool, error) {
	query := `
		SELECT lead_id, current_stage, current_stage_order, last_transition_at, updated_at
		FROM lead_conversion_state
		WHERE lead_id = $1`

	var st LeadConversionState
	err := r.pool.QueryRow(ctx, query, leadID).Scan(
		&st.LeadID, &st.CurrentStage, &st.CurrentStageOrder, &st.LastTransitionAt, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeadConversionState{}, false, nil
	}
	if err != nil {
		return LeadConversionState{}, false, fmt.Errorf("get conversion state: %w", err)
	}
	return st, true, nil
}

// ListStates returns the conversion state of every lead.
func (r *Repo) ListStates(ctx context.Context) ([]LeadConversionState, error) {
	query := `
		SELECT lead_id, current_stage, current_stage_order, last_transition_at, updated_at
		FROM lead_conversion_state
		ORDER BY updated_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list conversion states: %w", err)
	}
	defer rows.Close()

	var out []LeadConversionState
	for rows.Next() {
		var st LeadConversionState
		if err := rows.Scan(&st.LeadID, &st.CurrentStage, &st.CurrentStageOrder, &st.LastTransitionAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversion state: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpsertState writes the single logical state row for a lead.
func (r *Repo) UpsertState(ctx context.Context, state LeadConversionState) error {
	query := `
		INSERT INTO lead_conversion_state (lead_id, current_stage, current_stage_order, last_transition_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (lead_id) DO UPDATE SET
			current_stage = EXCLUDED.current_stage,
			current_stage_order = EXCLUDED.current_stage_order,
			last_transition_at = EXCLUDED.last_transition_at,
			updated_at = now()`

	_, err := r.pool.Exec(ctx, query, state.LeadID, state.CurrentStage, state.CurrentStageOrder, state.LastTransitionAt)
	if err != nil {
		return fmt.Errorf("upsert conversion state: %w", err)
	}
	return nil
}
