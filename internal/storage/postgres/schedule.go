package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEventNotFound is returned when a schedule event lookup or delete matches
// nothing.
var ErrEventNotFound = errors.New("schedule event not found")

// ScheduleEvent is one entry on the office calendar.
type ScheduleEvent struct {
	ID          int64
	Title       string
	Description string
	StartsAt    time.Time
	EndsAt      time.Time
	CreatedBy   string
	CreatedAt   time.Time
}

// ScheduleRepository provides office calendar persistence.
type ScheduleRepository struct {
	db *pgxpool.Pool
}

// NewScheduleRepository creates a ScheduleRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewScheduleRepository(db *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Create inserts an event and returns it with ID and CreatedAt set.
//
// Precondition: title and createdBy must be non-empty; startsAt must be set.
func (r *ScheduleRepository) Create(ctx context.Context, ev ScheduleEvent) (ScheduleEvent, error) {
	var out ScheduleEvent
	err := r.db.QueryRow(ctx,
		`INSERT INTO schedule_events (title, description, starts_at, ends_at, created_by)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, title, description, starts_at, ends_at, created_by, created_at`,
		ev.Title, ev.Description, ev.StartsAt, ev.EndsAt, ev.CreatedBy,
	).Scan(&out.ID, &out.Title, &out.Description, &out.StartsAt, &out.EndsAt, &out.CreatedBy, &out.CreatedAt)
	if err != nil {
		return ScheduleEvent{}, fmt.Errorf("inserting schedule event: %w", err)
	}
	return out, nil
}

// ListUpcoming returns events ending at or after the given time, soonest
// first, capped at limit. A non-positive limit falls back to 50.
func (r *ScheduleRepository) ListUpcoming(ctx context.Context, after time.Time, limit int) ([]ScheduleEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, title, description, starts_at, ends_at, created_by, created_at
		 FROM schedule_events
		 WHERE ends_at >= $1
		 ORDER BY starts_at ASC, id ASC
		 LIMIT $2`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying schedule events: %w", err)
	}
	defer rows.Close()

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScheduleEvent, error) {
		var ev ScheduleEvent
		err := row.Scan(&ev.ID, &ev.Title, &ev.Description, &ev.StartsAt, &ev.EndsAt, &ev.CreatedBy, &ev.CreatedAt)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning schedule events: %w", err)
	}
	return events, nil
}

// Delete removes an event by ID.
//
// Postcondition: Returns ErrEventNotFound when no row matched.
func (r *ScheduleRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM schedule_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting schedule event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}
