package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PutEvent writes a calendar event as a whole-record replacement. The status
// enum is validated at this boundary; field-level date/time consistency is an
// edit-boundary concern (CalendarEvent.Validate), not enforced here because
// extraction may legitimately emit incomplete drafts.
func (s *SQLiteStore) PutEvent(ctx context.Context, e *CalendarEvent) error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.Status == "" {
		e.Status = EventDraft
	}
	if !e.Status.Valid() {
		return fmt.Errorf("invalid event status %q", e.Status)
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO events
			(id, title, description, location, all_day, start_date, start_time, end_date, end_time, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Description, e.Location, boolToInt(e.AllDay),
		e.StartDate, e.StartTime, e.EndDate, e.EndTime, string(e.Status),
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("putting event %s: %w", e.ID, err)
	}
	return nil
}

// GetEvent retrieves an event by id. Returns (nil, nil) when absent.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*CalendarEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, location, all_day, start_date, start_time, end_date, end_time, status, created_at, updated_at
		 FROM events WHERE id = ?`, id)

	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting event %s: %w", id, err)
	}
	return e, nil
}

// ListEvents returns events newest-first, optionally filtered by status.
func (s *SQLiteStore) ListEvents(ctx context.Context, opts ListOpts) ([]*CalendarEvent, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, title, description, location, all_day, start_date, start_time, end_date, end_time, status, created_at, updated_at
		 FROM events`
	args := []interface{}{}
	if opts.Status != "" {
		if !opts.Status.Valid() {
			return nil, fmt.Errorf("invalid status filter %q", opts.Status)
		}
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []*CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteEvent removes an event. Deleting an absent id is a no-op.
func (s *SQLiteStore) DeleteEvent(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting event %s: %w", id, err)
	}
	return nil
}

// SetEventStatus transitions an event to a new lifecycle state.
func (s *SQLiteStore) SetEventStatus(ctx context.Context, id string, status EventStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid event status %q", status)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("setting event %s status=%s: %w", id, status, err)
	}
	return nil
}

func scanEvent(sc scanner) (*CalendarEvent, error) {
	e := &CalendarEvent{}
	var allDay int
	var status string
	err := sc.Scan(&e.ID, &e.Title, &e.Description, &e.Location, &allDay,
		&e.StartDate, &e.StartTime, &e.EndDate, &e.EndTime, &status,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.AllDay = allDay != 0
	e.Status = EventStatus(status)
	return e, nil
}
