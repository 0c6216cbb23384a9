package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AddItem persists an inbound item. Writes are whole-record replacements, so
// a racing duplicate write is an idempotent overwrite of identical data.
func (s *SQLiteStore) AddItem(ctx context.Context, it *InboundItem) error {
	if it.ID == "" {
		return fmt.Errorf("item id is required")
	}
	if it.CapturedAt.IsZero() {
		it.CapturedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO items
			(id, source, app_name, title, body, big_body, sub_text, category, group_key, ts, important, captured_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.Source, it.AppName, it.Title, it.Body, it.BigBody, it.SubText,
		it.Category, it.GroupKey, it.Timestamp.UTC(), boolToInt(it.Important), it.CapturedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("adding item %s: %w", it.ID, err)
	}
	return nil
}

// GetItem retrieves an item by id. Returns (nil, nil) when absent.
func (s *SQLiteStore) GetItem(ctx context.Context, id string) (*InboundItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, app_name, title, body, big_body, sub_text, category, group_key, ts, important, captured_at
		 FROM items WHERE id = ?`, id)

	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item %s: %w", id, err)
	}
	return it, nil
}

// ListItems returns items newest-first.
func (s *SQLiteStore) ListItems(ctx context.Context, opts ListOpts) ([]*InboundItem, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, app_name, title, body, big_body, sub_text, category, group_key, ts, important, captured_at
		 FROM items ORDER BY ts DESC LIMIT ? OFFSET ?`, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []*InboundItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// DeleteItem removes an item. Deleting an absent id is a no-op.
func (s *SQLiteStore) DeleteItem(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting item %s: %w", id, err)
	}
	return nil
}

// MarkImportant flips the importance flag, the only mutable item field.
func (s *SQLiteStore) MarkImportant(ctx context.Context, id string, important bool) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE items SET important = ? WHERE id = ?`, boolToInt(important), id); err != nil {
		return fmt.Errorf("marking item %s important=%v: %w", id, important, err)
	}
	return nil
}

// PreviousByGroupAndTitle fetches items in the same thread (group key and
// title) strictly before the given origin timestamp, newest-first, bounded
// by limit. This is the context assembler's history query.
func (s *SQLiteStore) PreviousByGroupAndTitle(ctx context.Context, groupKey, title string, before time.Time, limit int) ([]*InboundItem, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, app_name, title, body, big_body, sub_text, category, group_key, ts, important, captured_at
		 FROM items
		 WHERE group_key = ? AND title = ? AND ts < ?
		 ORDER BY ts DESC
		 LIMIT ?`, groupKey, title, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying thread history: %w", err)
	}
	defer rows.Close()

	var items []*InboundItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(sc scanner) (*InboundItem, error) {
	it := &InboundItem{}
	var important int
	err := sc.Scan(&it.ID, &it.Source, &it.AppName, &it.Title, &it.Body, &it.BigBody,
		&it.SubText, &it.Category, &it.GroupKey, &it.Timestamp, &important, &it.CapturedAt)
	if err != nil {
		return nil, err
	}
	it.Important = important != 0
	return it, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
