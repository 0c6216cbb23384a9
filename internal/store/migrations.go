package store

import "fmt"

// migrate creates all tables if they don't exist.
func (s *SQLiteStore) migrate() error {
	statements := []string{
		// Raw inbound items. Whole rows are immutable after capture except
		// for the important flag.
		`CREATE TABLE IF NOT EXISTS items (
			id          TEXT PRIMARY KEY,
			source      TEXT NOT NULL,
			app_name    TEXT NOT NULL DEFAULT '',
			title       TEXT NOT NULL DEFAULT '',
			body        TEXT NOT NULL DEFAULT '',
			big_body    TEXT NOT NULL DEFAULT '',
			sub_text    TEXT NOT NULL DEFAULT '',
			category    TEXT NOT NULL DEFAULT '',
			group_key   TEXT NOT NULL DEFAULT '',
			ts          DATETIME NOT NULL,
			important   INTEGER NOT NULL DEFAULT 0,
			captured_at DATETIME NOT NULL
		)`,

		// Context assembly scans same-thread history by (group_key, title, ts).
		`CREATE INDEX IF NOT EXISTS idx_items_group_title_ts
			ON items(group_key, title, ts)`,

		// Derived calendar events. Zero-or-one row per item id; pasted-text
		// events carry independently generated ids.
		`CREATE TABLE IF NOT EXISTS events (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			location    TEXT NOT NULL DEFAULT '',
			all_day     INTEGER NOT NULL DEFAULT 0,
			start_date  TEXT NOT NULL DEFAULT '',
			start_time  TEXT NOT NULL DEFAULT '',
			end_date    TEXT NOT NULL DEFAULT '',
			end_time    TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'draft'
				CHECK (status IN ('draft', 'confirmed', 'discarded')),
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL
		)`,

		// Linked calendar accounts. access_token is mutated in place on
		// refresh; rows are deleted on unlink.
		`CREATE TABLE IF NOT EXISTS accounts (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL DEFAULT '',
			display_name  TEXT NOT NULL DEFAULT '',
			access_token  TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			linked_at     DATETIME NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	return nil
}
