// Package store provides the SQLite storage layer for eventsieve.
//
// All pipeline data lives in a single SQLite database file:
// - Raw inbound items (captured notifications and pasted-text submissions)
// - Derived calendar events
// - Linked calendar accounts with their credentials
//
// The store is the only shared mutable resource in the system. Reads return
// snapshots; writes are whole-record replacements keyed by id.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.eventsieve/eventsieve.db"

// InboundItem is a captured notification or pasted-text submission.
// Immutable after capture except for the Important flag.
type InboundItem struct {
	ID         string // truncated content fingerprint, see Fingerprint
	Source     string // origin package / channel identifier
	AppName    string // human-readable origin application name
	Title      string
	Body       string
	BigBody    string // expanded notification body, when the origin provides one
	SubText    string
	Category   string
	GroupKey   string // conversation / thread key
	Timestamp  time.Time // origin-assigned, monotonic per source
	Important  bool
	CapturedAt time.Time
}

// Text joins the first non-empty display fields into the blob fed to the
// classifier and extractor.
func (it *InboundItem) Text() string {
	out := ""
	for _, part := range []string{it.Title, it.Body, it.BigBody} {
		if part == "" {
			continue
		}
		if out != "" {
			out += " "
		}
		out += part
	}
	return out
}

// EventStatus is the lifecycle state of a CalendarEvent.
type EventStatus string

const (
	// EventDraft is a freshly extracted event awaiting user action.
	EventDraft EventStatus = "draft"
	// EventConfirmed has been accepted and pushed to linked calendars.
	EventConfirmed EventStatus = "confirmed"
	// EventDiscarded has been rejected by the user.
	EventDiscarded EventStatus = "discarded"
)

// Valid reports whether s is one of the closed set of statuses.
func (s EventStatus) Valid() bool {
	switch s {
	case EventDraft, EventConfirmed, EventDiscarded:
		return true
	}
	return false
}

// CalendarEvent is the structured, schedulable representation derived from
// an InboundItem or from direct text extraction.
//
// Dates are "YYYY-MM-DD" and times "HH:MM"; empty strings mean absent.
// Extraction may emit inconsistent date/time data — consistency is enforced
// at the edit boundary via Validate, not at extraction time.
type CalendarEvent struct {
	ID          string // mirrors the originating item id, or an independent uuid
	Title       string
	Description string
	Location    string
	AllDay      bool
	StartDate   string
	StartTime   string
	EndDate     string
	EndTime     string
	Status      EventStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate enforces the edit-boundary invariant: all-day events carry no
// times; timed events carry both times and end strictly after start.
func (e *CalendarEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("invalid event status %q", e.Status)
	}
	if e.StartDate == "" {
		return fmt.Errorf("start date is required")
	}
	if e.AllDay {
		if e.StartTime != "" || e.EndTime != "" {
			return fmt.Errorf("all-day event must not carry start/end times")
		}
		return nil
	}
	if e.StartTime == "" || e.EndTime == "" {
		return fmt.Errorf("timed event requires both start and end times")
	}
	start, err := e.startInstant()
	if err != nil {
		return err
	}
	end, err := e.endInstant()
	if err != nil {
		return err
	}
	if !end.After(start) {
		return fmt.Errorf("event end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return nil
}

func (e *CalendarEvent) startInstant() (time.Time, error) {
	return parseDateTime(e.StartDate, e.StartTime)
}

func (e *CalendarEvent) endInstant() (time.Time, error) {
	date := e.EndDate
	if date == "" {
		date = e.StartDate
	}
	return parseDateTime(date, e.EndTime)
}

func parseDateTime(date, clock string) (time.Time, error) {
	t, err := time.Parse("2006-01-02 15:04", date+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s %s: %w", date, clock, err)
	}
	return t, nil
}

// LinkedAccount is a calendar identity with stored bearer credentials.
type LinkedAccount struct {
	ID           string
	Email        string
	DisplayName  string
	AccessToken  string
	RefreshToken string
	LinkedAt     time.Time
}

// ListOpts controls pagination and filtering for list operations.
type ListOpts struct {
	Limit  int
	Offset int
	Status EventStatus // filter events by status; empty = all
}

// Stats holds observability counters for the store.
type Stats struct {
	ItemCount    int64
	EventCount   int64
	AccountCount int64
	DBSizeBytes  int64
}

// Config holds configuration for NewStore.
type Config struct {
	DBPath string
}

// Store defines the record storage interface consumed by the pipeline.
type Store interface {
	// Inbound items
	AddItem(ctx context.Context, it *InboundItem) error
	GetItem(ctx context.Context, id string) (*InboundItem, error)
	ListItems(ctx context.Context, opts ListOpts) ([]*InboundItem, error)
	DeleteItem(ctx context.Context, id string) error
	MarkImportant(ctx context.Context, id string, important bool) error
	PreviousByGroupAndTitle(ctx context.Context, groupKey, title string, before time.Time, limit int) ([]*InboundItem, error)

	// Calendar events
	PutEvent(ctx context.Context, e *CalendarEvent) error
	GetEvent(ctx context.Context, id string) (*CalendarEvent, error)
	ListEvents(ctx context.Context, opts ListOpts) ([]*CalendarEvent, error)
	DeleteEvent(ctx context.Context, id string) error
	SetEventStatus(ctx context.Context, id string, status EventStatus) error

	// Linked accounts
	PutAccount(ctx context.Context, a *LinkedAccount) error
	GetAccount(ctx context.Context, id string) (*LinkedAccount, error)
	ListAccounts(ctx context.Context) ([]*LinkedAccount, error)
	DeleteAccount(ctx context.Context, id string) error
	UpdateAccessToken(ctx context.Context, id, token string) error

	// Observability
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// SQLiteStore implements Store on a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if needed) a SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg Config) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Stats returns current database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM items", &stats.ItemCount},
		{"SELECT COUNT(*) FROM events", &stats.EventCount},
		{"SELECT COUNT(*) FROM accounts", &stats.AccountCount},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("querying stats (%s): %w", q.query, err)
		}
	}

	if s.dbPath != ":memory:" {
		var pageCount, pageSize int64
		s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
		s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats.DBSizeBytes = pageCount * pageSize
	}

	return stats, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
