package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewStore(Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestItemRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	it := &InboundItem{
		ID:        "abc123",
		Source:    "com.whatsapp",
		AppName:   "WhatsApp",
		Title:     "Alice",
		Body:      "dinner tomorrow at 7?",
		GroupKey:  "chat-42",
		Timestamp: ts,
	}
	if err := s.AddItem(ctx, it); err != nil {
		t.Fatalf("AddItem: %v", err)
	}

	got, err := s.GetItem(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got == nil {
		t.Fatal("GetItem returned nil for existing item")
	}
	if got.Title != "Alice" || got.Body != "dinner tomorrow at 7?" || got.GroupKey != "chat-42" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, ts)
	}
	if got.Important {
		t.Error("new item should not be important")
	}
	if got.CapturedAt.IsZero() {
		t.Error("CapturedAt should be defaulted on write")
	}
}

func TestGetItemMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetItem(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing item, got %+v", got)
	}
}

func TestAddItemIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := &InboundItem{ID: "dup", Source: "x", Body: "same", Timestamp: time.Now().UTC()}
	for i := 0; i < 3; i++ {
		if err := s.AddItem(ctx, it); err != nil {
			t.Fatalf("AddItem attempt %d: %v", i, err)
		}
	}

	items, err := s.ListItems(ctx, ListOpts{})
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 item after repeated writes, got %d", len(items))
	}
}

func TestMarkImportant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := &InboundItem{ID: "imp", Source: "x", Timestamp: time.Now().UTC()}
	if err := s.AddItem(ctx, it); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := s.MarkImportant(ctx, "imp", true); err != nil {
		t.Fatalf("MarkImportant: %v", err)
	}

	got, err := s.GetItem(ctx, "imp")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if !got.Important {
		t.Error("important flag not persisted")
	}
}

func TestDeleteItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := &InboundItem{ID: "gone", Source: "x", Timestamp: time.Now().UTC()}
	if err := s.AddItem(ctx, it); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := s.DeleteItem(ctx, "gone"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	got, err := s.GetItem(ctx, "gone")
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got != nil {
		t.Error("item still present after delete")
	}

	// Absent id is a no-op, not an error.
	if err := s.DeleteItem(ctx, "gone"); err != nil {
		t.Errorf("deleting absent item: %v", err)
	}
}

func TestPreviousByGroupAndTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := func(id, group, title string, offset int) {
		t.Helper()
		err := s.AddItem(ctx, &InboundItem{
			ID: id, Source: "x", GroupKey: group, Title: title,
			Body:      id,
			Timestamp: base.Add(time.Duration(offset) * time.Minute),
		})
		if err != nil {
			t.Fatalf("AddItem %s: %v", id, err)
		}
	}

	for i := 0; i < 15; i++ {
		seed(string(rune('a'+i)), "g1", "Alice", i)
	}
	seed("other-group", "g2", "Alice", 5)
	seed("other-title", "g1", "Bob", 5)
	seed("same-instant", "g1", "Alice", 14) // ts == cutoff, must be excluded

	cutoff := base.Add(14 * time.Minute)
	got, err := s.PreviousByGroupAndTitle(ctx, "g1", "Alice", cutoff, 10)
	if err != nil {
		t.Fatalf("PreviousByGroupAndTitle: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 history items, got %d", len(got))
	}
	// Newest first, strictly before the cutoff.
	if got[0].ID != "n" {
		t.Errorf("newest history item = %s, want n", got[0].ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Errorf("history not newest-first at index %d", i)
		}
	}
	for _, it := range got {
		if it.GroupKey != "g1" || it.Title != "Alice" {
			t.Errorf("cross-thread leakage: %+v", it)
		}
		if !it.Timestamp.Before(cutoff) {
			t.Errorf("item %s at %v not strictly before cutoff", it.ID, it.Timestamp)
		}
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AddItem(ctx, &InboundItem{ID: "i1", Source: "x", Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if err := s.PutEvent(ctx, &CalendarEvent{ID: "e1"}); err != nil {
		t.Fatalf("PutEvent: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ItemCount != 1 || stats.EventCount != 1 || stats.AccountCount != 0 {
		t.Errorf("stats = %+v", stats)
	}
}
