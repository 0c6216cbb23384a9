package calendar

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"eventsieve/internal/accounts"
	"eventsieve/internal/store"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeCalendar simulates the calendar API with per-token behavior.
type fakeCalendar struct {
	mu sync.Mutex

	expiredTokens map[string]bool // probe answers 401
	updateStatus  map[string]int  // default 200
	insertStatus  map[string]int  // default 200
	deleteStatus  map[string]int  // default 200

	updates []string // tokens that attempted an update
	inserts []string // raw insert bodies
	deletes []string // tokens that attempted a delete
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{
		expiredTokens: map[string]bool{},
		updateStatus:  map[string]int{},
		insertStatus:  map[string]int{},
		deleteStatus:  map[string]int{},
	}
}

func (f *fakeCalendar) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		switch {
		case r.URL.Path == "/users/me/calendarList":
			if f.expiredTokens[token] {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)

		case r.Method == "PUT" && strings.HasPrefix(r.URL.Path, "/calendars/primary/events/"):
			f.updates = append(f.updates, token)
			w.WriteHeader(statusOr(f.updateStatus[token], http.StatusOK))

		case r.Method == "POST" && r.URL.Path == "/calendars/primary/events":
			body, _ := io.ReadAll(r.Body)
			f.inserts = append(f.inserts, string(body))
			w.WriteHeader(statusOr(f.insertStatus[token], http.StatusOK))

		case r.Method == "DELETE" && strings.HasPrefix(r.URL.Path, "/calendars/primary/events/"):
			f.deletes = append(f.deletes, token)
			w.WriteHeader(statusOr(f.deleteStatus[token], http.StatusOK))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func statusOr(code, fallback int) int {
	if code == 0 {
		return fallback
	}
	return code
}

type testRig struct {
	store    store.Store
	cal      *fakeCalendar
	rec      *Reconciler
	tokenSrv *httptest.Server
}

// newRig wires a reconciler against fake calendar and token endpoints.
// refreshedToken is what the token endpoint hands out; empty makes refresh
// fail with a 500.
func newRig(t *testing.T, refreshedToken string) *testRig {
	t.Helper()

	s := newTestStore(t)
	cal := newFakeCalendar()
	calSrv := httptest.NewServer(cal.handler())
	t.Cleanup(calSrv.Close)

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if refreshedToken == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": refreshedToken,
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	}))
	t.Cleanup(tokenSrv.Close)

	am := accounts.NewManager(s, accounts.Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		TokenURL:     tokenSrv.URL,
	}, quietLogger())

	rec := NewReconciler(s, am, NewClient(calSrv.URL), "", quietLogger())

	return &testRig{store: s, cal: cal, rec: rec, tokenSrv: tokenSrv}
}

func timedEvent() *store.CalendarEvent {
	return &store.CalendarEvent{
		ID:        "ev1",
		Title:     "Dinner",
		StartDate: "2026-03-15",
		StartTime: "19:00",
		EndDate:   "2026-03-15",
		EndTime:   "20:00",
		Status:    store.EventDraft,
	}
}

func link(t *testing.T, s store.Store, id, access, refresh string) {
	t.Helper()
	err := s.PutAccount(context.Background(), &store.LinkedAccount{
		ID: id, Email: id + "@example.com", AccessToken: access, RefreshToken: refresh,
	})
	if err != nil {
		t.Fatalf("PutAccount %s: %v", id, err)
	}
}

func TestPushUpdatesExistingEvent(t *testing.T) {
	rig := newRig(t, "")
	link(t, rig.store, "a", "tok-a", "")

	if !rig.rec.Push(context.Background(), timedEvent()) {
		t.Error("Push should succeed when the update is accepted")
	}
	if len(rig.cal.updates) != 1 || len(rig.cal.inserts) != 0 {
		t.Errorf("updates=%v inserts=%v", rig.cal.updates, rig.cal.inserts)
	}
}

func TestPushFallsBackToInsert(t *testing.T) {
	rig := newRig(t, "")
	link(t, rig.store, "a", "tok-a", "")
	rig.cal.updateStatus["tok-a"] = http.StatusNotFound

	if !rig.rec.Push(context.Background(), timedEvent()) {
		t.Error("Push should succeed via the insert fallback")
	}
	if len(rig.cal.inserts) != 1 {
		t.Fatalf("insert count = %d, want 1", len(rig.cal.inserts))
	}
	// Insert must carry the explicit id so a later push updates in place.
	var payload EventPayload
	if err := json.Unmarshal([]byte(rig.cal.inserts[0]), &payload); err != nil {
		t.Fatalf("unmarshal insert body: %v", err)
	}
	if payload.ID != "ev1" {
		t.Errorf("insert id = %q, want ev1", payload.ID)
	}
}

func TestPushFanOutIsIndependent(t *testing.T) {
	rig := newRig(t, "")
	link(t, rig.store, "a", "tok-a", "")
	link(t, rig.store, "b", "tok-b", "")
	link(t, rig.store, "c", "tok-c", "")
	rig.cal.updateStatus["tok-b"] = http.StatusForbidden

	if rig.rec.Push(context.Background(), timedEvent()) {
		t.Error("Push should report failure when any account fails")
	}
	// Every account was still attempted.
	if len(rig.cal.updates) != 3 {
		t.Errorf("update attempts = %v, want all three accounts", rig.cal.updates)
	}
}

func TestPushRefreshesExpiredToken(t *testing.T) {
	rig := newRig(t, "tok-fresh")
	link(t, rig.store, "a", "tok-stale", "refresh-a")
	rig.cal.expiredTokens["tok-stale"] = true

	if !rig.rec.Push(context.Background(), timedEvent()) {
		t.Error("Push should succeed after a token refresh")
	}
	if len(rig.cal.updates) != 1 || rig.cal.updates[0] != "tok-fresh" {
		t.Errorf("updates = %v, want one with the refreshed token", rig.cal.updates)
	}

	acct, err := rig.store.GetAccount(context.Background(), "a")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.AccessToken != "tok-fresh" {
		t.Errorf("stored token = %q, want tok-fresh", acct.AccessToken)
	}
}

func TestPushProceedsWithStaleTokenWhenRefreshFails(t *testing.T) {
	rig := newRig(t, "") // token endpoint answers 500
	link(t, rig.store, "a", "tok-stale", "refresh-a")
	rig.cal.expiredTokens["tok-stale"] = true

	// The write attempt itself decides the outcome; here the calendar
	// happens to accept the stale token.
	if !rig.rec.Push(context.Background(), timedEvent()) {
		t.Error("Push should proceed with the stale token")
	}
	if len(rig.cal.updates) != 1 || rig.cal.updates[0] != "tok-stale" {
		t.Errorf("updates = %v, want one with the stale token", rig.cal.updates)
	}

	acct, _ := rig.store.GetAccount(context.Background(), "a")
	if acct.AccessToken != "tok-stale" {
		t.Errorf("stored token changed to %q after failed refresh", acct.AccessToken)
	}
}

func TestPushFailsWithoutToken(t *testing.T) {
	rig := newRig(t, "")
	link(t, rig.store, "a", "", "")

	if rig.rec.Push(context.Background(), timedEvent()) {
		t.Error("Push should fail for an account with no stored token")
	}
	if len(rig.cal.updates) != 0 {
		t.Errorf("no calendar call expected, got %v", rig.cal.updates)
	}
}

func TestPushWithNoAccountsSucceeds(t *testing.T) {
	rig := newRig(t, "")

	// Vacuously true: nothing to reconcile against.
	if !rig.rec.Push(context.Background(), timedEvent()) {
		t.Error("Push with zero linked accounts should succeed")
	}
}

func TestDeleteTreatsNotFoundAsSuccess(t *testing.T) {
	rig := newRig(t, "")
	link(t, rig.store, "a", "tok-a", "")
	rig.cal.deleteStatus["tok-a"] = http.StatusNotFound

	if !rig.rec.Delete(context.Background(), "ev1") {
		t.Error("deleting an already-absent event should succeed")
	}
}

func TestDeleteFanOut(t *testing.T) {
	rig := newRig(t, "")
	link(t, rig.store, "a", "tok-a", "")
	link(t, rig.store, "b", "tok-b", "")
	rig.cal.deleteStatus["tok-b"] = http.StatusInternalServerError

	if rig.rec.Delete(context.Background(), "ev1") {
		t.Error("Delete should report failure when any account fails")
	}
	if len(rig.cal.deletes) != 2 {
		t.Errorf("delete attempts = %v, want both accounts", rig.cal.deletes)
	}
}

func TestPayloadTimed(t *testing.T) {
	rec := NewReconciler(nil, nil, nil, "Asia/Singapore", quietLogger())

	p := rec.payload(&store.CalendarEvent{
		Title:     "Dinner",
		StartDate: "2026-03-15",
		StartTime: "19:00",
	})

	if p.Start.DateTime != "2026-03-15T19:00:00" {
		t.Errorf("start = %q", p.Start.DateTime)
	}
	// Missing end defaults to the start instant.
	if p.End.DateTime != "2026-03-15T19:00:00" {
		t.Errorf("end = %q", p.End.DateTime)
	}
	if p.Start.TimeZone != "Asia/Singapore" || p.End.TimeZone != "Asia/Singapore" {
		t.Errorf("timezone = %q / %q", p.Start.TimeZone, p.End.TimeZone)
	}
	if p.Start.Date != "" {
		t.Error("timed event must not carry a date-only field")
	}
}

func TestPayloadAllDay(t *testing.T) {
	rec := NewReconciler(nil, nil, nil, "", quietLogger())

	p := rec.payload(&store.CalendarEvent{
		Title:     "Holiday",
		AllDay:    true,
		StartDate: "2026-05-01",
		EndDate:   "2026-05-02",
	})

	if p.Start.Date != "2026-05-01" {
		t.Errorf("start date = %q", p.Start.Date)
	}
	// End dates are exclusive on the wire.
	if p.End.Date != "2026-05-03" {
		t.Errorf("end date = %q, want exclusive 2026-05-03", p.End.Date)
	}
	if p.Start.DateTime != "" || p.End.DateTime != "" {
		t.Error("all-day event must not carry dateTime fields")
	}
}

func TestNormalizeClock(t *testing.T) {
	tests := []struct{ in, want string }{
		{"19:00", "19:00:00"},
		{"19:00:30", "19:00:30"},
		{"", ""},
		{"9:00", "9:00"},
	}
	for _, tt := range tests {
		if got := normalizeClock(tt.in); got != tt.want {
			t.Errorf("normalizeClock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNextDay(t *testing.T) {
	if got := nextDay("2026-02-28"); got != "2026-03-01" {
		t.Errorf("nextDay = %q", got)
	}
	if got := nextDay("not-a-date"); got != "not-a-date" {
		t.Errorf("unparseable input should pass through, got %q", got)
	}
}
