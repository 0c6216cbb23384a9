// Package pipeline orchestrates the notification-to-event ETL flow.
//
// One inbound item moves through dedupe → persist → importance
// classification → context assembly → extraction → persist → reconcile,
// strictly sequentially. Distinct items may be in flight concurrently (see
// Queue); the store tolerates the resulting races because duplicate writes
// are idempotent whole-record replacements.
//
// Public operations never propagate transient LLM trouble: a failed or
// ambiguous model call resolves to "not important" or "no event extracted"
// and is logged. Returned errors are reserved for local persistence
// failures, which are safe to retry because every key is idempotent.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"eventsieve/internal/calendar"
	"eventsieve/internal/classify"
	"eventsieve/internal/extract"
	"eventsieve/internal/store"
	"eventsieve/internal/transcript"
)

// Capture is a raw inbound notification or submission before fingerprinting.
type Capture struct {
	SourceKey string // stable per-source notification key; may be empty
	Source    string // origin package / channel identifier
	AppName   string
	Title     string
	Body      string
	BigBody   string
	SubText   string
	Category  string
	GroupKey  string
	Timestamp time.Time // origin-assigned
}

// SubmitResult reports what one inbound submission produced.
type SubmitResult struct {
	ItemID    string
	Duplicate bool
	Important bool
	Event     *store.CalendarEvent // nil when nothing was extracted
}

// Pipeline wires the ETL stages over one store.
type Pipeline struct {
	store      store.Store
	classifier *classify.Classifier
	assembler  *transcript.Assembler
	extractor  *extract.Extractor
	reconciler *calendar.Reconciler
	log        *logrus.Logger
	now        func() time.Time
}

// New constructs a Pipeline. All collaborators are injected; the pipeline
// holds no global state.
func New(s store.Store, c *classify.Classifier, a *transcript.Assembler, x *extract.Extractor, r *calendar.Reconciler, log *logrus.Logger) *Pipeline {
	return &Pipeline{
		store:      s,
		classifier: c,
		assembler:  a,
		extractor:  x,
		reconciler: r,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SubmitInboundItem runs the full chain for one captured notification.
//
// A duplicate fingerprint short-circuits with no side effects. The returned
// error is only ever a store failure; resubmitting after one is safe.
func (p *Pipeline) SubmitInboundItem(ctx context.Context, c Capture) (*SubmitResult, error) {
	it := &store.InboundItem{
		Source:    c.Source,
		AppName:   c.AppName,
		Title:     c.Title,
		Body:      c.Body,
		BigBody:   c.BigBody,
		SubText:   c.SubText,
		Category:  c.Category,
		GroupKey:  c.GroupKey,
		Timestamp: c.Timestamp.UTC(),
	}
	it.ID = store.ItemFingerprint(it, c.SourceKey)

	ilog := p.log.WithField("item", it.ID)

	existing, err := p.store.GetItem(ctx, it.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		ilog.Debug("duplicate item ignored")
		return &SubmitResult{ItemID: it.ID, Duplicate: true}, nil
	}

	if err := p.store.AddItem(ctx, it); err != nil {
		return nil, err
	}

	result := &SubmitResult{ItemID: it.ID}

	if !p.classifier.IsImportant(ctx, it.Text()) {
		return result, nil
	}
	result.Important = true
	ilog.Info("important event detected")

	// The importance flag is persisted before extraction so a crashed or
	// failed extraction still leaves the item flagged for the user.
	if err := p.store.MarkImportant(ctx, it.ID, true); err != nil {
		return nil, err
	}

	text, err := p.assembler.Build(ctx, it)
	if err != nil {
		return nil, err
	}

	raw := p.extractor.Latest(ctx, text, it.Timestamp)
	if raw == nil {
		ilog.Warn("no event extracted")
		return result, nil
	}

	event := rawToEvent(raw, it.ID)
	if err := p.store.PutEvent(ctx, event); err != nil {
		return nil, err
	}
	ilog.WithField("title", event.Title).Info("event extracted and saved")

	result.Event = event
	return result, nil
}

// SubmitPastedText extracts every event from an arbitrary text blob. Each
// event gets an independently generated id (no inbound item backing) and is
// persisted as a draft. Importance classification is skipped on this path.
func (p *Pipeline) SubmitPastedText(ctx context.Context, text string) ([]*store.CalendarEvent, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	raws := p.extractor.All(ctx, text, p.now())

	events := make([]*store.CalendarEvent, 0, len(raws))
	for i := range raws {
		// The external calendar accepts ids matching [a-v0-9]+, which plain
		// hex satisfies; strip the uuid dashes.
		id := strings.ReplaceAll(uuid.NewString(), "-", "")
		event := rawToEvent(&raws[i], id)
		if err := p.store.PutEvent(ctx, event); err != nil {
			return events, err
		}
		events = append(events, event)
	}
	return events, nil
}

// GetEvent returns the event for id, or nil when none exists.
func (p *Pipeline) GetEvent(ctx context.Context, id string) (*store.CalendarEvent, error) {
	return p.store.GetEvent(ctx, id)
}

// ListEvents returns stored events, newest first.
func (p *Pipeline) ListEvents(ctx context.Context, opts store.ListOpts) ([]*store.CalendarEvent, error) {
	return p.store.ListEvents(ctx, opts)
}

// ListItems returns stored inbound items, newest first.
func (p *Pipeline) ListItems(ctx context.Context, opts store.ListOpts) ([]*store.InboundItem, error) {
	return p.store.ListItems(ctx, opts)
}

// DeleteItem removes an inbound item on explicit user action.
func (p *Pipeline) DeleteItem(ctx context.Context, id string) error {
	return p.store.DeleteItem(ctx, id)
}

// SaveEvent validates an edited event and persists it. This is the edit
// boundary: inconsistent all-day/time combinations are rejected here even
// though extraction may have produced them.
func (p *Pipeline) SaveEvent(ctx context.Context, e *store.CalendarEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return p.store.PutEvent(ctx, e)
}

// PushEvent pushes the stored event to every linked account and marks it
// confirmed when all pushes succeed. Returns false when the event does not
// exist or any account failed.
func (p *Pipeline) PushEvent(ctx context.Context, id string) (bool, error) {
	e, err := p.store.GetEvent(ctx, id)
	if err != nil {
		return false, err
	}
	if e == nil {
		p.log.WithField("event", id).Warn("push requested for unknown event")
		return false, nil
	}

	if !p.reconciler.Push(ctx, e) {
		return false, nil
	}
	if err := p.store.SetEventStatus(ctx, id, store.EventConfirmed); err != nil {
		return false, err
	}
	return true, nil
}

// ConfirmEvent saves the edited event and pushes it in one step.
func (p *Pipeline) ConfirmEvent(ctx context.Context, e *store.CalendarEvent) (bool, error) {
	if err := p.SaveEvent(ctx, e); err != nil {
		return false, err
	}
	return p.PushEvent(ctx, e.ID)
}

// DeleteEvent removes the event from every linked account and marks it
// discarded locally when all removals succeed.
func (p *Pipeline) DeleteEvent(ctx context.Context, id string) (bool, error) {
	if !p.reconciler.Delete(ctx, id) {
		return false, nil
	}
	if err := p.store.SetEventStatus(ctx, id, store.EventDiscarded); err != nil {
		return false, err
	}
	return true, nil
}

// DiscardEvent marks the event discarded and best-effort removes it from
// linked calendars. The remote outcome is logged, not reported.
func (p *Pipeline) DiscardEvent(ctx context.Context, id string) error {
	if err := p.store.SetEventStatus(ctx, id, store.EventDiscarded); err != nil {
		return err
	}
	if !p.reconciler.Delete(ctx, id) {
		p.log.WithField("event", id).Warn("remote delete incomplete for discarded event")
	}
	return nil
}

// WaitForEvent polls the store for the event derived from an inbound item.
// It tries waitAttempts times spaced waitInterval apart, then reports
// non-availability with (nil, nil); it never blocks indefinitely.
func (p *Pipeline) WaitForEvent(ctx context.Context, id string) (*store.CalendarEvent, error) {
	for attempt := 0; attempt < waitAttempts; attempt++ {
		e, err := p.store.GetEvent(ctx, id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			return e, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(waitInterval):
		}
	}
	p.log.WithField("item", id).Debug("event not available after polling")
	return nil, nil
}

const (
	waitAttempts = 5
	waitInterval = time.Second
)

// rawToEvent maps extractor output to a draft store record.
func rawToEvent(raw *extract.RawEvent, id string) *store.CalendarEvent {
	return &store.CalendarEvent{
		ID:          id,
		Title:       raw.Title,
		Description: raw.Description,
		Location:    raw.Location,
		AllDay:      raw.AllDay,
		StartDate:   raw.StartDate,
		StartTime:   raw.StartTime,
		EndDate:     raw.EndDate,
		EndTime:     raw.EndTime,
		Status:      store.EventDraft,
	}
}
