// Package transcript assembles the bounded conversational context fed to
// the event extractor.
//
// For an item in a message thread, the transcript is up to ten prior items
// sharing the same group key and title, rendered oldest-first as timestamped
// lines, with the current item's own line last. Items outside any thread
// degenerate to a single line. The bound and the strict same-thread match
// keep the transcript deterministic and prevent cross-group leakage.
package transcript

import (
	"context"
	"fmt"
	"strings"
	"time"

	"eventsieve/internal/store"
)

// HistoryLimit is the maximum number of prior messages included.
const HistoryLimit = 10

// Assembler builds transcripts from the store's thread history.
type Assembler struct {
	store store.Store
}

// New creates an Assembler reading history from s.
func New(s store.Store) *Assembler {
	return &Assembler{store: s}
}

// Build returns the transcript for it: prior same-thread messages oldest
// first, then the current item's line. A blank group key or title skips the
// history lookup entirely.
func (a *Assembler) Build(ctx context.Context, it *store.InboundItem) (string, error) {
	var history []*store.InboundItem
	if it.GroupKey != "" && it.Title != "" {
		prior, err := a.store.PreviousByGroupAndTitle(ctx, it.GroupKey, it.Title, it.Timestamp, HistoryLimit)
		if err != nil {
			return "", fmt.Errorf("fetching thread history: %w", err)
		}
		history = prior
	}

	// The store returns newest-first; the transcript reads oldest-first.
	lines := make([]string, 0, len(history)+1)
	for i := len(history) - 1; i >= 0; i-- {
		lines = append(lines, renderLine(history[i]))
	}
	lines = append(lines, renderLine(it))

	var sb strings.Builder
	sb.WriteString("Conversation History:\n")
	sb.WriteString(strings.Join(lines, "\n"))
	return sb.String(), nil
}

// renderLine formats one item as "[ISO-8601 instant] concatenated text".
func renderLine(it *store.InboundItem) string {
	return fmt.Sprintf("[%s] %s", it.Timestamp.UTC().Format(time.RFC3339), it.Text())
}
