// Package classify decides whether a captured text blob describes a
// calendar-worthy event.
//
// The decision is a single-shot LLM call instructed to answer only "0" or
// "1". Anything else — explanatory prose, an empty response, a transport
// failure — resolves to "not important". The conservative fallback means a
// flaky model can only cause missed events, never spurious pipeline runs.
package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"eventsieve/internal/llm"
)

const importancePrompt = `You are an AI that determines if a notification contains an event that can be added to a calendar.
Respond only with '1' if an event is detected and '0' if not.
No extra text, no explanations, no formatting.

An event must have a clear reference to a date, time, or schedule to be considered valid.

Analyze the following notification:
%q

Respond only with '1' (yes) or '0' (no).`

// Classifier labels text as event-bearing or not.
type Classifier struct {
	provider llm.Provider
	log      *logrus.Logger
}

// New creates a Classifier backed by the given provider.
func New(provider llm.Provider, log *logrus.Logger) *Classifier {
	return &Classifier{provider: provider, log: log}
}

// IsImportant reports whether text describes a calendar-worthy event.
// It never returns an error: LLM failure and ambiguous output both resolve
// to false and are logged.
func (c *Classifier) IsImportant(ctx context.Context, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	prompt := fmt.Sprintf(importancePrompt, text)
	out, err := c.provider.Complete(ctx, prompt, llm.CompletionOpts{
		Temperature: 0.5,
		TopK:        20,
		TopP:        0.9,
		MaxTokens:   50,
	})
	if err != nil {
		c.log.WithError(err).Warn("importance classification failed, treating as not important")
		return false
	}

	switch strings.TrimSpace(out) {
	case "1":
		return true
	case "0":
		return false
	default:
		c.log.WithField("output", out).Warn("unexpected classifier output, treating as not important")
		return false
	}
}
