// Package extract converts free text into structured calendar events via an
// LLM.
//
// Two modes share one contract shape: Latest pulls only the most recent
// event out of a (possibly multi-message) transcript; All pulls every
// distinct event from an arbitrary text blob. Both embed a reference
// timestamp in the prompt so the model can resolve relative dates like
// "tomorrow", and both parse the response tolerantly — the substring between
// the first and last bracket of the expected JSON shape is parsed and any
// surrounding prose the model added despite instructions is discarded.
//
// No event extracted is a normal, silent outcome: blank output, missing
// brackets, and JSON parse failures all yield an empty result, logged but
// never surfaced as an error.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"eventsieve/internal/llm"
)

const singleEventPrompt = `You are an intelligent assistant that extracts calendar event information from a sequence of chat or notification messages.

You must extract only the **last event mentioned** in the conversation history and return it in **strictly valid JSON format** like this:
{
  "title": "Event Title",
  "description": "Optional event description",
  "location": "Event location or meeting link",
  "all_day_event": false,
  "start_date": "YYYY-MM-DD",
  "start_time": "HH:MM",
  "end_date": "YYYY-MM-DD",
  "end_time": "HH:MM"
}

Chat History:
%s

Current timestamp: %q

Rules:
1. Use the current timestamp to interpret relative times like "tomorrow" or "next Friday".
2. If the end time/date is not provided, default it to the same as the start.
2A. If only the start time is found but no end time, assume the event lasts 1 hour and compute the end time accordingly.
3. If time is missing but a date is present, leave the time as "" and set "all_day_event": true.
4. If any field is missing or unclear, leave it as "".
5. DO NOT return anything except the JSON. No explanation, comments, or markdown.

Output:`

const multiEventPrompt = `You are a smart assistant that extracts **all calendar events** mentioned in a block of text or chat history.

Return the result as a **JSON array** of objects. Each object must have this format:
{
  "title": "Event Title",
  "description": "Optional event description",
  "location": "Event location or meeting link",
  "all_day_event": false,
  "start_date": "YYYY-MM-DD",
  "start_time": "HH:MM",
  "end_date": "YYYY-MM-DD",
  "end_time": "HH:MM"
}

Rules:
1. Extract all event-like structures, not just the last one.
2. Interpret relative dates like "tomorrow" based on: %q.
3. If end time is missing, assume 1-hour duration from start time.
4. If only a date is present, leave time fields empty and set "all_day_event": true.
5. If any field is missing, leave it as "".
6. Return only the **JSON array**. Do not include explanations or comments.

Text:
%s`

// RawEvent mirrors the JSON object the model is instructed to emit. Missing
// fields unmarshal to empty strings (false for the flag), never null.
type RawEvent struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	AllDay      bool   `json:"all_day_event"`
	StartDate   string `json:"start_date"`
	StartTime   string `json:"start_time"`
	EndDate     string `json:"end_date"`
	EndTime     string `json:"end_time"`
}

// Extractor runs LLM-based event extraction.
type Extractor struct {
	provider llm.Provider
	log      *logrus.Logger
}

// New creates an Extractor backed by the given provider.
func New(provider llm.Provider, log *logrus.Logger) *Extractor {
	return &Extractor{provider: provider, log: log}
}

// Latest extracts the most recent event described in transcript, using now
// as the anchor for relative dates. Returns nil when no event could be
// extracted.
func (e *Extractor) Latest(ctx context.Context, transcript string, now time.Time) *RawEvent {
	prompt := fmt.Sprintf(singleEventPrompt, transcript, now.UTC().Format(time.RFC3339))

	out, err := e.provider.Complete(ctx, prompt, llm.CompletionOpts{
		Temperature: 0.2,
		TopK:        20,
		TopP:        0.9,
		MaxTokens:   512,
	})
	if err != nil {
		e.log.WithError(err).Warn("event extraction call failed")
		return nil
	}

	body, ok := sliceJSON(out, '{', '}')
	if !ok {
		e.log.WithField("output", truncate(out, 200)).Warn("no JSON object in extractor output")
		return nil
	}

	var ev RawEvent
	if err := json.Unmarshal([]byte(body), &ev); err != nil {
		e.log.WithError(err).Warn("unparseable extractor output")
		return nil
	}
	return &ev
}

// All extracts every event-like structure from text, using now as the
// anchor for relative dates. Returns an empty slice when nothing could be
// extracted.
func (e *Extractor) All(ctx context.Context, text string, now time.Time) []RawEvent {
	prompt := fmt.Sprintf(multiEventPrompt, now.UTC().Format(time.RFC3339), text)

	out, err := e.provider.Complete(ctx, prompt, llm.CompletionOpts{
		Temperature: 0.2,
		TopK:        20,
		TopP:        0.9,
		MaxTokens:   1024,
	})
	if err != nil {
		e.log.WithError(err).Warn("multi-event extraction call failed")
		return nil
	}

	body, ok := sliceJSON(out, '[', ']')
	if !ok {
		e.log.WithField("output", truncate(out, 200)).Warn("no JSON array in extractor output")
		return nil
	}

	var events []RawEvent
	if err := json.Unmarshal([]byte(body), &events); err != nil {
		e.log.WithError(err).Warn("unparseable multi-event extractor output")
		return nil
	}
	return events
}

// sliceJSON returns the substring from the first open to the last close
// bracket, discarding any prose around it.
func sliceJSON(s string, open, shut byte) (string, bool) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, shut)
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return s[start : end+1], true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
