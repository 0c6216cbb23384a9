package extract

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"eventsieve/internal/llm"
)

type fakeProvider struct {
	output string
	err    error
	prompt string
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string, opts llm.CompletionOpts) (string, error) {
	f.prompt = prompt
	return f.output, f.err
}

func (f *fakeProvider) Name() string { return "fake" }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

var anchor = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func TestLatest(t *testing.T) {
	p := &fakeProvider{output: `{
		"title": "Dinner with Alice",
		"description": "",
		"location": "Luigi's",
		"all_day_event": false,
		"start_date": "2026-03-15",
		"start_time": "19:00",
		"end_date": "2026-03-15",
		"end_time": "20:00"
	}`}

	got := New(p, quietLogger()).Latest(context.Background(), "some transcript", anchor)
	if got == nil {
		t.Fatal("Latest returned nil for valid output")
	}
	if got.Title != "Dinner with Alice" || got.StartTime != "19:00" || got.AllDay {
		t.Errorf("parsed event mismatch: %+v", got)
	}
	if !strings.Contains(p.prompt, "some transcript") {
		t.Error("prompt does not carry the transcript")
	}
	if !strings.Contains(p.prompt, "2026-03-14T09:00:00Z") {
		t.Error("prompt does not carry the reference timestamp")
	}
}

func TestLatestToleratesSurroundingProse(t *testing.T) {
	p := &fakeProvider{output: "Sure! Here is the JSON you asked for:\n```json\n{\"title\": \"Standup\", \"start_date\": \"2026-03-16\", \"start_time\": \"09:00\", \"end_time\": \"09:15\"}\n```\nLet me know if you need anything else."}

	got := New(p, quietLogger()).Latest(context.Background(), "t", anchor)
	if got == nil {
		t.Fatal("Latest should recover the object from prose-wrapped output")
	}
	if got.Title != "Standup" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestLatestMissingFieldsDefaultEmpty(t *testing.T) {
	p := &fakeProvider{output: `{"title": "Holiday", "all_day_event": true, "start_date": "2026-05-01"}`}

	got := New(p, quietLogger()).Latest(context.Background(), "t", anchor)
	if got == nil {
		t.Fatal("Latest returned nil")
	}
	if !got.AllDay || got.StartTime != "" || got.EndDate != "" {
		t.Errorf("missing fields should be empty: %+v", got)
	}
}

func TestLatestFailures(t *testing.T) {
	tests := []struct {
		name   string
		output string
		err    error
	}{
		{name: "provider error", err: fmt.Errorf("upstream 500")},
		{name: "no json at all", output: "I could not find an event."},
		{name: "broken json", output: `{"title": "x", "start_date":`},
		{name: "empty output", output: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{output: tt.output, err: tt.err}
			if got := New(p, quietLogger()).Latest(context.Background(), "t", anchor); got != nil {
				t.Errorf("Latest = %+v, want nil", got)
			}
		})
	}
}

func TestAll(t *testing.T) {
	p := &fakeProvider{output: `Here are the events:
[
  {"title": "Standup", "start_date": "2026-03-16", "start_time": "09:00", "end_time": "09:15"},
  {"title": "Company Offsite", "all_day_event": true, "start_date": "2026-03-20"}
]`}

	got := New(p, quietLogger()).All(context.Background(), "paste blob", anchor)
	if len(got) != 2 {
		t.Fatalf("event count = %d, want 2", len(got))
	}
	if got[0].Title != "Standup" || got[1].Title != "Company Offsite" {
		t.Errorf("events = %+v", got)
	}
	if !got[1].AllDay {
		t.Error("second event should be all-day")
	}
	if !strings.Contains(p.prompt, "paste blob") {
		t.Error("prompt does not carry the input text")
	}
}

func TestAllFailures(t *testing.T) {
	tests := []struct {
		name   string
		output string
		err    error
	}{
		{name: "provider error", err: fmt.Errorf("timeout")},
		{name: "no array", output: "no events found"},
		{name: "broken array", output: `[{"title": "x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{output: tt.output, err: tt.err}
			if got := New(p, quietLogger()).All(context.Background(), "t", anchor); len(got) != 0 {
				t.Errorf("All = %+v, want empty", got)
			}
		})
	}
}

func TestSliceJSON(t *testing.T) {
	tests := []struct {
		in      string
		open    byte
		shut    byte
		want    string
		wantHit bool
	}{
		{`prose {"a":1} trailing`, '{', '}', `{"a":1}`, true},
		{`{"a":{"b":2}}`, '{', '}', `{"a":{"b":2}}`, true},
		{`text [1,2] more [3]`, '[', ']', `[1,2] more [3]`, true},
		{`no braces`, '{', '}', ``, false},
		{`} reversed {`, '{', '}', ``, false},
	}

	for _, tt := range tests {
		got, ok := sliceJSON(tt.in, tt.open, tt.shut)
		if ok != tt.wantHit || got != tt.want {
			t.Errorf("sliceJSON(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantHit)
		}
	}
}
