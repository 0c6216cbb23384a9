// Package calendar synchronizes structured events to external calendars.
//
// The client speaks the Google Calendar v3 REST surface directly with a
// bearer token. The reconciler layers the multi-account fan-out, credential
// refresh and not-found fallback semantics on top.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the Google Calendar API base.
const DefaultBaseURL = "https://www.googleapis.com/calendar/v3"

// Client provides authenticated HTTP access to a calendar API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client. An empty baseURL selects the Google API;
// tests inject an httptest server URL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Response carries the outcome of one calendar API call. Body is retained
// for diagnostic logging on failure.
type Response struct {
	StatusCode int
	Body       string
}

// OK reports whether the call succeeded (2xx).
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// NotFound reports whether the service signaled the distinct not-found code.
func (r Response) NotFound() bool {
	return r.StatusCode == http.StatusNotFound
}

// Unauthorized reports an authorization failure (stale or invalid token).
func (r Response) Unauthorized() bool {
	return r.StatusCode == http.StatusUnauthorized
}

// Probe makes a lightweight authenticated read (own calendar list) to
// validate the access token.
func (c *Client) Probe(ctx context.Context, accessToken string) (Response, error) {
	return c.do(ctx, "GET", c.baseURL+"/users/me/calendarList", accessToken, nil)
}

// Update replaces the event with the given id on the primary calendar.
func (c *Client) Update(ctx context.Context, accessToken, eventID string, payload EventPayload) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling event payload: %w", err)
	}
	u := c.baseURL + "/calendars/primary/events/" + url.PathEscape(eventID)
	return c.do(ctx, "PUT", u, accessToken, body)
}

// Insert creates the event with an explicit id on the primary calendar.
func (c *Client) Insert(ctx context.Context, accessToken, eventID string, payload EventPayload) (Response, error) {
	payload.ID = eventID
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling event payload: %w", err)
	}
	return c.do(ctx, "POST", c.baseURL+"/calendars/primary/events", accessToken, body)
}

// Delete removes the event with the given id from the primary calendar.
func (c *Client) Delete(ctx context.Context, accessToken, eventID string) (Response, error) {
	u := c.baseURL + "/calendars/primary/events/" + url.PathEscape(eventID)
	return c.do(ctx, "DELETE", u, accessToken, nil)
}

func (c *Client) do(ctx context.Context, method, u, accessToken string, body []byte) (Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("reading response: %w", err)
	}

	return Response{StatusCode: resp.StatusCode, Body: string(respBody)}, nil
}

// EventPayload is the wire shape of a calendar event.
type EventPayload struct {
	ID          string       `json:"id,omitempty"`
	Summary     string       `json:"summary"`
	Description string       `json:"description"`
	Location    string       `json:"location"`
	Start       EventInstant `json:"start"`
	End         EventInstant `json:"end"`
}

// EventInstant is either a timed instant (dateTime + timeZone) or an
// all-day date, per the API's start/end representation.
type EventInstant struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}
