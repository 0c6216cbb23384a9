// Package api exposes the pipeline over a local JSON HTTP surface. Capture
// clients post raw notifications, the review UI edits and confirms the
// extracted events, and account linking drives the calendar fan-out.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"eventsieve/internal/accounts"
	"eventsieve/internal/pipeline"
	"eventsieve/internal/store"
)

// Server routes HTTP requests to pipeline operations.
type Server struct {
	pipeline *pipeline.Pipeline
	queue    *pipeline.Queue
	accounts *accounts.Manager
	store    store.Store
	log      *logrus.Logger
}

func NewServer(p *pipeline.Pipeline, q *pipeline.Queue, am *accounts.Manager, s store.Store, log *logrus.Logger) *Server {
	return &Server{pipeline: p, queue: q, accounts: am, store: s, log: log}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/items", s.handleSubmitItem)
	mux.HandleFunc("GET /api/items", s.handleListItems)
	mux.HandleFunc("DELETE /api/items/{id}", s.handleDeleteItem)
	mux.HandleFunc("GET /api/items/{id}/event", s.handleWaitForEvent)

	mux.HandleFunc("POST /api/paste", s.handlePaste)

	mux.HandleFunc("GET /api/events", s.handleListEvents)
	mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	mux.HandleFunc("PUT /api/events/{id}", s.handleSaveEvent)
	mux.HandleFunc("POST /api/events/{id}/push", s.handlePushEvent)
	mux.HandleFunc("POST /api/events/{id}/discard", s.handleDiscardEvent)
	mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)

	mux.HandleFunc("GET /api/accounts", s.handleListAccounts)
	mux.HandleFunc("POST /api/accounts", s.handleLinkAccount)
	mux.HandleFunc("DELETE /api/accounts/{id}", s.handleUnlinkAccount)

	mux.HandleFunc("GET /api/healthz", s.handleHealth)

	return mux
}

type submitRequest struct {
	SourceKey string `json:"source_key"`
	Source    string `json:"source"`
	AppName   string `json:"app_name"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	BigBody   string `json:"big_body"`
	SubText   string `json:"sub_text"`
	Category  string `json:"category"`
	GroupKey  string `json:"group_key"`
	Timestamp int64  `json:"timestamp"` // origin millis; 0 = now
	Async     bool   `json:"async"`     // enqueue instead of inline processing
}

func (s *Server) handleSubmitItem(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp > 0 {
		ts = time.UnixMilli(req.Timestamp).UTC()
	}
	c := pipeline.Capture{
		SourceKey: req.SourceKey,
		Source:    req.Source,
		AppName:   req.AppName,
		Title:     req.Title,
		Body:      req.Body,
		BigBody:   req.BigBody,
		SubText:   req.SubText,
		Category:  req.Category,
		GroupKey:  req.GroupKey,
		Timestamp: ts,
	}

	if req.Async && s.queue != nil {
		if !s.queue.Enqueue(c) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue full"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	result, err := s.pipeline.SubmitInboundItem(r.Context(), c)
	if err != nil {
		s.log.WithError(err).Error("inbound submission failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.pipeline.ListItems(r.Context(), listOpts(r))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if items == nil {
		items = []*store.InboundItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.DeleteItem(r.Context(), r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleWaitForEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.pipeline.WaitForEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if e == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no event for item"})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handlePaste(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	events, err := s.pipeline.SubmitPastedText(r.Context(), req.Text)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if events == nil {
		events = []*store.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	opts := listOpts(r)
	if status := r.URL.Query().Get("status"); status != "" {
		es := store.EventStatus(status)
		if !es.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status filter"})
			return
		}
		opts.Status = es
	}

	events, err := s.pipeline.ListEvents(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if events == nil {
		events = []*store.CalendarEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := s.pipeline.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if e == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event not found"})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleSaveEvent(w http.ResponseWriter, r *http.Request) {
	var e store.CalendarEvent
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	e.ID = r.PathValue("id")

	if err := s.pipeline.SaveEvent(r.Context(), &e); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, &e)
}

func (s *Server) handlePushEvent(w http.ResponseWriter, r *http.Request) {
	ok, err := s.pipeline.PushEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"pushed": ok})
}

func (s *Server) handleDiscardEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.DiscardEvent(r.Context(), r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	ok, err := s.pipeline.DeleteEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": ok})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListAccounts(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	// Tokens stay server-side.
	type accountView struct {
		ID          string    `json:"id"`
		Email       string    `json:"email"`
		DisplayName string    `json:"display_name"`
		LinkedAt    time.Time `json:"linked_at"`
	}
	views := make([]accountView, 0, len(list))
	for _, a := range list {
		views = append(views, accountView{ID: a.ID, Email: a.Email, DisplayName: a.DisplayName, LinkedAt: a.LinkedAt})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleLinkAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string `json:"id"`
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		AuthCode    string `json:"auth_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.ID == "" || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id and email required"})
		return
	}

	acct, err := s.accounts.Link(r.Context(), req.ID, req.Email, req.DisplayName, req.AuthCode)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "linked", "id": acct.ID})
}

func (s *Server) handleUnlinkAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Unlink(r.Context(), r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlinked"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"stats":  stats,
	})
}

func listOpts(r *http.Request) store.ListOpts {
	opts := store.ListOpts{Limit: 50}
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			opts.Limit = v
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if v, err := strconv.Atoi(o); err == nil && v >= 0 {
			opts.Offset = v
		}
	}
	return opts
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
