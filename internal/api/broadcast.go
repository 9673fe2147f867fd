package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/crystaldolphin/whatscast/internal/broadcast"
	"github.com/crystaldolphin/whatscast/internal/bus"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxBodyBytes    = 32 << 20 // inline media travels as base64
)

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var c broadcast.Campaign
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&c); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid campaign: "+err.Error())
		return
	}
	if strings.TrimSpace(c.Message) == "" && c.Media == nil {
		writeErrorMessage(w, http.StatusBadRequest, "message is required")
		return
	}

	var initiator *int64
	if p, ok := PrincipalFrom(r.Context()); ok {
		initiator = p.UserID
	}

	// A dropped client must not abort the campaign halfway.
	summary, err := s.dispatcher.Dispatch(context.WithoutCancel(r.Context()), c, initiator)
	if err != nil {
		s.log.Error("api: dispatch", "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", defaultPageSize)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	limit = min(max(limit, 1), maxPageSize)
	offset = max(offset, 0)

	list, err := s.summaries.ListSummaries(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid id")
		return
	}
	sum, err := s.summaries.GetSummary(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleBroadcastStream(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, bus.TopicBroadcast)
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.dispatcher.Cancel()})
}

func (s *Server) handleSchedules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.scheduler.Next())
}

func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	summary, err := s.scheduler.RunNow(context.WithoutCancel(r.Context()), name)
	if err != nil {
		s.log.Error("api: run schedule", "name", name, "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid "+key)
		return 0, false
	}
	return n, true
}
