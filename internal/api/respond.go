package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crystaldolphin/whatscast/internal/broadcast"
	"github.com/crystaldolphin/whatscast/internal/schedule"
	"github.com/crystaldolphin/whatscast/internal/session"
	"github.com/crystaldolphin/whatscast/internal/store"
)

type errorBody struct {
	Error   string             `json:"error"`
	Summary *broadcast.Summary `json:"summary,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		resolution  *broadcast.ResolutionError
		persistence *broadcast.PersistenceError
		handshake   *session.HandshakeError
	)
	switch {
	case errors.Is(err, session.ErrNotReady):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, schedule.ErrUnknownEntry):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrShutdown):
		writeErrorMessage(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &resolution):
		writeErrorMessage(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &persistence):
		sum := persistence.Summary
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Summary: &sum})
	case errors.As(err, &handshake):
		writeErrorMessage(w, http.StatusInternalServerError, err.Error())
	default:
		writeErrorMessage(w, http.StatusInternalServerError, err.Error())
	}
}
