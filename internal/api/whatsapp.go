package api

import (
	"context"
	"net/http"

	"github.com/crystaldolphin/whatscast/internal/bus"
)

// handleAuth starts the handshake and returns the current status. Progress
// arrives on /api/whatsapp/qr.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if err := s.session.InitAuth(context.WithoutCancel(r.Context())); err != nil {
		s.log.Error("api: init auth", "err", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.session.Status())
}

func (s *Server) handleCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

func (s *Server) handleQRStream(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, bus.TopicSession)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.session.Info(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
