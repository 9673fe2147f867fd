package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/crystaldolphin/whatscast/internal/bus"
)

// stream writes every event of topic t as an SSE "data:" frame until the
// client goes away or the topic completes.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, t bus.Topic) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErrorMessage(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, err := s.events.Subscribe(r.Context(), t)
	if err != nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(s.opts.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e, ok := <-events:
			if !ok {
				return
			}
			data, err := bus.Encode(e)
			if err != nil {
				s.log.Error("api: encode event", "topic", t, "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
