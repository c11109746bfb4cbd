package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// keepAliveInterval is how often an SSE comment is written to hold idle
// connections open through proxies.
const keepAliveInterval = 15 * time.Second

// handleEvents streams session events as server-sent events. The first
// event is always a snapshot of the current state, so a client connecting
// mid-pipeline is never blind.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.ctrl.Subscribe()
	defer s.ctrl.Unsubscribe(sub)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// Subscriber was pruned or the broadcaster shut down.
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("failed to marshal event", "type", ev.EventType(), "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType(), payload)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
