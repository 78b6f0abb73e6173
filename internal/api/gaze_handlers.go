package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// streamGaze serves snapshots over SSE at the session's snapshot cadence.
// The stream ends when the session stops (the subscriber channel closes)
// or the client goes away.
func (s *Server) streamGaze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSONError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	id, ch := sess.Subscribe()
	defer sess.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				fmt.Fprint(w, "event: end\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) currentGaze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, sess.SnapshotNow())
}
