package api

import (
	"net/http"
	"strconv"

	"github.com/owlet-data/gaze.report/internal/gaze"
)

func (s *Server) addAOI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var aoi gaze.AOI
	if err := decodeJSON(w, r, &aoi); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	added, err := sess.AddAOI(aoi)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"status": "success",
		"aoi":    added,
	})
}

func (s *Server) listAOIs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	aois := sess.AOIs()
	s.writeJSON(w, map[string]interface{}{
		"aois":  aois,
		"count": len(aois),
	})
}

func (s *Server) listHits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "invalid_parameter", "invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	st := sess.Statistics()
	s.writeJSON(w, map[string]interface{}{
		"hits":       sess.HitLog().RecentHits(limit),
		"total_hits": st.TotalHits,
		"aggregates": sess.HitLog().Aggregates(),
	})
}
