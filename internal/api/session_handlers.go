package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/owlet-data/gaze.report/internal/session"
)

type startSessionRequest struct {
	SessionID   string `json:"sessionId"`
	StudentName string `json:"studentName"`
	LessonTitle string `json:"lessonTitle"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	var req startSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}

	sess, alreadyRunning, err := s.registry.Start(session.StartOptions{
		SessionID:   req.SessionID,
		StudentName: req.StudentName,
		LessonTitle: req.LessonTitle,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := "started"
	if alreadyRunning {
		status = "already_running"
	}
	s.writeJSON(w, map[string]interface{}{
		"status":     status,
		"session_id": sess.ID(),
		"started_at": sess.StartedAt().UnixMilli(),
		"source":     sess.SourceName(),
	})
}

type stopSessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	var req stopSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}

	res, err := s.registry.Stop(req.SessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"status":           "stopped",
		"export_uri":       res.ExportURI,
		"final_statistics": res.Statistics,
	})
}

func (s *Server) sessionStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"session_id": sess.ID(),
		"state":      sess.State(),
		"statistics": sess.Statistics(),
	})
}

// revisionItem is one vocabulary word ranked for post-session review.
type revisionItem struct {
	Word           string  `json:"word"`
	AOIID          string  `json:"aoi_id"`
	TotalDwellMS   float64 `json:"total_dwell_ms"`
	HitCount       int64   `json:"hit_count"`
	MeanConfidence float64 `json:"mean_confidence"`
	LastHitTS      int64   `json:"last_hit_ts"`
}

// revisionList ranks the vocabulary words the reader struggled with, most
// dwelled-on first, ties broken by recency.
func (s *Server) revisionList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]revisionItem, 0)
	for _, agg := range sess.HitLog().Aggregates() {
		if !agg.IsVocab {
			continue
		}
		word := agg.Text
		if word == "" {
			word = agg.AOIID
		}
		items = append(items, revisionItem{
			Word:           word,
			AOIID:          agg.AOIID,
			TotalDwellMS:   agg.TotalDwellMS,
			HitCount:       agg.Count,
			MeanConfidence: agg.MeanConfidence,
			LastHitTS:      agg.LastHitNanos,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].TotalDwellMS != items[j].TotalDwellMS {
			return items[i].TotalDwellMS > items[j].TotalDwellMS
		}
		return items[i].LastHitTS > items[j].LastHitTS
	})
	if len(items) > 50 {
		items = items[:50]
	}

	s.writeJSON(w, map[string]interface{}{
		"session_id": sess.ID(),
		"revision":   items,
		"count":      len(items),
	})
}

// exportSession returns the full export document for a live session, the
// same shape the stop-time export writes to disk. Tools can snapshot a
// running session without stopping it.
func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, sess.ExportNow())
}

func (s *Server) listAchievements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	tracker := sess.Achievements()
	s.writeJSON(w, map[string]interface{}{
		"session_id":   sess.ID(),
		"achievements": tracker.Snapshot(),
		"unlocked":     tracker.UnlockedCount(),
		"total_points": tracker.TotalPoints(),
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"service":   "gaze-report",
		"version":   s.version,
		"timestamp": nowMillis(),
	})
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}

	resp := map[string]interface{}{
		"status":    "running",
		"version":   s.version,
		"timestamp": nowMillis(),
	}

	sess, ok := s.registry.Active()
	if !ok {
		resp["streaming"] = map[string]interface{}{"active": false}
		s.writeJSON(w, resp)
		return
	}

	st := sess.Statistics()
	snap := sess.SnapshotNow()
	resp["streaming"] = map[string]interface{}{
		"active":        sess.State() == session.StateStreaming,
		"session_id":    sess.ID(),
		"student_name":  sess.StudentName(),
		"lesson_title":  sess.LessonTitle(),
		"source":        sess.SourceName(),
		"fallback":      sess.FallbackReason(),
		"total_samples": st.TotalSamples,
		"duration_ms":   st.SessionDurationMS,
	}
	resp["session_stats"] = st
	resp["current_gaze"] = snap.Gaze != nil
	resp["aoi_hits"] = st.TotalHits
	resp["calibration"] = sess.CalibrationStatus()
	s.writeJSON(w, resp)
}

func (s *Server) showPerformance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	perf := sess.Performance()
	st := sess.Statistics()
	samplesPerSecond := 0.0
	if st.SessionDurationMS > 0 {
		samplesPerSecond = float64(st.TotalSamples) / (st.SessionDurationMS / 1000)
	}
	s.writeJSON(w, map[string]interface{}{
		"session_id":         sess.ID(),
		"performance":        perf,
		"samples_per_second": samplesPerSecond,
		"uptime_ms":          time.Since(sess.StartedAt()).Milliseconds(),
		"timestamp":          nowMillis(),
	})
}
