package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/owlet-data/gaze.report/internal/gaze"
)

// uploadedText is a lesson text registered for coordinate mapping. The
// frontend measures word bounding boxes and posts them back through
// create-aois; the vocabulary tags decide which words become vocab AOIs.
type uploadedText struct {
	Title      string
	Content    string
	VocabTags  map[string]bool
	UploadedAt time.Time
}

type uploadTextRequest struct {
	Content        string   `json:"content"`
	Title          string   `json:"title"`
	VocabularyTags []string `json:"vocabulary_tags"`
}

func (s *Server) uploadText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}

	var req uploadTextRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Title == "" {
		req.Title = "Untitled"
	}

	tags := make(map[string]bool, len(req.VocabularyTags))
	for _, tag := range req.VocabularyTags {
		tags[strings.ToLower(tag)] = true
	}

	s.textMu.Lock()
	id := fmt.Sprintf("text_%d", time.Now().Unix())
	for n := 2; ; n++ {
		if _, exists := s.texts[id]; !exists {
			break
		}
		id = fmt.Sprintf("text_%d_%d", time.Now().Unix(), n)
	}
	s.texts[id] = &uploadedText{
		Title:      req.Title,
		Content:    req.Content,
		VocabTags:  tags,
		UploadedAt: time.Now(),
	}
	s.textMu.Unlock()

	s.writeJSON(w, map[string]interface{}{
		"status":           "success",
		"text_id":          id,
		"title":            req.Title,
		"vocabulary_count": len(req.VocabularyTags),
		"message":          "Text uploaded and ready for coordinate mapping",
	})
}

type wordCoordinate struct {
	Word string     `json:"word"`
	BBox [4]float64 `json:"bbox"` // x, y, w, h
}

type createAOIsRequest struct {
	TextID      string           `json:"text_id"`
	Coordinates []wordCoordinate `json:"coordinates"`
}

// createTextAOIs turns frontend-measured word boxes into AOIs on the
// addressed session. Words in the text's vocabulary tags become vocab
// AOIs; the rest are content. An unknown text id means no tag list, in
// which case every word counts as vocabulary.
func (s *Server) createTextAOIs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req createAOIsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	s.textMu.Lock()
	text := s.texts[req.TextID]
	s.textMu.Unlock()

	created := 0
	for _, coord := range req.Coordinates {
		if coord.Word == "" {
			continue
		}
		kind := gaze.AOIVocab
		if text != nil && len(text.VocabTags) > 0 && !text.VocabTags[strings.ToLower(coord.Word)] {
			kind = gaze.AOIContent
		}
		_, err := sess.AddAOI(gaze.AOI{
			ID:   fmt.Sprintf("%s_%s", req.TextID, coord.Word),
			X:    coord.BBox[0],
			Y:    coord.BBox[1],
			W:    coord.BBox[2],
			H:    coord.BBox[3],
			Kind: kind,
			Text: coord.Word,
		})
		if err != nil {
			continue
		}
		created++
	}

	s.writeJSON(w, map[string]interface{}{
		"status":            "success",
		"text_id":           req.TextID,
		"aois_created":      created,
		"total_coordinates": len(req.Coordinates),
		"message":           fmt.Sprintf("Created %d AOIs for vocabulary tracking", created),
	})
}

// vocabularyHit is a recent gaze landing on a vocabulary word. Dwell is the
// measured time-on-word at the moment of the hit; it stays zero until a
// fixation on the word has actually been measured.
type vocabularyHit struct {
	Word        string  `json:"word"`
	TimestampMS float64 `json:"timestamp"`
	GazeX       float64 `json:"gaze_x"`
	GazeY       float64 `json:"gaze_y"`
	DwellMS     float64 `json:"dwell_ms"`
	Confidence  float64 `json:"confidence"`
}

func (s *Server) vocabularyHits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	sess, err := s.resolve(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	hits := make([]vocabularyHit, 0)
	for _, hit := range sess.HitLog().RecentHits(100) {
		if !hit.IsVocab {
			continue
		}
		word := hit.AOIText
		if word == "" {
			word = strings.ReplaceAll(hit.AOIID, "_", " ")
		}
		hits = append(hits, vocabularyHit{
			Word:        word,
			TimestampMS: float64(hit.SampleTS) / 1e6,
			GazeX:       hit.GazeX,
			GazeY:       hit.GazeY,
			DwellMS:     hit.DwellMS,
			Confidence:  hit.Confidence,
		})
	}

	var totalVocabHits int64
	for _, agg := range sess.HitLog().Aggregates() {
		if agg.IsVocab {
			totalVocabHits += agg.Count
		}
	}

	s.writeJSON(w, map[string]interface{}{
		"vocabulary_hits":       hits,
		"total_vocabulary_hits": totalVocabHits,
		"timestamp":             nowMillis(),
	})
}
