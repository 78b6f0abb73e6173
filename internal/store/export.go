package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/owlet-data/gaze.report/internal/feedback"
	"github.com/owlet-data/gaze.report/internal/gaze"
	"github.com/owlet-data/gaze.report/internal/security"
)

// DefaultExportDir is where session documents land unless overridden.
const DefaultExportDir = "data"

// ExportDocument is the JSON blob written when a session stops. It is the
// complete record of the session: metadata, calibration, AOIs, the derived
// logs, and (optionally) the full gaze trail.
type ExportDocument struct {
	SessionID      string `json:"session_id"`
	StudentName    string `json:"student_name,omitempty"`
	LessonTitle    string `json:"lesson_title,omitempty"`
	StartedAtNanos int64  `json:"started_at_ns"`
	StoppedAtNanos int64  `json:"stopped_at_ns"`
	ExportedAtUnix int64  `json:"exported_at"`

	Calibration *gaze.Transform `json:"calibration,omitempty"`
	AOIs        []gaze.AOI      `json:"aois"`

	// GazeTrail is only populated when trail export is enabled; at 120 Hz
	// it dominates the document size.
	GazeTrail []gaze.CalibratedSample `json:"gaze_trail,omitempty"`

	Hits        []gaze.Hit            `json:"hits"`
	Fixations   []gaze.Fixation       `json:"fixations"`
	Saccades    []gaze.Saccade        `json:"saccades"`
	Discoveries []gaze.VocabDiscovery `json:"vocabulary_discoveries"`
	LoadHistory []gaze.CognitiveLoad  `json:"load_history,omitempty"`

	Statistics   gaze.Statistics       `json:"statistics"`
	Achievements []feedback.Achievement `json:"achievements"`
	Persistence  WriterStats           `json:"persistence"`
}

// ExportPath returns the document path for a session stopped at the given
// unix second. The session id is sanitized before it becomes part of the
// file name.
func ExportPath(dir, sessionID string, epoch int64) string {
	name := fmt.Sprintf("session_%s_%d.json", security.SanitizeFilename(sessionID), epoch)
	return filepath.Join(dir, name)
}

// WriteExport writes the document atomically: temp file in the target
// directory, fsync, then rename. Partially written documents never appear
// under the final name.
func WriteExport(dir string, doc *ExportDocument) (string, error) {
	if dir == "" {
		dir = DefaultExportDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	final := ExportPath(dir, doc.SessionID, doc.ExportedAtUnix)
	if err := security.ValidatePathWithinDirectory(final, dir); err != nil {
		return "", fmt.Errorf("export path rejected: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session_export_*.json")
	if err != nil {
		return "", fmt.Errorf("create temp export: %w", err)
	}
	tmpName := tmp.Name()
	// Clean up the temp file on any failure past this point.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}

	if err := os.Rename(tmpName, final); err != nil {
		return "", fmt.Errorf("rename export: %w", err)
	}
	return final, nil
}

// ReadExport loads a previously written session document.
func ReadExport(path string) (*ExportDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	var doc ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode export %s: %w", path, err)
	}
	return &doc, nil
}
