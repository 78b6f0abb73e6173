package session

import (
	"github.com/owlet-data/gaze.report/internal/feedback"
	"github.com/owlet-data/gaze.report/internal/gaze"
)

// Snapshot bounds keep the 20 Hz fan-out payload small regardless of
// session length. Full logs are reserved for the export document.
const (
	SnapshotTrailLen  = 5
	SnapshotHitsLen   = 3
	SnapshotUnlockLen = 5
)

// CalibrationStatus is the control-plane view of the calibration engine,
// combining the collector state with the active transform.
type CalibrationStatus struct {
	State      gaze.CalibState `json:"state"`
	PointCount int             `json:"point_count"`
	Calibrated bool            `json:"calibrated"`

	// Populated once a transform is active.
	Method         gaze.TransformMethod `json:"method,omitempty"`
	AccuracyPx     float64              `json:"accuracy_px,omitempty"`
	PointsUsed     int                  `json:"points_used,omitempty"`
	FallbackReason string               `json:"fallback_reason,omitempty"`
}

// Snapshot is the composite live view delivered to subscribers at the
// snapshot cadence. Every field is a copy; subscribers may hold a snapshot
// as long as they like without touching session state.
type Snapshot struct {
	SessionID    string `json:"session_id"`
	State        State  `json:"state"`
	Seq          int64  `json:"seq"` // strictly increasing per session
	TakenAtNanos int64  `json:"taken_at_ns"`

	Gaze  *gaze.CalibratedSample  `json:"gaze,omitempty"`
	Trail []gaze.CalibratedSample `json:"trail,omitempty"`

	RecentHits  []gaze.Hit            `json:"recent_hits,omitempty"`
	Discoveries []gaze.VocabDiscovery `json:"vocabulary_discoveries,omitempty"`

	Load        gaze.CognitiveLoad   `json:"cognitive_load"`
	LoadHistory []gaze.CognitiveLoad `json:"load_history,omitempty"`

	RecentCommands []feedback.Command `json:"recent_commands,omitempty"`
	RecentUnlocks  []feedback.Unlock  `json:"recent_unlocks,omitempty"`

	Statistics  gaze.Statistics   `json:"statistics"`
	Calibration CalibrationStatus `json:"calibration"`
}

// FeedbackEvent is one push delivered to feedback subscribers: either a
// rule-engine command or a batch of achievement unlocks, never both.
type FeedbackEvent struct {
	Command *feedback.Command `json:"command,omitempty"`
	Unlocks []feedback.Unlock `json:"unlocks,omitempty"`
}
