// Package gaze implements the core gaze-processing engine: sample
// normalization, device-to-screen calibration, AOI hit testing, I-DT
// fixation/saccade detection, hit logging, and cognitive-load estimation.
//
// The package is transport-agnostic. Sessions wire these pieces together
// (see internal/session); HTTP/WS surfaces live in internal/api.
package gaze

import (
	"math"
	"time"
)

// Vec3 is a 3D vector in device space (metres).
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sample is a single raw gaze sample as produced by an intake source.
// Samples are immutable once created.
type Sample struct {
	// TimestampNanos is session-relative and monotonic: within one session
	// every successor sample carries a strictly greater value.
	TimestampNanos int64 `json:"ts_ns"`

	// Device-space 2D gaze position (pre-calibration).
	DeviceX float64 `json:"device_x"`
	DeviceY float64 `json:"device_y"`

	Valid      bool    `json:"valid"`
	Confidence float64 `json:"confidence"` // [0, 1]

	// Optional 3D gaze ray.
	Position3D  Vec3 `json:"position_3d"`
	Direction3D Vec3 `json:"direction_3d"`
	Valid3D     bool `json:"valid_3d"`

	PupilLeftMM  float64 `json:"pupil_left_mm"`
	PupilRightMM float64 `json:"pupil_right_mm"`

	// LowConfidence marks samples below the intake confidence floor (0.5).
	// They pass through the pipeline; only the event detector and the rule
	// engine filter on it.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// CalibratedSample is a Sample plus its screen-space projection. When no
// transform is active the screen coordinates mirror the device coordinates.
type CalibratedSample struct {
	Sample
	ScreenX float64 `json:"screen_x"`
	ScreenY float64 `json:"screen_y"`
}

// Validate reports whether the sample carries usable coordinates. NaN or
// infinite values mark the sample invalid regardless of the Valid flag.
func (s Sample) Validate() bool {
	if math.IsNaN(s.DeviceX) || math.IsNaN(s.DeviceY) {
		return false
	}
	if math.IsInf(s.DeviceX, 0) || math.IsInf(s.DeviceY, 0) {
		return false
	}
	if s.Confidence < 0 || s.Confidence > 1 || math.IsNaN(s.Confidence) {
		return false
	}
	return true
}

// AOIKind is the semantic tier of an AOI. Vocabulary AOIs take lookup
// priority over content and custom AOIs.
type AOIKind string

const (
	AOIVocab   AOIKind = "vocab"
	AOIContent AOIKind = "content"
	AOICustom  AOIKind = "custom"
)

// AOI is a rectangular Area of Interest in screen coordinates.
type AOI struct {
	ID       string  `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	W        float64 `json:"width"`
	H        float64 `json:"height"`
	Kind     AOIKind `json:"kind"`
	Priority int     `json:"priority"`
	Text     string  `json:"text,omitempty"`

	// Difficulty applies to vocabulary AOIs (1 easy .. 5 hard).
	Difficulty int `json:"difficulty,omitempty"`

	Attributes map[string]string `json:"attributes,omitempty"`
}

// Contains reports whether (x, y) falls inside the AOI rectangle. The test
// is half-open on the upper edges so adjacent AOIs never double-hit.
func (a AOI) Contains(x, y float64) bool {
	return x >= a.X && x < a.X+a.W && y >= a.Y && y < a.Y+a.H
}

// CenterX returns the horizontal centre of the AOI rectangle.
func (a AOI) CenterX() float64 { return a.X + a.W/2 }

// CenterY returns the vertical centre of the AOI rectangle.
func (a AOI) CenterY() float64 { return a.Y + a.H/2 }

// CenterDistance returns the pixel distance from (x, y) to the AOI centre.
func (a AOI) CenterDistance(x, y float64) float64 {
	dx := x - a.CenterX()
	dy := y - a.CenterY()
	return math.Hypot(dx, dy)
}

// HitType distinguishes how an AOI hit was established.
type HitType string

const (
	Hit2D       HitType = "2d"
	Hit3D       HitType = "3d"
	HitFixation HitType = "fixation"
)

// HitQuality grades an AOI hit from confidence, centre distance, and dwell.
type HitQuality string

const (
	QualityExcellent HitQuality = "excellent"
	QualityGood      HitQuality = "good"
	QualityFair      HitQuality = "fair"
	QualityPoor      HitQuality = "poor"
)

// Hit records one calibrated sample landing inside an AOI.
type Hit struct {
	Seq        int64      `json:"seq"` // strictly increasing within a session
	SampleTS   int64      `json:"sample_ts"`
	SessionID  string     `json:"session_id"`
	AOIID      string     `json:"aoi_id"`
	AOIText    string     `json:"aoi_text,omitempty"`
	IsVocab    bool       `json:"is_vocabulary_word"`
	GazeX      float64    `json:"gaze_x"`
	GazeY      float64    `json:"gaze_y"`
	AOICenterX float64    `json:"aoi_center_x"`
	AOICenterY float64    `json:"aoi_center_y"`
	Confidence float64    `json:"confidence"`
	Type       HitType    `json:"hit_type"`
	Quality    HitQuality `json:"quality"`

	// DwellMS is the measured time-on-AOI at the moment of the hit. Zero for
	// a bare sample hit; populated only once a fixation on the AOI has been
	// measured.
	DwellMS float64 `json:"dwell_ms,omitempty"`
}

// EventType tags detector output.
type EventType string

const (
	EventFixation EventType = "fixation"
	EventSaccade  EventType = "saccade"
)

// Fixation is a settled-gaze event emitted by the I-DT detector once the
// dispersion and minimum-duration thresholds are both satisfied.
type Fixation struct {
	AOIID          string  `json:"aoi_id,omitempty"` // AOI at the centroid, if any
	StartNanos     int64   `json:"start_ts"`
	EndNanos       int64   `json:"end_ts"`
	DurationMS     float64 `json:"duration_ms"`
	CentroidX      float64 `json:"centroid_x"`
	CentroidY      float64 `json:"centroid_y"`
	MeanConfidence float64 `json:"mean_confidence"`
	SampleCount    int     `json:"sample_count"`
}

// Saccade is a rapid gaze shift between fixations.
type Saccade struct {
	StartNanos   int64   `json:"start_ts"`
	EndNanos     int64   `json:"end_ts"`
	DurationMS   float64 `json:"duration_ms"`
	StartX       float64 `json:"start_x"`
	StartY       float64 `json:"start_y"`
	EndX         float64 `json:"end_x"`
	EndY         float64 `json:"end_y"`
	PeakVelocity float64 `json:"peak_velocity"` // px/s
}

// Event is the detector's tagged output: exactly one of Fixation or Saccade
// is set, matching Type.
type Event struct {
	Type     EventType `json:"type"`
	Fixation *Fixation `json:"fixation,omitempty"`
	Saccade  *Saccade  `json:"saccade,omitempty"`
}

// EndNanos returns the event's end timestamp regardless of variant. The
// rule engine relies on this being monotonic across events of one session.
func (e Event) EndNanos() int64 {
	switch e.Type {
	case EventFixation:
		if e.Fixation != nil {
			return e.Fixation.EndNanos
		}
	case EventSaccade:
		if e.Saccade != nil {
			return e.Saccade.EndNanos
		}
	}
	return 0
}

// DurationFromNanos converts a start/end nanosecond pair to milliseconds.
func DurationFromNanos(startNanos, endNanos int64) float64 {
	return float64(endNanos-startNanos) / float64(time.Millisecond)
}

// GradeHit classifies hit quality from confidence, centre distance, and
// dwell time. Thresholds follow the product tuning: excellent hits demand a
// confident, centred gaze held for a full second.
func GradeHit(confidence, centerDistancePx, dwellMS float64) HitQuality {
	switch {
	case confidence >= 0.8 && centerDistancePx <= 15 && dwellMS >= 1000:
		return QualityExcellent
	case confidence >= 0.6 && centerDistancePx <= 25 && dwellMS >= 500:
		return QualityGood
	case confidence >= 0.4 && centerDistancePx <= 40:
		return QualityFair
	default:
		return QualityPoor
	}
}
