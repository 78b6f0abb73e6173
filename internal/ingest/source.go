// Package ingest provides the gaze sample sources a session can stream
// from: a synthetic mock generator, a serial NDJSON adapter, and a push
// bridge fed by the websocket endpoint. All three normalize device frames
// into the internal sample schema before handing them to the session.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/owlet-data/gaze.report/internal/gaze"
)

// LowConfidenceFloor marks samples whose confidence is below the intake
// threshold. Flagged samples still flow through the pipeline; only the
// event detector and the rule engine filter on the flag.
const LowConfidenceFloor = 0.5

var (
	// ErrAlreadyStreaming is returned by StartStream when the session
	// already has an active stream on this source.
	ErrAlreadyStreaming = errors.New("ingest: session already streaming")

	// ErrNotStreaming is returned by Push when no stream is registered for
	// the session.
	ErrNotStreaming = errors.New("ingest: session not streaming")
)

// SampleSink receives normalized samples from a source. The session wires
// its intake queue in here; sinks must not block.
type SampleSink func(gaze.Sample)

// SampleSource is a tagged origin of gaze samples. StartStream begins
// emitting samples for the session until the context is cancelled or
// StopStream is called. StopStream is idempotent.
type SampleSource interface {
	Name() string
	StartStream(ctx context.Context, sessionID string, sink SampleSink) error
	StopStream(sessionID string) error
}

// GazePoint is the 2D gaze payload of a device frame.
type GazePoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
	Valid      *bool   `json:"valid,omitempty"` // omitted means valid
}

// DeviceFrame is one gaze frame as sent by a device adapter, either as an
// NDJSON line on a serial port or as a websocket text message. Timestamps
// are device-clock milliseconds; 3D and pupil fields are optional and only
// present on hardware that reports them.
type DeviceFrame struct {
	Timestamp int64     `json:"timestamp"`
	GazeData  GazePoint `json:"gaze_data"`

	Position3D   *gaze.Vec3 `json:"position_3d,omitempty"`
	Direction3D  *gaze.Vec3 `json:"direction_3d,omitempty"`
	Valid3D      *bool      `json:"valid_3d,omitempty"`
	PupilLeftMM  float64    `json:"pupil_left_mm,omitempty"`
	PupilRightMM float64    `json:"pupil_right_mm,omitempty"`
}

// ParseFrame decodes one device frame from its JSON encoding.
func ParseFrame(data []byte) (DeviceFrame, error) {
	var f DeviceFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return DeviceFrame{}, fmt.Errorf("ingest: malformed frame: %w", err)
	}
	if f.Timestamp <= 0 {
		return DeviceFrame{}, fmt.Errorf("ingest: frame missing timestamp")
	}
	return f, nil
}

// Normalizer converts device frames into session-relative samples. The
// first frame anchors the device clock; subsequent timestamps are offsets
// from it, bumped by one nanosecond whenever the millisecond clock repeats
// so successors stay strictly increasing.
type Normalizer struct {
	anchorMS int64
	lastNS   int64
	started  bool
}

// NewNormalizer returns a Normalizer ready for the first frame.
func NewNormalizer() *Normalizer {
	return &Normalizer{lastNS: -1}
}

// Sample converts one device frame to the internal schema.
func (n *Normalizer) Sample(f DeviceFrame) gaze.Sample {
	if !n.started {
		n.anchorMS = f.Timestamp
		n.started = true
	}
	ts := (f.Timestamp - n.anchorMS) * int64(time.Millisecond)
	if ts <= n.lastNS {
		ts = n.lastNS + 1
	}
	n.lastNS = ts

	valid := f.GazeData.Valid == nil || *f.GazeData.Valid
	if math.IsNaN(f.GazeData.X) || math.IsNaN(f.GazeData.Y) {
		valid = false
	}

	s := gaze.Sample{
		TimestampNanos: ts,
		DeviceX:        f.GazeData.X,
		DeviceY:        f.GazeData.Y,
		Valid:          valid,
		Confidence:     f.GazeData.Confidence,
		LowConfidence:  f.GazeData.Confidence < LowConfidenceFloor,
		PupilLeftMM:    f.PupilLeftMM,
		PupilRightMM:   f.PupilRightMM,
	}
	if f.Position3D != nil {
		s.Position3D = *f.Position3D
	}
	if f.Direction3D != nil {
		s.Direction3D = *f.Direction3D
		s.Valid3D = f.Valid3D == nil || *f.Valid3D
	}
	return s
}
