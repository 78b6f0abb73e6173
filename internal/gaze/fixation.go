package gaze

import (
	"math"
	"sync/atomic"
	"time"
)

// DetectorState represents the I-DT state machine phase.
type DetectorState string

const (
	DetectIdle     DetectorState = "idle"     // Accumulating a classification window
	DetectFixating DetectorState = "fixating" // Inside a fixation, extending it
)

// DetectorConfig holds the I-DT classification parameters.
type DetectorConfig struct {
	WindowMS               float64 // Classification window length (ms)
	DispersionThresholdDeg float64 // Fixation dispersion threshold (degrees of visual angle)
	PixelsPerDegree        float64 // Conversion from visual angle to screen pixels
	MinFixationMS          float64 // Minimum fixation duration to emit (ms)
	ConfidenceThreshold    float64 // Samples below this are excluded from dispersion
	LowConfidenceGap       int     // Consecutive low-confidence samples that break a fixation
}

// DefaultDetectorConfig returns the product tuning defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		WindowMS:               100,
		DispersionThresholdDeg: 1.0,
		PixelsPerDegree:        30,
		MinFixationMS:          200,
		ConfidenceThreshold:    0.8,
		LowConfidenceGap:       3,
	}
}

// DispersionThresholdPx converts the angular threshold to pixels.
func (c DetectorConfig) DispersionThresholdPx() float64 {
	return c.DispersionThresholdDeg * c.PixelsPerDegree
}

// DetectorStats counts detector activity for the performance surface.
type DetectorStats struct {
	SamplesSeen     int64 `json:"samples_seen"`
	Fixations       int64 `json:"fixations"`
	Saccades        int64 `json:"saccades"`
	LowConfDropped  int64 `json:"low_conf_dropped"`
	OutOfOrder      int64 `json:"out_of_order"`
	AbortedFixation int64 `json:"aborted_fixations"`
}

// Detector implements I-DT fixation/saccade identification as an explicit
// state machine. One detector serves one session and is driven from that
// session's logic worker, so the state machine needs no locking; the stats
// counters are atomic because the performance surface reads them from other
// goroutines.
//
// Dispersion is the sum of the per-axis coordinate ranges over the window.
// Samples under the confidence threshold never contribute to dispersion or
// centroids but are counted for gap detection: a run of LowConfidenceGap of
// them ends any fixation in progress.
type Detector struct {
	cfg   DetectorConfig
	state DetectorState

	// resolver, when set, supplies the AOI at a fixation's centroid.
	resolver *AOIIndex

	window     []CalibratedSample // supported (high-confidence) samples
	lowConfRun int
	lastNanos  int64

	samplesSeen     atomic.Int64
	fixations       atomic.Int64
	saccades        atomic.Int64
	lowConfDropped  atomic.Int64
	outOfOrder      atomic.Int64
	abortedFixation atomic.Int64
}

// NewDetector returns an Idle detector. The AOI index may be nil; emitted
// fixations then carry no AOI.
func NewDetector(cfg DetectorConfig, resolver *AOIIndex) *Detector {
	if cfg.LowConfidenceGap <= 0 {
		cfg.LowConfidenceGap = 3
	}
	// lastNanos sits below any session-relative timestamp so the anchor
	// sample at t=0 is accepted.
	return &Detector{cfg: cfg, state: DetectIdle, resolver: resolver, lastNanos: -1}
}

// State returns the current machine state.
func (d *Detector) State() DetectorState { return d.state }

// Stats returns a copy of the activity counters. Safe to call from any
// goroutine.
func (d *Detector) Stats() DetectorStats {
	return DetectorStats{
		SamplesSeen:     d.samplesSeen.Load(),
		Fixations:       d.fixations.Load(),
		Saccades:        d.saccades.Load(),
		LowConfDropped:  d.lowConfDropped.Load(),
		OutOfOrder:      d.outOfOrder.Load(),
		AbortedFixation: d.abortedFixation.Load(),
	}
}

// Process feeds one calibrated sample through the state machine and returns
// any events it finalized. Samples that do not advance the session clock
// are dropped.
func (d *Detector) Process(cs CalibratedSample) []Event {
	if cs.TimestampNanos <= d.lastNanos {
		d.outOfOrder.Add(1)
		return nil
	}
	d.lastNanos = cs.TimestampNanos
	d.samplesSeen.Add(1)

	if cs.Confidence < d.cfg.ConfidenceThreshold || !cs.Valid {
		return d.processLowConfidence()
	}
	d.lowConfRun = 0

	switch d.state {
	case DetectFixating:
		return d.processFixating(cs)
	default:
		return d.processIdle(cs)
	}
}

// processLowConfidence counts gap samples. A full gap run clears the window
// in Idle and ends the fixation in Fixating.
func (d *Detector) processLowConfidence() []Event {
	d.lowConfDropped.Add(1)
	d.lowConfRun++
	if d.lowConfRun < d.cfg.LowConfidenceGap {
		return nil
	}
	d.lowConfRun = 0

	if d.state == DetectFixating {
		ev := d.finalizeFixation()
		d.window = nil
		d.state = DetectIdle
		if ev != nil {
			return []Event{*ev}
		}
		return nil
	}
	d.window = nil
	return nil
}

func (d *Detector) processIdle(cs CalibratedSample) []Event {
	d.window = append(d.window, cs)
	if len(d.window) < 2 {
		return nil
	}

	spanMS := DurationFromNanos(d.window[0].TimestampNanos, cs.TimestampNanos)
	if spanMS < d.cfg.WindowMS {
		return nil
	}

	if dispersion(d.window) <= d.cfg.DispersionThresholdPx() {
		d.state = DetectFixating
		return nil
	}

	sac := d.buildSaccade()
	d.saccades.Add(1)
	// The saccade's end sample opens the next window.
	d.window = []CalibratedSample{cs}
	return []Event{{Type: EventSaccade, Saccade: sac}}
}

func (d *Detector) processFixating(cs CalibratedSample) []Event {
	extended := append(d.window, cs)
	if dispersion(extended) <= d.cfg.DispersionThresholdPx() {
		d.window = extended
		return nil
	}

	// Out-of-dispersion sample: close the fixation and open a new window at
	// the sample that broke it.
	ev := d.finalizeFixation()
	d.window = []CalibratedSample{cs}
	d.state = DetectIdle
	if ev != nil {
		return []Event{*ev}
	}
	return nil
}

// Flush finalizes an in-progress fixation, as on session stop. Returns nil
// when nothing qualifying was in flight.
func (d *Detector) Flush() *Event {
	if d.state != DetectFixating {
		d.window = nil
		return nil
	}
	ev := d.finalizeFixation()
	d.window = nil
	d.state = DetectIdle
	return ev
}

// finalizeFixation emits the current window as a fixation when it meets the
// minimum duration, otherwise counts an abort.
func (d *Detector) finalizeFixation() *Event {
	if len(d.window) == 0 {
		return nil
	}
	start := d.window[0].TimestampNanos
	end := d.window[len(d.window)-1].TimestampNanos
	durMS := DurationFromNanos(start, end)
	if durMS < d.cfg.MinFixationMS {
		d.abortedFixation.Add(1)
		return nil
	}

	var sumX, sumY, sumConf float64
	for _, s := range d.window {
		sumX += s.ScreenX
		sumY += s.ScreenY
		sumConf += s.Confidence
	}
	n := float64(len(d.window))
	fix := &Fixation{
		StartNanos:     start,
		EndNanos:       end,
		DurationMS:     durMS,
		CentroidX:      sumX / n,
		CentroidY:      sumY / n,
		MeanConfidence: sumConf / n,
		SampleCount:    len(d.window),
	}
	if d.resolver != nil {
		if aoi, ok := d.resolver.FindHit(fix.CentroidX, fix.CentroidY); ok {
			fix.AOIID = aoi.ID
		}
	}
	d.fixations.Add(1)
	return &Event{Type: EventFixation, Fixation: fix}
}

// buildSaccade covers the current window's span, reporting the peak
// sample-to-sample velocity in px/s.
func (d *Detector) buildSaccade() *Saccade {
	first := d.window[0]
	last := d.window[len(d.window)-1]
	var peak float64
	for i := 1; i < len(d.window); i++ {
		a, b := d.window[i-1], d.window[i]
		dt := float64(b.TimestampNanos-a.TimestampNanos) / float64(time.Second)
		if dt <= 0 {
			continue
		}
		v := math.Hypot(b.ScreenX-a.ScreenX, b.ScreenY-a.ScreenY) / dt
		if v > peak {
			peak = v
		}
	}
	return &Saccade{
		StartNanos:   first.TimestampNanos,
		EndNanos:     last.TimestampNanos,
		DurationMS:   DurationFromNanos(first.TimestampNanos, last.TimestampNanos),
		StartX:       first.ScreenX,
		StartY:       first.ScreenY,
		EndX:         last.ScreenX,
		EndY:         last.ScreenY,
		PeakVelocity: peak,
	}
}

// dispersion is the sum of per-axis ranges over the samples.
func dispersion(samples []CalibratedSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	xMin, xMax := samples[0].ScreenX, samples[0].ScreenX
	yMin, yMax := samples[0].ScreenY, samples[0].ScreenY
	for _, s := range samples[1:] {
		xMin = math.Min(xMin, s.ScreenX)
		xMax = math.Max(xMax, s.ScreenX)
		yMin = math.Min(yMin, s.ScreenY)
		yMax = math.Max(yMax, s.ScreenY)
	}
	return (xMax - xMin) + (yMax - yMin)
}
