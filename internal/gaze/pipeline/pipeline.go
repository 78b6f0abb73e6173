// Package pipeline wires one session's gaze stream through calibration, AOI
// attribution, event detection, logging, load estimation, feedback rules,
// and achievements. The session's logic worker drives it one sample at a
// time, so within a session the stages run strictly in order.
package pipeline

import (
	"reflect"
	"sync/atomic"

	"github.com/owlet-data/gaze.report/internal/feedback"
	"github.com/owlet-data/gaze.report/internal/gaze"
)

// FeedbackSink receives rule-engine commands and achievement unlocks as the
// logic worker produces them. Implementations must not block; slow
// subscribers are the broker's problem, not the pipeline's.
type FeedbackSink interface {
	PublishCommand(cmd feedback.Command)
	PublishUnlocks(unlocks []feedback.Unlock)
}

// PersistenceSink receives raw samples and derived events for durable
// storage. Implementations queue internally and never block the caller.
type PersistenceSink interface {
	AppendSample(sessionID string, cs gaze.CalibratedSample)
	AppendEvent(sessionID string, ev gaze.Event)
}

// DetectionStage classifies calibrated samples into fixation and saccade
// events. The concrete implementation is the I-DT detector in the gaze
// package; tests substitute scripted stages.
type DetectionStage interface {
	// Process consumes one calibrated sample and returns zero or more
	// finalized events.
	Process(cs gaze.CalibratedSample) []gaze.Event
	// Flush finalizes an in-progress fixation at end of stream.
	Flush() *gaze.Event
	// Stats reports detector counters for session statistics.
	Stats() gaze.DetectorStats
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
// This handles the Go interface nil pitfall where interface{} != nil but the underlying value is nil.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Counters aggregates hot-path tallies the session surfaces in its
// statistics. Written by the logic worker, read by the fan-out worker.
type Counters struct {
	Processed  atomic.Int64 // samples accepted into the pipeline
	Invalid    atomic.Int64 // samples rejected by validation
	Degenerate atomic.Int64 // per-sample linear fallbacks from a near-zero homography divisor
}

// SessionPipelineConfig holds dependencies for one session's sample callback.
type SessionPipelineConfig struct {
	SessionID string

	// CurrentTransform returns the calibration transform in effect. It is
	// consulted on every sample so a transform computed mid-stream applies
	// immediately. Nil, or a nil return, leaves samples in device space
	// clamped to the screen bounds.
	CurrentTransform func() *gaze.Transform

	Detector DetectionStage // interface for dependency injection and testing
	AOIs     *gaze.AOIIndex
	HitLog   *gaze.HitLog
	Load     *gaze.LoadEstimator

	Rules        *feedback.RuleEngine // optional: nil disables adaptive feedback
	Achievements *feedback.Tracker    // optional: nil disables achievements
	Persistence  PersistenceSink      // optional: nil disables durable storage
	Feedback     FeedbackSink         // optional: nil drops commands and unlocks

	// ScreenW and ScreenH bound calibrated coordinates before a transform
	// is installed. Zero falls back to 1920x1080.
	ScreenW float64
	ScreenH float64

	// Counters is optional; nil disables counting.
	Counters *Counters

	// OnProcessed, when set, observes every calibrated sample after the
	// stages have run. The session broker uses it to refresh the live
	// snapshot state.
	OnProcessed func(gaze.CalibratedSample)
}

// NewSampleCallback creates the logic-worker callback that carries one sample
// through the full pipeline: calibration, AOI lookup, hit logging, event
// detection, load estimation, rules, and achievements. The callback is not
// safe for concurrent use; the session's logic worker is its only caller.
func (cfg *SessionPipelineConfig) NewSampleCallback() func(gaze.Sample) {
	w, h := cfg.ScreenW, cfg.ScreenH
	if w <= 0 || h <= 0 {
		w, h = 1920, 1080
	}
	identity := gaze.IdentityTransform(w, h)

	// Degenerate-divisor fallbacks are logged sparsely so a bad homography
	// cannot flood the diag stream at 120 Hz.
	var degenerateCount atomic.Uint64

	return func(s gaze.Sample) {
		if !s.Validate() {
			if cfg.Counters != nil {
				cfg.Counters.Invalid.Add(1)
			}
			tracef("[Intake] Rejected malformed sample ts=%d", s.TimestampNanos)
			return
		}

		transform := identity
		if cfg.CurrentTransform != nil {
			if t := cfg.CurrentTransform(); t != nil {
				transform = t
			}
		}
		cs, degenerate := transform.Apply(s)
		if degenerate {
			if cfg.Counters != nil {
				cfg.Counters.Degenerate.Add(1)
			}
			if n := degenerateCount.Add(1); n%50 == 1 {
				diagf("[Calibration] Homography divisor near zero, linear fallback for sample ts=%d (%d so far)", s.TimestampNanos, n)
			}
		}

		tracef("[Intake->Pipeline] sample ts=%d screen=(%.1f,%.1f) conf=%.2f",
			cs.TimestampNanos, cs.ScreenX, cs.ScreenY, cs.Confidence)

		// Stage 1: AOI hit attribution. Blink samples carry no usable
		// coordinates, so they close any open dwell run instead of hitting.
		var hitAOI *gaze.AOI
		if cs.Valid {
			if a, ok := cfg.AOIs.FindHit(cs.ScreenX, cs.ScreenY); ok {
				hitAOI = &a
			}
		}
		if hit := cfg.HitLog.OnSample(cs, hitAOI); hit != nil {
			tracef("[HitLog] hit seq=%d aoi=%s quality=%s dwell=%.0fms",
				hit.Seq, hit.AOIID, hit.Quality, hit.DwellMS)
		}

		// Stage 2: raw-sample persistence path. The sink batches internally
		// and never blocks, so this stays on the hot path.
		if !isNilInterface(cfg.Persistence) {
			cfg.Persistence.AppendSample(cfg.SessionID, cs)
		}

		// Stage 3: fixation/saccade detection.
		if !isNilInterface(cfg.Detector) {
			for _, ev := range cfg.Detector.Process(cs) {
				cfg.DispatchEvent(ev)
			}
		}

		// Stage 4: cognitive load over the valid-sample stream.
		if cfg.Load != nil && cs.Valid {
			cfg.Load.Observe(cs)
		}

		if cfg.Counters != nil {
			cfg.Counters.Processed.Add(1)
		}
		if cfg.OnProcessed != nil {
			cfg.OnProcessed(cs)
		}
	}
}

// DispatchEvent routes one detector event through the hit log, persistence,
// rule engine, and achievements. The sample callback calls it for each
// detected event; the session broker calls it directly for the fixation
// flushed on stop.
func (cfg *SessionPipelineConfig) DispatchEvent(ev gaze.Event) {
	var aoi *gaze.AOI
	if ev.Type == gaze.EventFixation && ev.Fixation != nil && ev.Fixation.AOIID != "" {
		if a, ok := cfg.AOIs.Get(ev.Fixation.AOIID); ok {
			aoi = &a
		}
	}

	cfg.HitLog.OnEvent(ev, aoi)

	if !isNilInterface(cfg.Persistence) {
		cfg.Persistence.AppendEvent(cfg.SessionID, ev)
	}

	switch {
	case ev.Type == gaze.EventFixation && ev.Fixation != nil:
		fix := *ev.Fixation
		diagf("[Detector] fixation %.0fms at (%.0f,%.0f) aoi=%q conf=%.2f",
			fix.DurationMS, fix.CentroidX, fix.CentroidY, fix.AOIID, fix.MeanConfidence)

		if cfg.Rules != nil {
			if cmd := cfg.Rules.OnFixation(fix); cmd != nil {
				opsf("[Rules] %s (aoi=%q, %.0fms)", cmd.Kind, cmd.AOIID, cmd.DurationMS)
				if !isNilInterface(cfg.Feedback) {
					cfg.Feedback.PublishCommand(*cmd)
				}
			}
		}
		cfg.updateAchievements(fix.EndNanos)

	case ev.Type == gaze.EventSaccade && ev.Saccade != nil:
		tracef("[Detector] saccade %.0fms peak=%.0fpx/s",
			ev.Saccade.DurationMS, ev.Saccade.PeakVelocity)
	}
}

// updateAchievements advances every counter the hit log can currently feed
// and publishes any unlocks. Completion-based achievements are advanced by
// the session broker on stop, not here.
func (cfg *SessionPipelineConfig) updateAchievements(atNanos int64) {
	if cfg.Achievements == nil {
		return
	}
	st := cfg.HitLog.Stats()
	var unlocks []feedback.Unlock
	unlocks = append(unlocks, cfg.Achievements.OnVocabularyCount(st.VocabularyDiscovered, atNanos)...)
	unlocks = append(unlocks, cfg.Achievements.OnFocusSeconds(float64(atNanos)/1e9, atNanos)...)
	unlocks = append(unlocks, cfg.Achievements.OnReadingProgress(st.WordsPerMinute, 0, atNanos)...)
	if len(unlocks) == 0 {
		return
	}
	for _, u := range unlocks {
		diagf("[Achievements] unlocked %s (%d pts)", u.AchievementID, u.Points)
	}
	if !isNilInterface(cfg.Feedback) {
		cfg.Feedback.PublishUnlocks(unlocks)
	}
}
