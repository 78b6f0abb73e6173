package gaze

import (
	"sync"
)

// MaxLiveDiscoveries bounds the vocabulary-discovery list delivered in live
// snapshots. The full set is always kept for the export document.
const MaxLiveDiscoveries = 50

// AOIAggregate accumulates per-AOI interaction totals.
type AOIAggregate struct {
	AOIID          string               `json:"aoi_id"`
	Text           string               `json:"text,omitempty"`
	IsVocab        bool                 `json:"is_vocabulary_word"`
	Count          int64                `json:"hit_count"`
	TotalDwellMS   float64              `json:"total_dwell_ms"`
	MeanConfidence float64              `json:"mean_confidence"`
	Quality        map[HitQuality]int64 `json:"hit_quality_histogram"`
	LastHitNanos   int64                `json:"last_hit_ts"`
}

// VocabDiscovery marks the first qualifying fixation on a vocabulary AOI.
type VocabDiscovery struct {
	AOIID      string  `json:"aoi_id"`
	Text       string  `json:"text"`
	FirstNanos int64   `json:"first_ts"`
	DwellMS    float64 `json:"dwell_ms"` // longest measured fixation so far
}

// Statistics summarizes one session. The hit log fills the gaze-derived
// fields; the owning session supplies intake and persistence counters.
type Statistics struct {
	TotalSamples         int64   `json:"total_samples"`
	TotalHits            int64   `json:"total_hits"`
	DroppedSamples       int64   `json:"dropped_samples"`
	InvalidSamples       int64   `json:"invalid_samples"`
	FixationCount        int64   `json:"fixation_count"`
	SaccadeCount         int64   `json:"saccade_count"`
	VocabularyDiscovered int     `json:"vocabulary_discovered"`
	AverageConfidence    float64 `json:"average_confidence"`
	SessionDurationMS    float64 `json:"session_duration_ms"`
	WordsPerMinute       float64 `json:"words_per_minute"`
	PersistenceDegraded  bool    `json:"persistence_degraded"`
	LostSamples          int64   `json:"lost_samples,omitempty"`
}

// aoiRun tracks the in-progress dwell on the AOI the gaze currently rests
// in. Consecutive samples on the same AOI extend the run; leaving it closes
// the run.
type aoiRun struct {
	aoiID      string
	startNanos int64
	lastNanos  int64
}

func (r *aoiRun) dwellMS() float64 {
	return DurationFromNanos(r.startNanos, r.lastNanos)
}

// HitLog is the per-session record of AOI interaction: the append-only hit
// log, the rolling ongoing-dwell tracker, per-AOI aggregates, measured
// fixations/saccades, and vocabulary discoveries.
//
// The owning session's logic worker is the only writer; accessors take the
// read lock so status endpoints can snapshot concurrently.
type HitLog struct {
	mu        sync.RWMutex
	sessionID string

	nextSeq int64
	hits    []Hit

	run        *aoiRun
	aggregates map[string]*AOIAggregate

	fixations []Fixation
	saccades  []Saccade

	discoveries   []VocabDiscovery
	discoveredIDs map[string]int // AOI id -> index into discoveries

	fixatedWords map[string]struct{} // distinct worded AOIs with a fixation

	totalSamples int64
	sumConf      float64
	firstNanos   int64
	lastNanos    int64
}

// NewHitLog returns an empty log for the given session.
func NewHitLog(sessionID string) *HitLog {
	return &HitLog{
		sessionID:     sessionID,
		aggregates:    make(map[string]*AOIAggregate),
		discoveredIDs: make(map[string]int),
		fixatedWords:  make(map[string]struct{}),
	}
}

// OnSample records one calibrated sample. aoi is nil when the gaze is not
// inside any AOI; that still closes an ongoing dwell run. Returns the hit
// appended, if any.
func (l *HitLog) OnSample(cs CalibratedSample, aoi *AOI) *Hit {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalSamples++
	l.sumConf += cs.Confidence
	if l.firstNanos == 0 {
		l.firstNanos = cs.TimestampNanos
	}
	l.lastNanos = cs.TimestampNanos

	if aoi == nil {
		l.run = nil
		return nil
	}

	var dwellMS float64
	if l.run != nil && l.run.aoiID == aoi.ID {
		prev := l.run.lastNanos
		l.run.lastNanos = cs.TimestampNanos
		dwellMS = l.run.dwellMS()
		l.aggregateFor(*aoi).TotalDwellMS += DurationFromNanos(prev, cs.TimestampNanos)
	} else {
		l.run = &aoiRun{aoiID: aoi.ID, startNanos: cs.TimestampNanos, lastNanos: cs.TimestampNanos}
	}

	hitType := Hit2D
	if cs.Valid3D {
		hitType = Hit3D
	}

	l.nextSeq++
	hit := Hit{
		Seq:        l.nextSeq,
		SampleTS:   cs.TimestampNanos,
		SessionID:  l.sessionID,
		AOIID:      aoi.ID,
		AOIText:    aoi.Text,
		IsVocab:    aoi.Kind == AOIVocab,
		GazeX:      cs.ScreenX,
		GazeY:      cs.ScreenY,
		AOICenterX: aoi.CenterX(),
		AOICenterY: aoi.CenterY(),
		Confidence: cs.Confidence,
		Type:       hitType,
		Quality:    GradeHit(cs.Confidence, aoi.CenterDistance(cs.ScreenX, cs.ScreenY), dwellMS),
		DwellMS:    dwellMS,
	}
	l.hits = append(l.hits, hit)

	agg := l.aggregateFor(*aoi)
	agg.Count++
	agg.MeanConfidence += (cs.Confidence - agg.MeanConfidence) / float64(agg.Count)
	agg.Quality[hit.Quality]++
	agg.LastHitNanos = cs.TimestampNanos

	return &l.hits[len(l.hits)-1]
}

// OnEvent records a finalized detector event. Fixations on vocabulary AOIs
// register discoveries; fixations on any worded AOI count toward the
// reading-speed estimate.
func (l *HitLog) OnEvent(ev Event, aoi *AOI) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch ev.Type {
	case EventSaccade:
		if ev.Saccade != nil {
			l.saccades = append(l.saccades, *ev.Saccade)
		}
	case EventFixation:
		if ev.Fixation == nil {
			return
		}
		fix := *ev.Fixation
		l.fixations = append(l.fixations, fix)
		if aoi == nil {
			return
		}
		if aoi.Text != "" {
			l.fixatedWords[aoi.ID] = struct{}{}
		}
		if aoi.Kind != AOIVocab {
			return
		}
		if i, ok := l.discoveredIDs[aoi.ID]; ok {
			if fix.DurationMS > l.discoveries[i].DwellMS {
				l.discoveries[i].DwellMS = fix.DurationMS
			}
			return
		}
		l.discoveredIDs[aoi.ID] = len(l.discoveries)
		l.discoveries = append(l.discoveries, VocabDiscovery{
			AOIID:      aoi.ID,
			Text:       aoi.Text,
			FirstNanos: fix.StartNanos,
			DwellMS:    fix.DurationMS,
		})
	}
}

func (l *HitLog) aggregateFor(aoi AOI) *AOIAggregate {
	agg, ok := l.aggregates[aoi.ID]
	if !ok {
		agg = &AOIAggregate{
			AOIID:   aoi.ID,
			Text:    aoi.Text,
			IsVocab: aoi.Kind == AOIVocab,
			Quality: make(map[HitQuality]int64),
		}
		l.aggregates[aoi.ID] = agg
	}
	return agg
}

// RecentHits returns up to n hits, newest last.
func (l *HitLog) RecentHits(n int) []Hit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tailCopy(l.hits, n)
}

// AllHits returns a copy of the full hit log.
func (l *HitLog) AllHits() []Hit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tailCopy(l.hits, len(l.hits))
}

// RecentFixations returns up to n measured fixations, newest last.
func (l *HitLog) RecentFixations(n int) []Fixation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tailCopy(l.fixations, n)
}

// AllFixations returns a copy of all measured fixations.
func (l *HitLog) AllFixations() []Fixation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tailCopy(l.fixations, len(l.fixations))
}

// AllSaccades returns a copy of all measured saccades.
func (l *HitLog) AllSaccades() []Saccade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tailCopy(l.saccades, len(l.saccades))
}

// Discoveries returns vocabulary discoveries in first-discovery order,
// bounded to the live limit. The full set remains available via
// AllDiscoveries.
func (l *HitLog) Discoveries() []VocabDiscovery {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tailCopy(l.discoveries, MaxLiveDiscoveries)
}

// AllDiscoveries returns every vocabulary discovery in order.
func (l *HitLog) AllDiscoveries() []VocabDiscovery {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return tailCopy(l.discoveries, len(l.discoveries))
}

// Aggregates returns a copy of the per-AOI aggregates keyed by AOI id.
func (l *HitLog) Aggregates() map[string]AOIAggregate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]AOIAggregate, len(l.aggregates))
	for id, agg := range l.aggregates {
		cp := *agg
		cp.Quality = make(map[HitQuality]int64, len(agg.Quality))
		for q, c := range agg.Quality {
			cp.Quality[q] = c
		}
		out[id] = cp
	}
	return out
}

// Stats fills the gaze-derived statistics fields.
func (l *HitLog) Stats() Statistics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := Statistics{
		TotalSamples:         l.totalSamples,
		TotalHits:            int64(len(l.hits)),
		FixationCount:        int64(len(l.fixations)),
		SaccadeCount:         int64(len(l.saccades)),
		VocabularyDiscovered: len(l.discoveries),
	}
	if l.totalSamples > 0 {
		st.AverageConfidence = l.sumConf / float64(l.totalSamples)
	}
	if l.lastNanos > l.firstNanos {
		elapsedMS := DurationFromNanos(l.firstNanos, l.lastNanos)
		st.SessionDurationMS = elapsedMS
		if minutes := elapsedMS / 60000; minutes > 0 {
			st.WordsPerMinute = float64(len(l.fixatedWords)) / minutes
		}
	}
	return st
}

// tailCopy returns a copy of at most the last n elements of s.
func tailCopy[T any](s []T, n int) []T {
	if n > len(s) {
		n = len(s)
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	copy(out, s[len(s)-n:])
	return out
}
