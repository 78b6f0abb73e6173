// Package session owns the live reading sessions: the registry that tracks
// them and, per session, the worker trio (intake, logic, fan-out) plus the
// engine state they drive. All cross-goroutine reads go through snapshots
// or internally locked accessors.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/owlet-data/gaze.report/internal/config"
	"github.com/owlet-data/gaze.report/internal/feedback"
	"github.com/owlet-data/gaze.report/internal/gaze"
	"github.com/owlet-data/gaze.report/internal/gaze/pipeline"
	"github.com/owlet-data/gaze.report/internal/ingest"
	"github.com/owlet-data/gaze.report/internal/monitoring"
	"github.com/owlet-data/gaze.report/internal/store"
	"github.com/owlet-data/gaze.report/internal/timeutil"
)

// State is the session lifecycle phase.
type State string

const (
	StateCreated   State = "created"
	StateStreaming State = "streaming"
	StateStopped   State = "stopped"
)

// Control-plane errors. The API layer maps these to stable error codes.
var (
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionAlreadyRunning = errors.New("another session is already streaming")
	ErrInvalidState          = errors.New("invalid session state")
	ErrNoGazeSample          = errors.New("no gaze sample captured yet")
	ErrInvalidAOI            = errors.New("aoi requires positive width and height")
)

// StopResult is what a finished session reports back to the control plane.
type StopResult struct {
	ExportURI  string          `json:"export_uri"`
	Statistics gaze.Statistics `json:"final_statistics"`
}

// Session is one live reading session. The intake side (the sample source)
// feeds the bounded sample channel; the logic worker drains it through the
// pipeline; the fan-out worker publishes snapshots at the configured
// cadence. Stop drains in-flight samples bounded by the grace period,
// flushes the detector, and writes the export document.
type Session struct {
	id          string
	studentName string
	lessonTitle string

	cfg       *config.TuningConfig
	clock     timeutil.Clock
	db        *store.DB // nil when running without a database
	exportDir string

	mu        sync.Mutex
	state     State
	startedAt time.Time
	stoppedAt time.Time

	// Engine state. The logic worker is the only writer; every component
	// locks internally for snapshot reads.
	aois      *gaze.AOIIndex
	hitlog    *gaze.HitLog
	load      *gaze.LoadEstimator
	detector  *gaze.Detector
	rules     *feedback.RuleEngine
	achieve   *feedback.Tracker
	calib     *gaze.Calibrator
	transform atomic.Pointer[gaze.Transform]
	counters  pipeline.Counters
	pipe      *pipeline.SessionPipelineConfig
	process   func(gaze.Sample)

	source         ingest.SampleSource
	fallbackSource ingest.SampleSource
	push           *ingest.PushSource // set when the active source accepts pushed frames
	sourceName     string
	fallbackReason string
	cancelSource   context.CancelFunc

	writer *store.BatchWriter // nil when running without a database

	samples chan gaze.Sample
	dropped atomic.Int64

	latestRaw atomic.Pointer[gaze.Sample]           // last intake sample, pre-transform
	latest    atomic.Pointer[gaze.CalibratedSample] // last processed sample

	trailMu     sync.Mutex
	trail       []gaze.CalibratedSample // last SnapshotTrailLen samples
	fullTrail   []gaze.CalibratedSample // complete trail, only when exportTrail
	exportTrail bool

	snapSeq atomic.Int64

	subMu    sync.Mutex
	subs     map[string]chan Snapshot
	feedSubs map[string]chan FeedbackEvent
	subsDone bool // no new subscribers once the session has stopped

	quit      chan struct{}
	logicDone chan struct{}
	fanDone   chan struct{}

	stopOnce   sync.Once
	stopDone   chan struct{}
	stopResult *StopResult
	stopErr    error
}

// sessionOptions carries everything the registry resolves before building a
// session.
type sessionOptions struct {
	id          string
	studentName string
	lessonTitle string
	tuning      *config.TuningConfig
	source      ingest.SampleSource
	fallback    ingest.SampleSource
	db          *store.DB
	exportDir   string
	exportTrail bool
	clock       timeutil.Clock
	transform   *gaze.Transform // restored calibration, optional
}

func newSession(opts sessionOptions) *Session {
	cfg := opts.tuning
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	clock := opts.clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	screenW := float64(cfg.GetScreenWidthPx())
	screenH := float64(cfg.GetScreenHeightPx())

	s := &Session{
		id:          opts.id,
		studentName: opts.studentName,
		lessonTitle: opts.lessonTitle,
		cfg:         cfg,
		clock:       clock,
		db:          opts.db,
		exportDir:   opts.exportDir,
		exportTrail: opts.exportTrail,
		state:       StateCreated,

		aois:    gaze.NewAOIIndex(),
		hitlog:  gaze.NewHitLog(opts.id),
		load:    gaze.NewLoadEstimator(gaze.DefaultLoadEstimatorConfig()),
		achieve: feedback.NewTracker(),
		calib:   gaze.NewCalibrator(screenW, screenH),

		source:         opts.source,
		fallbackSource: opts.fallback,

		samples:  make(chan gaze.Sample, cfg.GetSampleQueueDepth()),
		subs:     make(map[string]chan Snapshot),
		feedSubs: make(map[string]chan FeedbackEvent),

		quit:      make(chan struct{}),
		logicDone: make(chan struct{}),
		fanDone:   make(chan struct{}),
		stopDone:  make(chan struct{}),
	}

	s.detector = gaze.NewDetector(gaze.DetectorConfig{
		WindowMS:               float64(cfg.GetFixationWindowMS()),
		DispersionThresholdDeg: cfg.GetDispersionThresholdDeg(),
		PixelsPerDegree:        cfg.GetPixelsPerDegree(),
		MinFixationMS:          float64(cfg.GetMinFixationMS()),
		ConfidenceThreshold:    cfg.GetConfidenceThreshold(),
		LowConfidenceGap:       3,
	}, s.aois)

	s.rules = feedback.NewRuleEngine(opts.id, feedback.RuleConfig{
		VocabularyThresholdMS: float64(cfg.GetVocabThresholdMS()),
		GrammarThresholdMS:    float64(cfg.GetGrammarThresholdMS()),
		HintThresholdMS:       float64(cfg.GetHintThresholdMS()),
		RateLimitMS:           float64(cfg.GetFeedbackRateLimitMS()),
		EnableVocabulary:      true,
		EnableGrammar:         true,
		EnableHints:           true,
	}, s.aois)

	if opts.db != nil {
		s.writer = store.NewBatchWriter(opts.db,
			cfg.GetPersistBatchSize(), cfg.GetPersistBatchInterval(), cfg.GetSampleQueueDepth())
	}
	if opts.transform != nil {
		s.transform.Store(opts.transform)
	}

	s.pipe = &pipeline.SessionPipelineConfig{
		SessionID:        opts.id,
		CurrentTransform: s.transform.Load,
		Detector:         s.detector,
		AOIs:             s.aois,
		HitLog:           s.hitlog,
		Load:             s.load,
		Rules:            s.rules,
		Achievements:     s.achieve,
		Feedback:         s,
		ScreenW:          screenW,
		ScreenH:          screenH,
		Counters:         &s.counters,
		OnProcessed:      s.observeProcessed,
	}
	if s.writer != nil {
		s.pipe.Persistence = s.writer
	}
	s.process = s.pipe.NewSampleCallback()
	return s
}

// start brings the session from Created to Streaming: source first (with
// the mock fallback when the configured source is unavailable), then the
// persistence, logic, and fan-out workers.
func (s *Session) start() error {
	ctx, cancel := context.WithCancel(context.Background())
	err := s.source.StartStream(ctx, s.id, s.offer)
	if err != nil && s.fallbackSource != nil && s.fallbackSource != s.source {
		monitoring.Logf("[Session %s] Source %q unavailable (%v), falling back to %q",
			shortID(s.id), s.source.Name(), err, s.fallbackSource.Name())
		s.fallbackReason = err.Error()
		s.source = s.fallbackSource
		err = s.source.StartStream(ctx, s.id, s.offer)
	}
	if err != nil {
		cancel()
		return fmt.Errorf("start %s stream: %w", s.source.Name(), err)
	}
	s.cancelSource = cancel
	s.sourceName = s.source.Name()
	if p, ok := s.source.(*ingest.PushSource); ok {
		s.push = p
	}

	if s.writer != nil {
		s.writer.Start()
	}
	go s.logicLoop()
	go s.fanoutLoop()

	s.mu.Lock()
	s.state = StateStreaming
	s.startedAt = s.clock.Now()
	s.mu.Unlock()

	monitoring.Logf("[Session %s] Streaming from %q source", shortID(s.id), s.sourceName)
	return nil
}

// offer is the intake sink. It never blocks: when the queue is full the
// oldest queued sample is evicted and counted as dropped, keeping the
// freshest gaze data flowing.
func (s *Session) offer(sample gaze.Sample) {
	s.latestRaw.Store(&sample)

	select {
	case s.samples <- sample:
		return
	default:
	}

	select {
	case <-s.samples:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.samples <- sample:
	default:
		s.dropped.Add(1)
	}
}

// logicLoop drains the sample queue through the pipeline. On quit it keeps
// consuming whatever is already queued, bounded by the stop grace period.
func (s *Session) logicLoop() {
	defer close(s.logicDone)
	for {
		select {
		case sample := <-s.samples:
			s.process(sample)
		case <-s.quit:
			grace := s.clock.NewTimer(s.cfg.GetStopGrace())
			defer grace.Stop()
			for {
				select {
				case sample := <-s.samples:
					s.process(sample)
				case <-grace.C():
					return
				default:
					return
				}
			}
		}
	}
}

// observeProcessed runs on the logic worker after each sample clears the
// pipeline, refreshing the state snapshots are built from.
func (s *Session) observeProcessed(cs gaze.CalibratedSample) {
	s.latest.Store(&cs)

	s.trailMu.Lock()
	if len(s.trail) >= SnapshotTrailLen {
		copy(s.trail, s.trail[1:])
		s.trail[len(s.trail)-1] = cs
	} else {
		s.trail = append(s.trail, cs)
	}
	if s.exportTrail {
		s.fullTrail = append(s.fullTrail, cs)
	}
	s.trailMu.Unlock()
}

// fanoutLoop publishes a snapshot to every subscriber at the snapshot
// cadence.
func (s *Session) fanoutLoop() {
	defer close(s.fanDone)
	ticker := s.clock.NewTicker(s.cfg.GetSnapshotInterval())
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C():
			s.broadcast(s.SnapshotNow())
		}
	}
}

func (s *Session) broadcast(snap Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// slow subscriber: skip this tick rather than stall the cadence
		}
	}
}

// Subscribe registers a snapshot sink and returns its id and channel. After
// the session has stopped the returned channel is already closed.
func (s *Session) Subscribe() (string, <-chan Snapshot) {
	id := uuid.NewString()
	ch := make(chan Snapshot, 8)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subsDone {
		close(ch)
		return id, ch
	}
	s.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a snapshot sink.
func (s *Session) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// SubscribeFeedback registers a sink for rule-engine commands and
// achievement unlocks pushed as they happen.
func (s *Session) SubscribeFeedback() (string, <-chan FeedbackEvent) {
	id := uuid.NewString()
	ch := make(chan FeedbackEvent, 16)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subsDone {
		close(ch)
		return id, ch
	}
	s.feedSubs[id] = ch
	return id, ch
}

// UnsubscribeFeedback removes and closes a feedback sink.
func (s *Session) UnsubscribeFeedback(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.feedSubs[id]; ok {
		close(ch)
		delete(s.feedSubs, id)
	}
}

// PublishCommand implements pipeline.FeedbackSink.
func (s *Session) PublishCommand(cmd feedback.Command) {
	s.pushFeedback(FeedbackEvent{Command: &cmd})
}

// PublishUnlocks implements pipeline.FeedbackSink.
func (s *Session) PublishUnlocks(unlocks []feedback.Unlock) {
	if len(unlocks) == 0 {
		return
	}
	s.pushFeedback(FeedbackEvent{Unlocks: unlocks})
}

func (s *Session) pushFeedback(ev FeedbackEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.feedSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// PushFrame feeds one externally delivered frame into the session. Only
// sessions running on the push source accept frames; the returned count is
// the session's running frame total for transport-level acks.
func (s *Session) PushFrame(frame ingest.DeviceFrame) (int64, error) {
	if s.push == nil {
		return 0, fmt.Errorf("%w: %q source does not accept pushed frames", ErrInvalidState, s.sourceName)
	}
	return s.push.Push(s.id, frame)
}

// SnapshotNow assembles a snapshot of the live state on demand.
func (s *Session) SnapshotNow() Snapshot {
	s.trailMu.Lock()
	trail := make([]gaze.CalibratedSample, len(s.trail))
	copy(trail, s.trail)
	s.trailMu.Unlock()

	return Snapshot{
		SessionID:      s.id,
		State:          s.State(),
		Seq:            s.snapSeq.Add(1),
		TakenAtNanos:   s.clock.Now().UnixNano(),
		Gaze:           s.latest.Load(),
		Trail:          trail,
		RecentHits:     s.hitlog.RecentHits(SnapshotHitsLen),
		Discoveries:    s.hitlog.Discoveries(),
		Load:           s.load.Current(),
		LoadHistory:    s.load.History(),
		RecentCommands: s.rules.Recent(),
		RecentUnlocks:  s.achieve.RecentUnlocks(SnapshotUnlockLen),
		Statistics:     s.Statistics(),
		Calibration:    s.CalibrationStatus(),
	}
}

// ExportNow assembles a live export document without disturbing the running
// session. Unlike the stop-time export it copies the trail instead of
// consuming it, and StoppedAtNanos stays zero until the session stops.
func (s *Session) ExportNow() *store.ExportDocument {
	s.trailMu.Lock()
	trail := make([]gaze.CalibratedSample, len(s.fullTrail))
	copy(trail, s.fullTrail)
	s.trailMu.Unlock()

	s.mu.Lock()
	started := s.startedAt
	stopped := s.stoppedAt
	s.mu.Unlock()

	doc := &store.ExportDocument{
		SessionID:      s.id,
		StudentName:    s.studentName,
		LessonTitle:    s.lessonTitle,
		ExportedAtUnix: s.clock.Now().Unix(),
		Calibration:    s.transform.Load(),
		AOIs:           s.aois.List(),
		GazeTrail:      trail,
		Hits:           s.hitlog.AllHits(),
		Fixations:      s.hitlog.AllFixations(),
		Saccades:       s.hitlog.AllSaccades(),
		Discoveries:    s.hitlog.AllDiscoveries(),
		LoadHistory:    s.load.History(),
		Statistics:     s.Statistics(),
		Achievements:   s.achieve.Snapshot(),
	}
	if !started.IsZero() {
		doc.StartedAtNanos = started.UnixNano()
	}
	if !stopped.IsZero() {
		doc.StoppedAtNanos = stopped.UnixNano()
	}
	if s.writer != nil {
		doc.Persistence = s.writer.Stats()
	}
	return doc
}

// Statistics merges the hit-log counters with intake and persistence state.
func (s *Session) Statistics() gaze.Statistics {
	st := s.hitlog.Stats()
	st.DroppedSamples = s.dropped.Load()
	st.InvalidSamples = s.counters.Invalid.Load()
	if s.writer != nil {
		ws := s.writer.Stats()
		st.PersistenceDegraded = ws.Degraded
		st.LostSamples = ws.SamplesLost
	}
	return st
}

// CalibrationBegin clears collected points and starts collecting.
func (s *Session) CalibrationBegin() CalibrationStatus {
	s.calib.Begin()
	return s.CalibrationStatus()
}

// CalibrationCapture pairs a screen target with the most recent raw gaze
// sample. The device coordinates are captured pre-transform so recalibration
// is not skewed by the active mapping.
func (s *Session) CalibrationCapture(index int, screenX, screenY float64) (gaze.CalibrationPoint, error) {
	raw := s.latestRaw.Load()
	if raw == nil {
		return gaze.CalibrationPoint{}, ErrNoGazeSample
	}
	return s.calib.CapturePoint(index, screenX, screenY, *raw)
}

// CalibrationCompute solves for a transform over the collected points and,
// on success, swaps it in atomically so the next sample already maps through
// it. The previous transform stays active on error.
func (s *Session) CalibrationCompute(method gaze.TransformMethod) (*gaze.Transform, error) {
	t, err := s.calib.Compute(method != gaze.MethodLinear)
	if err != nil {
		return nil, err
	}
	s.transform.Store(t)
	s.persistCalibration(t)
	monitoring.Logf("[Session %s] Calibration ready: method=%s accuracy=%.2fpx points=%d",
		shortID(s.id), t.Method, t.AccuracyPx, t.PointsUsed)
	return t, nil
}

// CalibrationStatus reports collector state plus the active transform.
func (s *Session) CalibrationStatus() CalibrationStatus {
	st := CalibrationStatus{
		State:      s.calib.State(),
		PointCount: s.calib.PointCount(),
	}
	if t := s.transform.Load(); t != nil && t.Calibrated {
		st.Calibrated = true
		st.Method = t.Method
		st.AccuracyPx = t.AccuracyPx
		st.PointsUsed = t.PointsUsed
		st.FallbackReason = t.FallbackReason
	}
	return st
}

// Transform returns the active calibration transform, nil before any.
func (s *Session) Transform() *gaze.Transform {
	return s.transform.Load()
}

func (s *Session) persistCalibration(t *gaze.Transform) {
	if s.db == nil {
		return
	}
	blob, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.db.SaveCalibration(s.id, blob); err != nil {
		monitoring.Logf("[Session %s] Persist calibration: %v", shortID(s.id), err)
	}
}

// AddAOI validates and registers an AOI, assigning an id and kind when
// missing. Takes effect on the next processed sample.
func (s *Session) AddAOI(a gaze.AOI) (gaze.AOI, error) {
	if a.W <= 0 || a.H <= 0 {
		return gaze.AOI{}, ErrInvalidAOI
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Kind == "" {
		a.Kind = gaze.AOICustom
	}
	s.aois.Add(a)
	return a, nil
}

// RemoveAOI drops an AOI by id, reporting whether it existed.
func (s *Session) RemoveAOI(id string) bool {
	if _, ok := s.aois.Get(id); !ok {
		return false
	}
	s.aois.Remove(id)
	return true
}

// AOIs returns the registered AOIs in lookup order.
func (s *Session) AOIs() []gaze.AOI { return s.aois.List() }

// HitLog exposes the hit and fixation record; all accessors lock
// internally.
func (s *Session) HitLog() *gaze.HitLog { return s.hitlog }

// Achievements exposes the tracker; all accessors lock internally.
func (s *Session) Achievements() *feedback.Tracker { return s.achieve }

// Rules exposes the rule engine; all accessors lock internally.
func (s *Session) Rules() *feedback.RuleEngine { return s.rules }

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// StudentName returns the student label supplied at start.
func (s *Session) StudentName() string { return s.studentName }

// LessonTitle returns the lesson label supplied at start.
func (s *Session) LessonTitle() string { return s.lessonTitle }

// SourceName reports which sample source feeds the session.
func (s *Session) SourceName() string { return s.sourceName }

// FallbackReason is non-empty when the configured source was unavailable
// and the session fell back to the secondary source.
func (s *Session) FallbackReason() string { return s.fallbackReason }

// State returns the lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns the wall-clock start time, zero before Streaming.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// PerformanceStats is the per-session view behind the performance endpoint.
type PerformanceStats struct {
	SessionID          string             `json:"session_id"`
	State              State              `json:"state"`
	Source             string             `json:"source"`
	SourceFallback     string             `json:"source_fallback,omitempty"`
	Processed          int64              `json:"samples_processed"`
	Invalid            int64              `json:"samples_invalid"`
	Dropped            int64              `json:"samples_dropped"`
	Degenerate         int64              `json:"degenerate_fallbacks"`
	QueueDepth         int                `json:"queue_depth"`
	QueueCapacity      int                `json:"queue_capacity"`
	Subscribers        int                `json:"subscribers"`
	Snapshots          int64              `json:"snapshots_published"`
	FeedbackEmitted    int64              `json:"feedback_emitted"`
	FeedbackSuppressed int64              `json:"feedback_suppressed"`
	Detector           gaze.DetectorStats `json:"detector"`
	Persistence        *store.WriterStats `json:"persistence,omitempty"`
}

// Performance assembles the hot-path counters for the monitoring surface.
func (s *Session) Performance() PerformanceStats {
	s.subMu.Lock()
	subscribers := len(s.subs) + len(s.feedSubs)
	s.subMu.Unlock()

	emitted, suppressed := s.rules.Counters()
	ps := PerformanceStats{
		SessionID:          s.id,
		State:              s.State(),
		Source:             s.sourceName,
		SourceFallback:     s.fallbackReason,
		Processed:          s.counters.Processed.Load(),
		Invalid:            s.counters.Invalid.Load(),
		Dropped:            s.dropped.Load(),
		Degenerate:         s.counters.Degenerate.Load(),
		QueueDepth:         len(s.samples),
		QueueCapacity:      cap(s.samples),
		Subscribers:        subscribers,
		Snapshots:          s.snapSeq.Load(),
		FeedbackEmitted:    emitted,
		FeedbackSuppressed: suppressed,
		Detector:           s.detector.Stats(),
	}
	if s.writer != nil {
		ws := s.writer.Stats()
		ps.Persistence = &ws
	}
	return ps
}

// Stop ends the session: the source is stopped, queued samples drain
// bounded by the grace period, the open fixation is flushed, persistence
// flushes, subscribers receive a final snapshot and are closed, and the
// export document is written. Idempotent; every caller gets the same
// result.
func (s *Session) Stop() (*StopResult, error) {
	s.stopOnce.Do(s.doStop)
	<-s.stopDone
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopResult, s.stopErr
}

func (s *Session) doStop() {
	defer close(s.stopDone)

	if err := s.source.StopStream(s.id); err != nil && !errors.Is(err, ingest.ErrNotStreaming) {
		monitoring.Logf("[Session %s] Stop stream: %v", shortID(s.id), err)
	}
	if s.cancelSource != nil {
		s.cancelSource()
	}

	close(s.quit)
	<-s.logicDone
	<-s.fanDone

	// Finalize whatever fixation was in flight when the stream cut off.
	if ev := s.detector.Flush(); ev != nil {
		s.pipe.DispatchEvent(*ev)
	}

	st := s.hitlog.Stats()
	endNanos := int64(st.SessionDurationMS * 1e6)
	s.PublishUnlocks(s.achieve.OnSessionStop(st.AverageConfidence, endNanos))

	if s.writer != nil {
		s.writer.Stop()
	}

	s.mu.Lock()
	s.state = StateStopped
	s.stoppedAt = s.clock.Now()
	s.mu.Unlock()

	// Subscribers get one final snapshot reflecting the flushed state, then
	// end-of-stream.
	s.closeSubscribers(s.SnapshotNow())

	stats := s.Statistics()
	uri, err := s.export(stats)
	if err != nil {
		monitoring.Logf("[Session %s] Export failed: %v", shortID(s.id), err)
	} else {
		monitoring.Logf("[Session %s] Stopped: %d samples, %d hits, %d fixations, export %s",
			shortID(s.id), stats.TotalSamples, stats.TotalHits, stats.FixationCount, uri)
	}
	s.finishRow(uri)

	s.mu.Lock()
	s.stopResult = &StopResult{ExportURI: uri, Statistics: stats}
	s.stopErr = err
	s.mu.Unlock()
}

func (s *Session) closeSubscribers(final Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subsDone = true
	for id, ch := range s.subs {
		select {
		case ch <- final:
		default:
		}
		close(ch)
		delete(s.subs, id)
	}
	for id, ch := range s.feedSubs {
		close(ch)
		delete(s.feedSubs, id)
	}
}

// export assembles and atomically writes the session document.
func (s *Session) export(stats gaze.Statistics) (string, error) {
	s.trailMu.Lock()
	trail := s.fullTrail
	s.fullTrail = nil
	s.trailMu.Unlock()

	doc := &store.ExportDocument{
		SessionID:      s.id,
		StudentName:    s.studentName,
		LessonTitle:    s.lessonTitle,
		StartedAtNanos: s.startedAt.UnixNano(),
		StoppedAtNanos: s.stoppedAt.UnixNano(),
		ExportedAtUnix: s.clock.Now().Unix(),
		Calibration:    s.transform.Load(),
		AOIs:           s.aois.List(),
		GazeTrail:      trail,
		Hits:           s.hitlog.AllHits(),
		Fixations:      s.hitlog.AllFixations(),
		Saccades:       s.hitlog.AllSaccades(),
		Discoveries:    s.hitlog.AllDiscoveries(),
		LoadHistory:    s.load.History(),
		Statistics:     stats,
		Achievements:   s.achieve.Snapshot(),
	}
	if s.writer != nil {
		doc.Persistence = s.writer.Stats()
	}
	return store.WriteExport(s.exportDir, doc)
}

func (s *Session) finishRow(exportURI string) {
	if s.db == nil {
		return
	}
	if err := s.db.FinishSession(s.id, s.stoppedAt.UnixNano(), exportURI); err != nil {
		monitoring.Logf("[Session %s] Finish session row: %v", shortID(s.id), err)
	}
}

// shortID compacts a uuid for log tags.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
