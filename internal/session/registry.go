package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/owlet-data/gaze.report/internal/config"
	"github.com/owlet-data/gaze.report/internal/gaze"
	"github.com/owlet-data/gaze.report/internal/ingest"
	"github.com/owlet-data/gaze.report/internal/monitoring"
	"github.com/owlet-data/gaze.report/internal/store"
	"github.com/owlet-data/gaze.report/internal/timeutil"
)

// RegistryOptions wires the shared dependencies every session draws on.
type RegistryOptions struct {
	Tuning    *config.TuningConfig
	DB        *store.DB // nil disables the database sink
	ExportDir string

	// Source feeds new sessions; nil defaults to the mock source. Fallback
	// takes over when Source fails to start; nil defaults to the mock
	// source unless Source already is it.
	Source   ingest.SampleSource
	Fallback ingest.SampleSource

	Clock timeutil.Clock

	// ExportTrail includes the full gaze trail in export documents. At
	// 120 Hz this dominates the document size, so it is opt-in.
	ExportTrail bool

	// RestoreCalibration seeds new sessions with the most recently
	// persisted transform so returning readers skip recalibration.
	RestoreCalibration bool

	// SeedLesson preloads every new session with the built-in lesson AOIs.
	SeedLesson bool
}

// Registry tracks every session by id plus the single active (streaming)
// one the id-less control endpoints operate on.
type Registry struct {
	opts  RegistryOptions
	clock timeutil.Clock

	mu       sync.Mutex
	sessions map[string]*Session
	active   *Session
}

// NewRegistry builds a registry, filling in the mock source and real clock
// defaults.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Tuning == nil {
		opts.Tuning = config.EmptyTuningConfig()
	}
	if opts.ExportDir == "" {
		opts.ExportDir = store.DefaultExportDir
	}
	mock := func() *ingest.MockSource {
		return ingest.NewMockSource(opts.Tuning.GetSamplingRateHz(),
			float64(opts.Tuning.GetScreenWidthPx()), float64(opts.Tuning.GetScreenHeightPx()))
	}
	if opts.Source == nil {
		opts.Source = mock()
	}
	if opts.Fallback == nil {
		if _, isMock := opts.Source.(*ingest.MockSource); !isMock {
			opts.Fallback = mock()
		}
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Registry{
		opts:     opts,
		clock:    clock,
		sessions: make(map[string]*Session),
	}
}

// StartOptions name a new session.
type StartOptions struct {
	SessionID   string // empty means generate
	StudentName string
	LessonTitle string

	// Source overrides the registry source for this session. The websocket
	// ingest path starts its sessions on the push bridge regardless of the
	// configured device source.
	Source ingest.SampleSource
}

// Start creates and starts a session. Restarting the session that is
// already streaming is idempotent: the running session is returned with
// alreadyRunning set. Asking for a new session while a different one is
// streaming fails with ErrSessionAlreadyRunning; starting a stopped
// session id again fails with ErrInvalidState.
func (r *Registry) Start(opts StartOptions) (s *Session, alreadyRunning bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if opts.SessionID != "" {
		if existing, ok := r.sessions[opts.SessionID]; ok {
			if existing.State() == StateStreaming {
				return existing, true, nil
			}
			return nil, false, fmt.Errorf("%w: session %s already stopped", ErrInvalidState, opts.SessionID)
		}
	}
	if r.active != nil && r.active.State() == StateStreaming {
		if opts.SessionID == "" {
			return r.active, true, nil
		}
		return nil, false, fmt.Errorf("%w: %s", ErrSessionAlreadyRunning, r.active.ID())
	}

	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	source, fallback := r.opts.Source, r.opts.Fallback
	if opts.Source != nil {
		source, fallback = opts.Source, nil
	}

	s = newSession(sessionOptions{
		id:          id,
		studentName: opts.StudentName,
		lessonTitle: opts.LessonTitle,
		tuning:      r.opts.Tuning,
		source:      source,
		fallback:    fallback,
		db:          r.opts.DB,
		exportDir:   r.opts.ExportDir,
		exportTrail: r.opts.ExportTrail,
		clock:       r.clock,
		transform:   r.restoredTransform(),
	})
	if r.opts.SeedLesson {
		for _, a := range gaze.StandardLessonAOIs() {
			if _, err := s.AddAOI(a); err != nil {
				monitoring.Logf("[Registry] Seed lesson AOI %q: %v", a.ID, err)
			}
		}
	}
	if err := s.start(); err != nil {
		return nil, false, err
	}

	r.createRow(s)
	r.sessions[id] = s
	r.active = s
	return s, false, nil
}

// restoredTransform loads the latest persisted calibration, when enabled.
// Best effort: any failure just means the session starts uncalibrated.
func (r *Registry) restoredTransform() *gaze.Transform {
	if !r.opts.RestoreCalibration || r.opts.DB == nil {
		return nil
	}
	blob, err := r.opts.DB.LatestCalibration()
	if err != nil || blob == nil {
		return nil
	}
	var t gaze.Transform
	if err := json.Unmarshal(blob, &t); err != nil {
		monitoring.Logf("[Registry] Discarding unreadable persisted calibration: %v", err)
		return nil
	}
	if !t.Calibrated {
		return nil
	}
	monitoring.Logf("[Registry] Restored %s calibration (accuracy %.2fpx)", t.Method, t.AccuracyPx)
	return &t
}

func (r *Registry) createRow(s *Session) {
	if r.opts.DB == nil {
		return
	}
	row := store.SessionRow{
		ID:          s.id,
		StudentName: s.studentName,
		LessonTitle: s.lessonTitle,
		StartedAt:   s.StartedAt().UnixNano(),
	}
	if err := r.opts.DB.CreateSession(row); err != nil {
		monitoring.Logf("[Registry] Create session row %s: %v", shortID(s.id), err)
	}
}

// Get looks a session up by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Active returns the session the id-less endpoints operate on: the most
// recently started one, streaming or not.
func (r *Registry) Active() (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.active != nil
}

// Resolve maps an optional session id to a session. An empty id means the
// active session.
func (r *Registry) Resolve(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		if r.active == nil {
			return nil, ErrSessionNotFound
		}
		return r.active, nil
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Stop resolves and stops a session. Stopping twice returns the first
// stop's result.
func (r *Registry) Stop(id string) (*StopResult, error) {
	s, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	return s.Stop()
}

// Sessions returns every tracked session, streaming and stopped.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// StopAll stops every streaming session; used on shutdown.
func (r *Registry) StopAll() {
	for _, s := range r.Sessions() {
		if s.State() == StateStreaming {
			if _, err := s.Stop(); err != nil {
				monitoring.Logf("[Registry] Stop %s on shutdown: %v", shortID(s.ID()), err)
			}
		}
	}
}
