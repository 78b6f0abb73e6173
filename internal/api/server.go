// Package api serves the HTTP control plane and the live surfaces: REST
// endpoints for sessions, calibration, AOIs and text authoring, SSE for
// gaze snapshots, and websockets for push ingest and time sync.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/owlet-data/gaze.report/internal/config"
	"github.com/owlet-data/gaze.report/internal/gaze"
	"github.com/owlet-data/gaze.report/internal/ingest"
	"github.com/owlet-data/gaze.report/internal/monitor"
	"github.com/owlet-data/gaze.report/internal/session"
	"github.com/owlet-data/gaze.report/internal/store"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Options wires the server to the rest of the service.
type Options struct {
	Registry *session.Registry
	Tuning   *config.TuningConfig
	DB       *store.DB // nil disables the sql debug console

	// Push is the websocket ingest bridge. Sessions opened over
	// /ws/sessions/{id} stream through it; nil disables that route.
	Push *ingest.PushSource

	// Intrinsics carries device-reported camera parameters when the
	// source hardware provides them; nil serves the mock matrix.
	Intrinsics *CameraIntrinsics

	Version string
	Debug   bool // mounts /debug: tsweb index, tailsql console, chart dashboards
}

type Server struct {
	registry   *session.Registry
	tuning     *config.TuningConfig
	db         *store.DB
	push       *ingest.PushSource
	intrinsics *CameraIntrinsics
	version    string
	debug      bool

	textMu sync.Mutex
	texts  map[string]*uploadedText
}

func NewServer(opts Options) *Server {
	tuning := opts.Tuning
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	return &Server{
		registry:   opts.Registry,
		tuning:     tuning,
		db:         opts.DB,
		push:       opts.Push,
		intrinsics: opts.Intrinsics,
		version:    opts.Version,
		debug:      opts.Debug,
		texts:      make(map[string]*uploadedText),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/session/start", s.startSession)
	mux.HandleFunc("/api/session/stop", s.stopSession)
	mux.HandleFunc("/api/session/statistics", s.sessionStatistics)
	mux.HandleFunc("/api/session/revision", s.revisionList)
	mux.HandleFunc("/api/session/export", s.exportSession)

	mux.HandleFunc("/api/gaze/stream", s.streamGaze)
	mux.HandleFunc("/api/gaze/current", s.currentGaze)

	mux.HandleFunc("/api/aoi/add", s.addAOI)
	mux.HandleFunc("/api/aoi/list", s.listAOIs)
	mux.HandleFunc("/api/aoi/hits", s.listHits)

	mux.HandleFunc("/api/calibration/start", s.calibrationStart)
	mux.HandleFunc("/api/calibration/capture_point", s.calibrationCapture)
	mux.HandleFunc("/api/calibration/calculate", s.calibrationCalculate)
	mux.HandleFunc("/api/calibration/status", s.calibrationStatus)
	mux.HandleFunc("/api/calibration/camera_intrinsics", s.cameraIntrinsics)

	mux.HandleFunc("/api/text/upload", s.uploadText)
	mux.HandleFunc("/api/text/create-aois", s.createTextAOIs)
	mux.HandleFunc("/api/text/vocabulary-hits", s.vocabularyHits)

	mux.HandleFunc("/api/serial/ports", s.listSerialPorts)

	mux.HandleFunc("/api/achievements", s.listAchievements)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/health", s.healthCheck)
	mux.HandleFunc("/api/performance", s.showPerformance)

	if s.push != nil {
		mux.HandleFunc("/ws/sessions/", s.sessionSocket)
	}
	mux.HandleFunc("/ws/time-sync", s.timeSyncSocket)

	if s.debug {
		monitor.AttachChartRoutes(mux, s.registry)
		if s.db != nil {
			s.db.AttachAdminRoutes(mux)
		}
	}
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}

// writeError maps engine errors to their stable codes. Internal errors are
// logged server-side and never leak details to the caller.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("[API] Internal error: %v", err)
		s.writeJSONError(w, status, code, "internal error")
		return
	}
	s.writeJSONError(w, status, code, err.Error())
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, session.ErrSessionAlreadyRunning):
		return http.StatusConflict, "session_already_running"
	case errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, session.ErrNoGazeSample):
		return http.StatusBadRequest, "no_gaze_sample"
	case errors.Is(err, session.ErrInvalidAOI):
		return http.StatusBadRequest, "invalid_aoi"
	case errors.Is(err, gaze.ErrInsufficientPoints):
		return http.StatusBadRequest, "insufficient_points"
	case errors.Is(err, gaze.ErrSingularSystem):
		return http.StatusBadRequest, "singular_system"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeJSON reads a request body capped at 1 MB.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(v)
}

// resolve picks the session a request addresses: the session_id query
// parameter when present, otherwise the active session.
func (s *Server) resolve(r *http.Request) (*session.Session, error) {
	return s.registry.Resolve(r.URL.Query().Get("session_id"))
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
