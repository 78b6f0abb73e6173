package ingest

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/owlet-data/gaze.report/internal/gaze"
	"github.com/owlet-data/gaze.report/internal/monitoring"
)

// MockSource generates synthetic gaze data following a left-to-right
// reading pattern: dwell on a word position, saccade to the next, wrap at
// the end of the line, with occasional blinks. Used for demos and when no
// device is available.
type MockSource struct {
	// Configuration
	RateHz  int     // samples per second
	ScreenW float64 // device coordinate range, x
	ScreenH float64 // device coordinate range, y

	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

// NewMockSource creates a generator emitting at rateHz over a screenW by
// screenH coordinate plane.
func NewMockSource(rateHz int, screenW, screenH float64) *MockSource {
	if rateHz <= 0 {
		rateHz = 120
	}
	return &MockSource{
		RateHz:  rateHz,
		ScreenW: screenW,
		ScreenH: screenH,
		streams: make(map[string]context.CancelFunc),
	}
}

// Name identifies the source variant.
func (m *MockSource) Name() string { return "mock" }

// StartStream begins emitting synthetic samples for the session.
func (m *MockSource) StartStream(ctx context.Context, sessionID string, sink SampleSink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[sessionID]; ok {
		return ErrAlreadyStreaming
	}
	streamCtx, cancel := context.WithCancel(ctx)
	m.streams[sessionID] = cancel
	go m.run(streamCtx, sessionID, sink)
	return nil
}

// StopStream cancels the session's generator. Safe to call when no stream
// is active.
func (m *MockSource) StopStream(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.streams[sessionID]; ok {
		cancel()
		delete(m.streams, sessionID)
	}
	return nil
}

func (m *MockSource) run(ctx context.Context, sessionID string, sink SampleSink) {
	defer m.StopStream(sessionID)

	interval := time.Second / time.Duration(m.RateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	walker := newReadingWalker(m.ScreenW, m.ScreenH, rand.New(rand.NewSource(time.Now().UnixNano())))
	monitoring.Logf("[Mock] Streaming synthetic gaze for session %s at %d Hz", sessionID, m.RateHz)

	var ts int64
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[Mock] Stream for session %s stopped", sessionID)
			return
		case <-ticker.C:
			ts += int64(interval)
			sink(walker.next(ts))
		}
	}
}

// walker states
const (
	walkFixating = iota
	walkSaccading
	walkBlinking
)

// readingWalker produces gaze positions that mimic a student reading text:
// fixations of 150-350 ms on successive word positions, short saccades
// between them, a line wrap at the right margin, and a blink roughly every
// five seconds.
type readingWalker struct {
	rng    *rand.Rand
	w, h   float64
	rateHz float64

	state     int
	remaining int // samples left in the current state

	// current fixation target
	fx, fy float64
	// saccade interpolation
	sx, sy, tx, ty float64
	total          int

	sinceBlink int
}

func newReadingWalker(w, h float64, rng *rand.Rand) *readingWalker {
	if w <= 0 || h <= 0 {
		w, h = 1920, 1080
	}
	wk := &readingWalker{
		rng:    rng,
		w:      w,
		h:      h,
		rateHz: 120,
		fx:     0.1 * w,
		fy:     0.2 * h,
	}
	wk.state = walkFixating
	wk.remaining = wk.fixationSamples()
	return wk
}

func (wk *readingWalker) fixationSamples() int {
	// 150-350 ms dwell
	ms := 150 + wk.rng.Float64()*200
	return int(ms / 1000 * wk.rateHz)
}

func (wk *readingWalker) next(ts int64) gaze.Sample {
	wk.sinceBlink++

	switch wk.state {
	case walkBlinking:
		wk.remaining--
		if wk.remaining <= 0 {
			wk.state = walkFixating
			wk.remaining = wk.fixationSamples()
		}
		return gaze.Sample{
			TimestampNanos: ts,
			DeviceX:        wk.fx,
			DeviceY:        wk.fy,
			Valid:          false,
			Confidence:     0.1,
			LowConfidence:  true,
		}

	case walkSaccading:
		wk.remaining--
		progress := 1 - float64(wk.remaining)/float64(wk.total)
		x := wk.sx + (wk.tx-wk.sx)*progress
		y := wk.sy + (wk.ty-wk.sy)*progress
		if wk.remaining <= 0 {
			wk.state = walkFixating
			wk.fx, wk.fy = wk.tx, wk.ty
			wk.remaining = wk.fixationSamples()
		}
		return wk.sample(ts, x, y, 0.7+wk.rng.Float64()*0.2)

	default: // walkFixating
		wk.remaining--
		if wk.remaining <= 0 {
			if wk.sinceBlink > int(5*wk.rateHz) && wk.rng.Float64() < 0.3 {
				wk.state = walkBlinking
				wk.remaining = int(0.1 * wk.rateHz) // ~100 ms blink
				wk.sinceBlink = 0
			} else {
				wk.beginSaccade()
			}
		}
		// small jitter inside the fixation
		x := wk.fx + wk.rng.NormFloat64()*2
		y := wk.fy + wk.rng.NormFloat64()*2
		return wk.sample(ts, x, y, 0.82+wk.rng.Float64()*0.16)
	}
}

func (wk *readingWalker) beginSaccade() {
	nx := wk.fx + 0.08*wk.w*(0.8+wk.rng.Float64()*0.4)
	ny := wk.fy
	if nx > 0.9*wk.w {
		// line wrap
		nx = 0.1 * wk.w
		ny = wk.fy + 0.06*wk.h
		if ny > 0.85*wk.h {
			ny = 0.2 * wk.h // next page
		}
	}
	wk.state = walkSaccading
	wk.sx, wk.sy = wk.fx, wk.fy
	wk.tx, wk.ty = nx, ny
	wk.total = 2 + wk.rng.Intn(3) // 2-4 samples, ~17-33 ms
	wk.remaining = wk.total
}

func (wk *readingWalker) sample(ts int64, x, y, conf float64) gaze.Sample {
	return gaze.Sample{
		TimestampNanos: ts,
		DeviceX:        clamp(x, 0, wk.w),
		DeviceY:        clamp(y, 0, wk.h),
		Valid:          true,
		Confidence:     conf,
		LowConfidence:  conf < LowConfidenceFloor,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// FrameWalker adapts the reading walker to wire-format device frames for
// tools that exercise the push path from outside the process.
type FrameWalker struct {
	wk *readingWalker
}

// NewFrameWalker returns a generator over a screenW by screenH plane. The
// rate shapes dwell and saccade sample counts; it does not pace emission,
// that is the caller's ticker.
func NewFrameWalker(rateHz int, screenW, screenH float64, seed int64) *FrameWalker {
	wk := newReadingWalker(screenW, screenH, rand.New(rand.NewSource(seed)))
	if rateHz > 0 {
		wk.rateHz = float64(rateHz)
		wk.remaining = wk.fixationSamples()
	}
	return &FrameWalker{wk: wk}
}

// Next returns the frame for the given device-clock millisecond timestamp.
func (fw *FrameWalker) Next(tsMS int64) DeviceFrame {
	s := fw.wk.next(tsMS * int64(time.Millisecond))
	frame := DeviceFrame{
		Timestamp: tsMS,
		GazeData: GazePoint{
			X:          s.DeviceX,
			Y:          s.DeviceY,
			Confidence: s.Confidence,
		},
	}
	if !s.Valid {
		valid := false
		frame.GazeData.Valid = &valid
	}
	return frame
}
