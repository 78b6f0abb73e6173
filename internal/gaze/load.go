package gaze

import (
	"math"
	"sync"
	"time"
)

// LoadLevel buckets the cognitive-load score for the UI.
type LoadLevel string

const (
	LoadLow    LoadLevel = "LOW"
	LoadMedium LoadLevel = "MEDIUM"
	LoadHigh   LoadLevel = "HIGH"
)

// LoadHistoryLen bounds the published score history.
const LoadHistoryLen = 20

// CognitiveLoad is one published load measurement.
type CognitiveLoad struct {
	Score          float64   `json:"score"` // 0-100
	Level          LoadLevel `json:"level"`
	Color          string    `json:"color"`
	TimestampNanos int64     `json:"ts_ns"`
	DispersionPx   float64   `json:"dispersion_px"`
	VelocityPxS    float64   `json:"velocity_px_s"`
}

// LoadEstimatorConfig tunes the rolling estimate.
type LoadEstimatorConfig struct {
	WindowSamples  int     // Samples per estimate window
	DispersionNorm float64 // Pixels of dispersion mapping to score 100
	VelocityNorm   float64 // px/s of mean velocity mapping to score 100
}

// DefaultLoadEstimatorConfig returns the product tuning defaults.
func DefaultLoadEstimatorConfig() LoadEstimatorConfig {
	return LoadEstimatorConfig{
		WindowSamples:  10,
		DispersionNorm: 500,
		VelocityNorm:   10000,
	}
}

// LoadEstimator derives a rolling cognitive-load score from gaze dispersion
// and velocity over the most recent samples. Scores blend 60% dispersion
// and 40% velocity, each clamped to [0, 100].
type LoadEstimator struct {
	mu      sync.RWMutex
	cfg     LoadEstimatorConfig
	window  []CalibratedSample
	current CognitiveLoad
	history []CognitiveLoad
}

// NewLoadEstimator returns an estimator with an empty window.
func NewLoadEstimator(cfg LoadEstimatorConfig) *LoadEstimator {
	if cfg.WindowSamples < 2 {
		cfg.WindowSamples = 2
	}
	return &LoadEstimator{
		cfg:     cfg,
		current: CognitiveLoad{Level: LoadLow, Color: "green"},
	}
}

// Observe feeds one calibrated sample and returns the refreshed load once
// the window holds enough samples.
func (e *LoadEstimator) Observe(cs CalibratedSample) CognitiveLoad {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.window = append(e.window, cs)
	if len(e.window) > e.cfg.WindowSamples {
		e.window = e.window[len(e.window)-e.cfg.WindowSamples:]
	}
	if len(e.window) < 3 {
		return e.current
	}

	disp := dispersion(e.window)
	vel := meanVelocity(e.window)

	dispScore := math.Min(100, disp/e.cfg.DispersionNorm*100)
	velScore := math.Min(100, vel/e.cfg.VelocityNorm*100)
	score := 0.6*dispScore + 0.4*velScore

	level, color := LoadLow, "green"
	switch {
	case score >= 70:
		level, color = LoadHigh, "red"
	case score >= 30:
		level, color = LoadMedium, "orange"
	}

	e.current = CognitiveLoad{
		Score:          score,
		Level:          level,
		Color:          color,
		TimestampNanos: cs.TimestampNanos,
		DispersionPx:   disp,
		VelocityPxS:    vel,
	}
	e.history = append(e.history, e.current)
	if len(e.history) > LoadHistoryLen {
		e.history = e.history[len(e.history)-LoadHistoryLen:]
	}
	return e.current
}

// Current returns the latest load measurement.
func (e *LoadEstimator) Current() CognitiveLoad {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// History returns a copy of the bounded score history, oldest first.
func (e *LoadEstimator) History() []CognitiveLoad {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return tailCopy(e.history, LoadHistoryLen)
}

// meanVelocity is the average sample-to-sample speed in px/s.
func meanVelocity(samples []CalibratedSample) float64 {
	var sum float64
	var n int
	for i := 1; i < len(samples); i++ {
		a, b := samples[i-1], samples[i]
		dt := float64(b.TimestampNanos-a.TimestampNanos) / float64(time.Second)
		if dt <= 0 {
			continue
		}
		sum += math.Hypot(b.ScreenX-a.ScreenX, b.ScreenY-a.ScreenY) / dt
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
