package gaze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEstimatorWarmup(t *testing.T) {
	e := NewLoadEstimator(DefaultLoadEstimatorConfig())

	got := e.Observe(calSample(0, 400, 300, 0.9))
	assert.Equal(t, LoadLow, got.Level)
	assert.Equal(t, "green", got.Color)
	assert.Zero(t, got.Score)

	got = e.Observe(calSample(10, 400, 300, 0.9))
	assert.Zero(t, got.Score)
	assert.Empty(t, e.History(), "no estimate published before three samples")
}

func TestLoadEstimatorScoreBlend(t *testing.T) {
	e := NewLoadEstimator(DefaultLoadEstimatorConfig())
	e.Observe(calSample(0, 0, 300, 0.9))
	e.Observe(calSample(10, 100, 300, 0.9))
	got := e.Observe(calSample(20, 200, 300, 0.9))

	// Dispersion 200px of the 500 norm scores 40; both hops run at
	// 10000 px/s, saturating the velocity term.
	assert.InDelta(t, 200.0, got.DispersionPx, 1e-9)
	assert.InDelta(t, 10000.0, got.VelocityPxS, 1e-6)
	assert.InDelta(t, 64.0, got.Score, 1e-6)
	assert.Equal(t, LoadMedium, got.Level)
	assert.Equal(t, "orange", got.Color)
	assert.Equal(t, int64(20*1e6), got.TimestampNanos)
}

func TestLoadEstimatorLevels(t *testing.T) {
	t.Run("still_gaze_scores_low", func(t *testing.T) {
		e := NewLoadEstimator(DefaultLoadEstimatorConfig())
		var got CognitiveLoad
		for i := 0; i < 5; i++ {
			got = e.Observe(calSample(int64(i)*10, 400, 300, 0.9))
		}
		assert.Zero(t, got.Score)
		assert.Equal(t, LoadLow, got.Level)
		assert.Equal(t, "green", got.Color)
	})

	t.Run("rapid_scatter_scores_high", func(t *testing.T) {
		e := NewLoadEstimator(DefaultLoadEstimatorConfig())
		var got CognitiveLoad
		for i := 0; i < 10; i++ {
			got = e.Observe(calSample(int64(i)*10, float64(i)*800, 300, 0.9))
		}
		assert.InDelta(t, 100.0, got.Score, 1e-6)
		assert.Equal(t, LoadHigh, got.Level)
		assert.Equal(t, "red", got.Color)
	})
}

func TestLoadEstimatorWindowSlides(t *testing.T) {
	e := NewLoadEstimator(DefaultLoadEstimatorConfig())
	for i := 0; i < 10; i++ {
		e.Observe(calSample(int64(i)*10, float64(i)*800, 300, 0.9))
	}
	require.Equal(t, LoadHigh, e.Current().Level)

	// Once the window holds only settled samples the score recovers.
	var got CognitiveLoad
	for i := 0; i < 12; i++ {
		got = e.Observe(calSample(100+int64(i)*10, 400, 300, 0.9))
	}
	assert.Zero(t, got.Score)
	assert.Equal(t, LoadLow, got.Level)
}

func TestLoadEstimatorHistoryBounded(t *testing.T) {
	e := NewLoadEstimator(DefaultLoadEstimatorConfig())
	for i := 0; i < 30; i++ {
		e.Observe(calSample(int64(i)*10, float64(i%7)*100, 300, 0.9))
	}
	hist := e.History()
	assert.Len(t, hist, LoadHistoryLen)
	assert.Equal(t, e.Current(), hist[len(hist)-1])
}
