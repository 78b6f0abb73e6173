package monitor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owlet-data/gaze.report/internal/gaze"
	"github.com/owlet-data/gaze.report/internal/store"
)

func trailSample(tsMS int64, x, y float64) gaze.CalibratedSample {
	return gaze.CalibratedSample{
		Sample:  gaze.Sample{TimestampNanos: tsMS * 1e6, Valid: true, Confidence: 0.9},
		ScreenX: x,
		ScreenY: y,
	}
}

func requirePNG(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err, "expected plot file %s", path)
	assert.Greater(t, info.Size(), int64(0))
}

func TestRenderSessionPlotsAllSeries(t *testing.T) {
	doc := &store.ExportDocument{
		SessionID:      "plot-1",
		StartedAtNanos: 0,
		GazeTrail: []gaze.CalibratedSample{
			trailSample(0, 400, 300),
			trailSample(500, 450, 320),
			trailSample(1000, 500, 340),
		},
		LoadHistory: []gaze.CognitiveLoad{
			{Score: 10, Level: gaze.LoadLow, TimestampNanos: 0, DispersionPx: 50, VelocityPxS: 500},
			{Score: 45, Level: gaze.LoadMedium, TimestampNanos: 5e8, DispersionPx: 250, VelocityPxS: 4000},
			{Score: 80, Level: gaze.LoadHigh, TimestampNanos: 1e9, DispersionPx: 450, VelocityPxS: 9000},
		},
		Fixations: []gaze.Fixation{
			{StartNanos: 0, EndNanos: 3e8, DurationMS: 300, CentroidX: 420, CentroidY: 310},
			{StartNanos: 6e8, EndNanos: 9e8, DurationMS: 300, CentroidX: 480, CentroidY: 330},
		},
	}

	dir := filepath.Join(t.TempDir(), "plots")
	count, err := RenderSessionPlots(doc, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	requirePNG(t, filepath.Join(dir, "gaze_trail.png"))
	requirePNG(t, filepath.Join(dir, "cognitive_load.png"))
	requirePNG(t, filepath.Join(dir, "fixation_durations.png"))
}

func TestRenderSessionPlotsFallsBackToHits(t *testing.T) {
	// Trail export disabled: the hit positions stand in for the gaze trail.
	doc := &store.ExportDocument{
		SessionID:      "plot-2",
		StartedAtNanos: 0,
		Hits: []gaze.Hit{
			{Seq: 1, SampleTS: 1e8, GazeX: 400, GazeY: 300},
			{Seq: 2, SampleTS: 2e8, GazeX: 410, GazeY: 305},
		},
	}

	dir := t.TempDir()
	count, err := RenderSessionPlots(doc, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	requirePNG(t, filepath.Join(dir, "gaze_trail.png"))
	_, err = os.Stat(filepath.Join(dir, "cognitive_load.png"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "fixation_durations.png"))
	assert.True(t, os.IsNotExist(err))
}

func TestRenderSessionPlotsEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	count, err := RenderSessionPlots(&store.ExportDocument{SessionID: "plot-3"}, dir)
	require.NoError(t, err)
	assert.Zero(t, count)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRenderSessionPlotsNilDocument(t *testing.T) {
	_, err := RenderSessionPlots(nil, t.TempDir())
	assert.Error(t, err)
}
