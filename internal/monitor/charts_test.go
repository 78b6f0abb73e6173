package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owlet-data/gaze.report/internal/config"
	"github.com/owlet-data/gaze.report/internal/gaze"
	"github.com/owlet-data/gaze.report/internal/ingest"
	"github.com/owlet-data/gaze.report/internal/session"
)

func newChartMux(t *testing.T) (*http.ServeMux, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(session.RegistryOptions{
		Tuning:    config.EmptyTuningConfig(),
		ExportDir: t.TempDir(),
		Source:    ingest.NewPushSource(),
	})
	t.Cleanup(reg.StopAll)

	mux := http.NewServeMux()
	AttachChartRoutes(mux, reg)
	return mux, reg
}

func chartGET(t *testing.T, mux *http.ServeMux, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

// seedChartSession starts a session with one AOI and waits for a burst of
// frames inside it to flow through the pipeline.
func seedChartSession(t *testing.T, reg *session.Registry, id string) *session.Session {
	t.Helper()
	sess, _, err := reg.Start(session.StartOptions{SessionID: id})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Stop() })

	_, err = sess.AddAOI(gaze.AOI{ID: "habitat", X: 100, Y: 100, W: 200, H: 50, Kind: gaze.AOIVocab, Text: "habitat"})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := sess.PushFrame(ingest.DeviceFrame{
			Timestamp: 1000 + int64(i)*10,
			GazeData:  ingest.GazePoint{X: 150, Y: 120, Confidence: 0.9},
		})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return sess.Statistics().TotalSamples >= 10
	}, 5*time.Second, 2*time.Millisecond, "pipeline did not process frames")
	return sess
}

func TestChartsWithoutSession(t *testing.T) {
	mux, _ := newChartMux(t)

	for _, target := range []string{"/debug/charts/gaze", "/debug/charts/dwell", "/debug/charts/load"} {
		w := chartGET(t, mux, target)
		assert.Equal(t, http.StatusNotFound, w.Code, target)
		assert.Contains(t, w.Body.String(), "no session to chart")
	}
}

func TestGazeChart(t *testing.T) {
	mux, reg := newChartMux(t)
	sess := seedChartSession(t, reg, "chart-1")

	w := chartGET(t, mux, "/debug/charts/gaze")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "session="+sess.ID())

	t.Run("explicit_session_id", func(t *testing.T) {
		w := chartGET(t, mux, "/debug/charts/gaze?session_id="+sess.ID())
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown_session_id", func(t *testing.T) {
		w := chartGET(t, mux, "/debug/charts/gaze?session_id=nope")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestGazeChartWithoutData(t *testing.T) {
	mux, reg := newChartMux(t)
	_, _, err := reg.Start(session.StartOptions{SessionID: "empty-1"})
	require.NoError(t, err)

	w := chartGET(t, mux, "/debug/charts/gaze")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "no gaze data recorded")
}

func TestDwellChart(t *testing.T) {
	mux, reg := newChartMux(t)
	seedChartSession(t, reg, "chart-2")

	w := chartGET(t, mux, "/debug/charts/dwell")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "habitat")

	t.Run("no_hits_is_404", func(t *testing.T) {
		mux, reg := newChartMux(t)
		_, _, err := reg.Start(session.StartOptions{SessionID: "empty-2"})
		require.NoError(t, err)

		w := chartGET(t, mux, "/debug/charts/dwell")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "no AOI hits recorded")
	})
}

func TestLoadChart(t *testing.T) {
	mux, reg := newChartMux(t)
	sess := seedChartSession(t, reg, "chart-3")

	require.Eventually(t, func() bool {
		return len(sess.SnapshotNow().LoadHistory) > 0
	}, 5*time.Second, 2*time.Millisecond, "load estimator published nothing")

	w := chartGET(t, mux, "/debug/charts/load")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Cognitive Load")

	t.Run("no_history_is_404", func(t *testing.T) {
		mux, reg := newChartMux(t)
		_, _, err := reg.Start(session.StartOptions{SessionID: "empty-3"})
		require.NoError(t, err)

		w := chartGET(t, mux, "/debug/charts/load")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "no load history available")
	})
}

func TestDashboard(t *testing.T) {
	mux, reg := newChartMux(t)
	sess := seedChartSession(t, reg, "dash-1")

	w := chartGET(t, mux, "/debug/charts")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "/debug/charts/gaze?session_id="+sess.ID())
	assert.Contains(t, body, "/debug/charts/load?session_id="+sess.ID())
	assert.Contains(t, body, "/debug/charts/dwell?session_id="+sess.ID())

	t.Run("session_id_is_escaped", func(t *testing.T) {
		w := chartGET(t, mux, "/debug/charts?session_id=%3Cscript%3Ealert(1)%3C%2Fscript%3E")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "<script>alert(1)")
		assert.Contains(t, w.Body.String(), "&lt;script&gt;")
	})
}
