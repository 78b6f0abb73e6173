package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owlet-data/gaze.report/internal/config"
	"github.com/owlet-data/gaze.report/internal/gaze"
	"github.com/owlet-data/gaze.report/internal/ingest"
	"github.com/owlet-data/gaze.report/internal/store"
)

func defaultTestTuning() *config.TuningConfig {
	return config.EmptyTuningConfig()
}

// newMigratedDB opens a migrated sqlite database in a temp directory.
func newMigratedDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenDB(t.TempDir() + "/gaze.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrations, err := store.MigrationsFS()
	require.NoError(t, err)
	require.NoError(t, db.MigrateUp(migrations))
	return db
}

func TestRegistryStartSemantics(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{})

	s1, already, err := r.Start(StartOptions{StudentName: "Mina"})
	require.NoError(t, err)
	require.False(t, already)
	assert.Equal(t, StateStreaming, s1.State())

	t.Run("start without id while streaming returns the active session", func(t *testing.T) {
		got, already, err := r.Start(StartOptions{})
		require.NoError(t, err)
		assert.True(t, already)
		assert.Same(t, s1, got)
	})

	t.Run("restart with the running id is idempotent", func(t *testing.T) {
		got, already, err := r.Start(StartOptions{SessionID: s1.ID()})
		require.NoError(t, err)
		assert.True(t, already)
		assert.Same(t, s1, got)
	})

	t.Run("a second id while one streams is rejected", func(t *testing.T) {
		_, _, err := r.Start(StartOptions{SessionID: "other"})
		require.ErrorIs(t, err, ErrSessionAlreadyRunning)
	})

	_, err = r.Stop(s1.ID())
	require.NoError(t, err)

	t.Run("a stopped id cannot be restarted", func(t *testing.T) {
		_, _, err := r.Start(StartOptions{SessionID: s1.ID()})
		require.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("a fresh start after stop yields a new session", func(t *testing.T) {
		s2, already, err := r.Start(StartOptions{})
		require.NoError(t, err)
		assert.False(t, already)
		assert.NotEqual(t, s1.ID(), s2.ID())
		t.Cleanup(func() { s2.Stop() })
	})
}

func TestRegistryResolve(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{})

	_, err := r.Resolve("")
	require.ErrorIs(t, err, ErrSessionNotFound, "no active session yet")

	s := startTestSession(t, r)

	got, err := r.Resolve("")
	require.NoError(t, err)
	assert.Same(t, s, got)

	got, err = r.Resolve(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = r.Resolve("missing")
	require.ErrorIs(t, err, ErrSessionNotFound)

	// Stopped sessions stay resolvable, including as the active one, so an
	// id-less stop after the fact remains a no-op instead of a 404.
	_, err = r.Stop(s.ID())
	require.NoError(t, err)
	got, err = r.Resolve("")
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, StateStopped, got.State())
}

func TestRegistryStopAll(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{})
	s := startTestSession(t, r)

	r.StopAll()
	assert.Equal(t, StateStopped, s.State())
	active, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, StateStopped, active.State())
}

func TestRegistryPersistsSessionRows(t *testing.T) {
	db := newMigratedDB(t)
	dir := t.TempDir()

	r := newTestRegistry(t, RegistryOptions{DB: db, ExportDir: dir})
	s := startTestSession(t, r)

	for i := 0; i < 100; i++ {
		_, err := s.PushFrame(frame(int64(1000+i*10), 320, 240, 0.9))
		require.NoError(t, err)
	}
	waitProcessed(t, s, 100)

	res, err := s.Stop()
	require.NoError(t, err)

	row, err := db.GetSession(s.ID())
	require.NoError(t, err)
	assert.Equal(t, "Mina", row.StudentName)
	require.NotNil(t, row.StoppedAt, "stop must finish the session row")
	require.NotNil(t, row.ExportURI)
	assert.Equal(t, res.ExportURI, *row.ExportURI)

	// The batching writer landed the raw samples.
	n, err := db.CountRawSamples(s.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
}

func TestRegistryRestoresCalibration(t *testing.T) {
	db := newMigratedDB(t)
	dir := t.TempDir()

	// First reader calibrates and leaves.
	src := ingest.NewPushSource()
	r1 := NewRegistry(RegistryOptions{DB: db, ExportDir: dir, Source: src})
	s1, _, err := r1.Start(StartOptions{SessionID: "first"})
	require.NoError(t, err)

	s1.CalibrationBegin()
	corners := []struct{ dx, dy, sx, sy float64 }{
		{0, 0, 0, 0}, {1, 0, 1920, 0}, {0, 1, 0, 1080}, {1, 1, 1920, 1080},
	}
	for i, c := range corners {
		_, err := s1.PushFrame(frame(int64(1000+i*100), c.dx, c.dy, 0.95))
		require.NoError(t, err)
		_, err = s1.CalibrationCapture(i, c.sx, c.sy)
		require.NoError(t, err)
	}
	_, err = s1.CalibrationCompute(gaze.MethodHomography)
	require.NoError(t, err)
	_, err = s1.Stop()
	require.NoError(t, err)

	// A later registry on the same database restores the transform.
	r2 := NewRegistry(RegistryOptions{DB: db, ExportDir: dir, Source: src, RestoreCalibration: true})
	s2, _, err := r2.Start(StartOptions{SessionID: "second"})
	require.NoError(t, err)
	defer s2.Stop()

	tr := s2.Transform()
	require.NotNil(t, tr, "restored session starts calibrated")
	assert.True(t, tr.Calibrated)
	assert.Equal(t, gaze.MethodHomography, tr.Method)

	st := s2.CalibrationStatus()
	assert.True(t, st.Calibrated)
}

func TestRegistryFallsBackWhenSourceFails(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{
		Source:   ingest.NewSerialSource("/dev/does-not-exist"),
		Fallback: ingest.NewPushSource(),
	})

	s, already, err := r.Start(StartOptions{})
	require.NoError(t, err, "fallback source keeps the start alive")
	require.False(t, already)
	defer s.Stop()

	assert.NotEmpty(t, s.FallbackReason())
	assert.NotEmpty(t, s.Performance().SourceFallback)

	// The fallback push source accepts frames.
	_, err = s.PushFrame(frame(1000, 10, 10, 0.9))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Statistics().TotalSamples == 1
	}, 2*time.Second, 2*time.Millisecond)
}
