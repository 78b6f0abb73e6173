// Package store persists gaze telemetry: raw samples and detected events
// go to sqlite through a batching writer, and finished sessions are
// exported as JSON documents. Schema changes are managed by golang-migrate
// with the migration files embedded in the binary.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite handle with gaze-specific queries.
type DB struct {
	*sql.DB
}

// OpenDB opens (creating if needed) the sqlite database at path and applies
// the connection pragmas. It does not touch the schema; run migrations for
// that.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

// applyPragmas configures the connection for concurrent readers with a
// single writer. WAL keeps the live API readable while the persistence
// worker appends.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// RawSampleRow is one persisted gaze sample.
type RawSampleRow struct {
	Timestamp int64  // session-relative nanoseconds
	SessionID string
	Payload   []byte // CalibratedSample JSON
}

// EventRow is one persisted fixation or saccade.
type EventRow struct {
	SessionID  string
	StartTS    int64
	EndTS      int64
	EventType  string
	AOIID      string
	GazeX      float64
	GazeY      float64
	DurationMS float64
	Confidence float64
}

// AppendRawSamples bulk-inserts a batch of samples in one transaction.
func (db *DB) AppendRawSamples(rows []RawSampleRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin batch insert: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO raw_samples (timestamp, session_id, payload) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.Exec(r.Timestamp, r.SessionID, r.Payload); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert raw sample: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch insert: %w", err)
	}
	return nil
}

// AppendEvent inserts one event row.
func (db *DB) AppendEvent(row EventRow) error {
	_, err := db.Exec(`
		INSERT INTO events (session_id, start_ts, end_ts, event_type, aoi_id, gaze_x, gaze_y, duration_ms, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.SessionID, row.StartTS, row.EndTS, row.EventType, row.AOIID,
		row.GazeX, row.GazeY, row.DurationMS, row.Confidence,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// CountRawSamples returns the number of persisted samples for a session.
func (db *DB) CountRawSamples(sessionID string) (int64, error) {
	var n int64
	err := db.QueryRow("SELECT COUNT(*) FROM raw_samples WHERE session_id = ?", sessionID).Scan(&n)
	return n, err
}

// EventsForSession returns the persisted events in start order.
func (db *DB) EventsForSession(sessionID string) ([]EventRow, error) {
	rows, err := db.Query(`
		SELECT session_id, start_ts, end_ts, event_type, COALESCE(aoi_id, ''), gaze_x, gaze_y, duration_ms, confidence
		FROM events WHERE session_id = ? ORDER BY start_ts`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.SessionID, &r.StartTS, &r.EndTS, &r.EventType, &r.AOIID,
			&r.GazeX, &r.GazeY, &r.DurationMS, &r.Confidence); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionRow is the metadata record for one reading session.
type SessionRow struct {
	ID          string
	StudentName string
	LessonTitle string
	StartedAt   int64 // unix nanoseconds
	StoppedAt   *int64
	ExportURI   *string
	Calibration []byte // Transform JSON, nil until calibrated
}

// CreateSession inserts the session row at start time.
func (db *DB) CreateSession(row SessionRow) error {
	_, err := db.Exec(`
		INSERT INTO sessions (id, student_name, lesson_title, started_at)
		VALUES (?, ?, ?, ?)`,
		row.ID, row.StudentName, row.LessonTitle, row.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FinishSession records the stop time and export location.
func (db *DB) FinishSession(id string, stoppedAt int64, exportURI string) error {
	res, err := db.Exec(`
		UPDATE sessions SET stopped_at = ?, export_uri = ? WHERE id = ?`,
		stoppedAt, exportURI, id,
	)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SaveCalibration stores the computed transform blob on the session row.
func (db *DB) SaveCalibration(sessionID string, blob []byte) error {
	res, err := db.Exec("UPDATE sessions SET calibration = ? WHERE id = ?", blob, sessionID)
	if err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// LatestCalibration returns the most recently saved transform blob, or nil
// when no session has calibrated yet.
func (db *DB) LatestCalibration() ([]byte, error) {
	var blob []byte
	err := db.QueryRow(`
		SELECT calibration FROM sessions
		WHERE calibration IS NOT NULL
		ORDER BY started_at DESC LIMIT 1`).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// GetSession fetches one session row.
func (db *DB) GetSession(id string) (*SessionRow, error) {
	row := db.QueryRow(`
		SELECT id, COALESCE(student_name, ''), COALESCE(lesson_title, ''), started_at, stopped_at, export_uri, calibration
		FROM sessions WHERE id = ?`, id)

	var s SessionRow
	if err := row.Scan(&s.ID, &s.StudentName, &s.LessonTitle, &s.StartedAt, &s.StoppedAt, &s.ExportURI, &s.Calibration); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns recent sessions, newest first.
func (db *DB) ListSessions(limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, COALESCE(student_name, ''), COALESCE(lesson_title, ''), started_at, stopped_at, export_uri, calibration
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var s SessionRow
		if err := rows.Scan(&s.ID, &s.StudentName, &s.LessonTitle, &s.StartedAt, &s.StoppedAt, &s.ExportURI, &s.Calibration); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
