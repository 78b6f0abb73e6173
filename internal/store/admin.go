package store

import (
	"compress/gzip"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/owlet-data/gaze.report/internal/monitoring"
)

// AttachAdminRoutes mounts the debug surface on the mux: a tailsql console
// over the live database, a plain-text session index, and a vacuum-backup
// download. Only wired up when the server runs in debug mode.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://gaze.db", db.DB, &tailsql.DBOptions{
		Label: "Gaze DB",
	})
	debug.Handle("tailsql/", "SQL console over the live database", tsql.NewMux())

	debug.Handle("sessions", "Recent sessions with persisted sample counts", http.HandlerFunc(db.debugSessions))
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.downloadBackup))
}

// debugSessions lists the newest sessions, one line each.
func (db *DB) debugSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := db.ListSessions(50)
	if err != nil {
		http.Error(w, fmt.Sprintf("list sessions: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if len(sessions) == 0 {
		fmt.Fprintln(w, "no sessions recorded")
		return
	}
	for _, s := range sessions {
		state := "running"
		if s.StoppedAt != nil {
			state = "stopped"
		}
		samples, _ := db.CountRawSamples(s.ID)
		fmt.Fprintf(w, "%s  %-7s  started=%s  samples=%d  student=%q\n",
			s.ID, state, time.Unix(0, s.StartedAt).UTC().Format(time.RFC3339), samples, s.StudentName)
	}
}

// downloadBackup snapshots the database with VACUUM INTO and streams the
// result gzipped. The snapshot file is removed once sent.
func (db *DB) downloadBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("gaze-backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(os.TempDir(), name)
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("open backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("[Persist] Failed to remove backup file: %v", err)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Encoding", "gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Logf("[Persist] Backup download aborted: %v", err)
	}
}
