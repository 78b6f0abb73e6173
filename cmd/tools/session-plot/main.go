// Command session-plot renders PNG trace plots from a session export
// document: gaze position, cognitive load and fixation durations over time.
// The document comes from a stop-time export file, or live from a running
// server with -server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/owlet-data/gaze.report/internal/httputil"
	"github.com/owlet-data/gaze.report/internal/monitor"
	"github.com/owlet-data/gaze.report/internal/store"
)

func main() {
	input := flag.String("i", "", "session export JSON")
	server := flag.String("server", "", "fetch the live export from this server instead of a file")
	sessionID := flag.String("session", "", "session id to fetch (default: the active session)")
	output := flag.String("o", "", "output directory (default: <export>_plots)")
	flag.Parse()

	var (
		doc *store.ExportDocument
		err error
	)
	switch {
	case *server != "":
		client := httputil.NewStandardClient(&http.Client{Timeout: 15 * time.Second})
		doc, err = fetchExport(client, *server, *sessionID)
	case *input != "":
		doc, err = store.ReadExport(*input)
	default:
		log.Fatal("Error: either -i or -server is required")
	}
	if err != nil {
		log.Fatalf("Failed to load export: %v", err)
	}
	log.Printf("Session %s: %d hits, %d fixations, %d load windows",
		doc.SessionID, len(doc.Hits), len(doc.Fixations), len(doc.LoadHistory))

	dir := *output
	if dir == "" {
		if *input != "" {
			dir = strings.TrimSuffix(*input, filepath.Ext(*input)) + "_plots"
		} else {
			dir = doc.SessionID + "_plots"
		}
	}

	n, err := monitor.RenderSessionPlots(doc, dir)
	if err != nil {
		log.Fatalf("Failed to render plots: %v", err)
	}
	log.Printf("✓ Wrote %d plots to %s", n, dir)
}

// fetchExport pulls the live export document from a running server. An
// empty session id asks for whichever session is currently streaming.
func fetchExport(client httputil.HTTPClient, base, sessionID string) (*store.ExportDocument, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse server URL: %w", err)
	}
	u.Path = "/api/session/export"
	if sessionID != "" {
		u.RawQuery = url.Values{"session_id": {sessionID}}.Encode()
	}

	resp, err := client.Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("fetch export: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read export response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc store.ExportDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	return &doc, nil
}
