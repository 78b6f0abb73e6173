package main

import (
	"errors"
	"testing"

	"github.com/owlet-data/gaze.report/internal/httputil"
)

func TestFetchExport(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(200, `{
		"session_id": "live-1",
		"hits": [{"seq": 1, "aoi_id": "habitat"}, {"seq": 2, "aoi_id": "habitat"}],
		"fixations": [{"aoi_id": "habitat"}]
	}`)

	doc, err := fetchExport(client, "http://localhost:8080", "live-1")
	if err != nil {
		t.Fatalf("fetchExport failed: %v", err)
	}
	if doc.SessionID != "live-1" {
		t.Errorf("session_id = %q, want live-1", doc.SessionID)
	}
	if len(doc.Hits) != 2 {
		t.Errorf("hits = %d, want 2", len(doc.Hits))
	}
	if len(doc.Fixations) != 1 {
		t.Errorf("fixations = %d, want 1", len(doc.Fixations))
	}

	req := client.GetRequest(0)
	if req == nil {
		t.Fatal("no request recorded")
	}
	if req.URL.Path != "/api/session/export" {
		t.Errorf("path = %q, want /api/session/export", req.URL.Path)
	}
	if got := req.URL.Query().Get("session_id"); got != "live-1" {
		t.Errorf("session_id query = %q, want live-1", got)
	}
}

func TestFetchExportActiveSession(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(200, `{"session_id": "whatever"}`)

	if _, err := fetchExport(client, "http://localhost:8080", ""); err != nil {
		t.Fatalf("fetchExport failed: %v", err)
	}
	if q := client.GetRequest(0).URL.RawQuery; q != "" {
		t.Errorf("query = %q, want empty for the active session", q)
	}
}

func TestFetchExportServerError(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(404, `{"error":"session_not_found","message":"session not found"}`)

	if _, err := fetchExport(client, "http://localhost:8080", "gone"); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestFetchExportTransportError(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddErrorResponse(errors.New("connection refused"))

	if _, err := fetchExport(client, "http://localhost:8080", ""); err == nil {
		t.Fatal("expected transport error to propagate")
	}
}

func TestFetchExportBadJSON(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	client.AddResponse(200, `{"session_id": `)

	if _, err := fetchExport(client, "http://localhost:8080", ""); err == nil {
		t.Fatal("expected error for truncated body")
	}
}
