package api

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/owlet-data/gaze.report/internal/ingest"
	"github.com/owlet-data/gaze.report/internal/session"
)

func TestTimeSyncRoundTrip(t *testing.T) {
	srv, _ := setupTestServer(t)
	ts := httptest.NewServer(srv.ServeMux())
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts, "/ws/time-sync")
	defer conn.Close()

	before := time.Now().UnixMilli()
	clientTS := uint64(before - 250) // a skewed client clock

	// An undersized request is ignored, not answered.
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("failed to write short message: %v", err)
	}

	req := make([]byte, 8)
	binary.BigEndian.PutUint64(req, clientTS)
	if err := conn.WriteMessage(websocket.BinaryMessage, req); err != nil {
		t.Fatalf("failed to write sync request: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read sync response: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("expected binary response, got type %d", msgType)
	}
	if len(data) != 16 {
		t.Fatalf("expected 16-byte response, got %d bytes", len(data))
	}

	echo := binary.BigEndian.Uint64(data[:8])
	serverTS := int64(binary.BigEndian.Uint64(data[8:]))
	if echo != clientTS {
		t.Errorf("expected client timestamp echoed back, got %d want %d", echo, clientTS)
	}
	after := time.Now().UnixMilli()
	if serverTS < before || serverTS > after {
		t.Errorf("server timestamp %d outside [%d, %d]", serverTS, before, after)
	}
}

func TestSessionSocketStreamsAndAcks(t *testing.T) {
	srv, reg := setupTestServer(t)
	ts := httptest.NewServer(srv.ServeMux())
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts, "/ws/sessions/ws-1")
	defer conn.Close()

	// Connecting on the push path starts the session.
	sess, err := reg.Resolve("ws-1")
	if err != nil {
		t.Fatalf("session was not started by the socket: %v", err)
	}
	if sess.State() != session.StateStreaming {
		t.Fatalf("expected streaming state, got %v", sess.State())
	}

	for i := 0; i < 50; i++ {
		writeFrame(t, conn, int64(1000+i*8), 400+float64(i), 300)
	}

	ack := readAck(t, conn)
	if ack.SamplesProcessed != 50 {
		t.Errorf("expected 50 samples acknowledged, got %d", ack.SamplesProcessed)
	}

	// Closing the socket stops the session it started.
	conn.Close()
	waitState(t, sess, session.StateStopped)
}

func TestSessionSocketJoinsRunningSession(t *testing.T) {
	srv, reg := setupTestServer(t)
	ts := httptest.NewServer(srv.ServeMux())
	t.Cleanup(ts.Close)

	sess := startTestSession(t, reg, "ws-keep")

	conn := dialWS(t, ts, "/ws/sessions/ws-keep")
	for i := 0; i < 10; i++ {
		writeFrame(t, conn, int64(1000+i*8), 500, 350)
	}
	waitSamples(t, sess, 10)
	conn.Close()

	// The socket joined an existing session, so disconnecting must not
	// stop it.
	time.Sleep(300 * time.Millisecond)
	if got := sess.State(); got != session.StateStreaming {
		t.Errorf("expected session to stay streaming after disconnect, got %v", got)
	}
}

func TestSessionSocketRejectsStoppedSession(t *testing.T) {
	srv, reg := setupTestServer(t)
	ts := httptest.NewServer(srv.ServeMux())
	t.Cleanup(ts.Close)

	if _, _, err := reg.Start(session.StartOptions{SessionID: "ws-dead"}); err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	if _, err := reg.Stop("ws-dead"); err != nil {
		t.Fatalf("failed to stop session: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/ws-dead"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail for a stopped session")
	}
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected bad handshake, got %v", err)
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected status 409 before upgrade, got %+v", resp)
	}
}

func TestSessionSocketRejectsMalformedFrame(t *testing.T) {
	srv, _ := setupTestServer(t)
	ts := httptest.NewServer(srv.ServeMux())
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts, "/ws/sessions/ws-bad")
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("failed to write malformed frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg struct {
		Error string `json:"error"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("failed to read error response: %v", err)
	}
	if msg.Error != "invalid_json" {
		t.Errorf("expected invalid_json error, got %q", msg.Error)
	}

	// The stream survives a bad frame.
	for i := 0; i < 50; i++ {
		writeFrame(t, conn, int64(1000+i*8), 400, 300)
	}
	ack := readAck(t, conn)
	if ack.SamplesProcessed != 50 {
		t.Errorf("expected 50 samples acknowledged after recovery, got %d", ack.SamplesProcessed)
	}
}

// WS helpers

func dialWS(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, tsMS int64, x, y float64) {
	t.Helper()
	frame := ingest.DeviceFrame{
		Timestamp: tsMS,
		GazeData:  ingest.GazePoint{X: x, Y: y, Confidence: 0.9},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("failed to marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("failed to write frame: %v", err)
	}
}

type ackMessage struct {
	Status           string `json:"status"`
	SamplesProcessed int64  `json:"samples_processed"`
}

// readAck drains messages until a batch acknowledgement arrives.
func readAck(t *testing.T, conn *websocket.Conn) ackMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg ackMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("no acknowledgement arrived: %v", err)
		}
		if msg.Status == "batch_received" {
			return msg
		}
	}
}

func waitState(t *testing.T, sess *session.Session, want session.State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if sess.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("session never reached state %v (now %v)", want, sess.State())
}
