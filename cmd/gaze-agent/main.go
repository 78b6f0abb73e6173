// Command gaze-agent streams synthetic gaze frames into a gaze-report
// server over the websocket ingest path, standing in for an eye tracker
// during development and load testing.
//
// The agent first measures its clock offset against the server over
// /ws/time-sync, then connects to /ws/sessions/{id} and emits
// reading-pattern frames at the configured rate, stamped on the server's
// clock. Feedback pushed by the server is logged as it arrives.
//
// Usage:
//
//	go run ./cmd/gaze-agent [flags]
//
// Flags:
//
//	-server    Server base URL (default: http://localhost:8080)
//	-session   Session id (default: agent-<unix>)
//	-rate      Frames per second (default: 120)
//	-duration  Stop after this long; 0 streams until interrupted
//	-screen-w  Device coordinate range, x (default: 1920)
//	-screen-h  Device coordinate range, y (default: 1080)
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/owlet-data/gaze.report/internal/ingest"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	timeSyncRounds = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
	logEveryFrames = 1200
)

type agent struct {
	serverURL string
	sessionID string
	rateHz    int
	screenW   float64
	screenH   float64

	offsetMS int64 // server clock minus agent clock

	sent     atomic.Int64
	acked    atomic.Int64
	feedback atomic.Int64
}

func main() {
	server := flag.String("server", "http://localhost:8080", "Server base URL")
	session := flag.String("session", "", "Session id (default: agent-<unix>)")
	rate := flag.Int("rate", 120, "Frames per second")
	duration := flag.Duration("duration", 0, "Stop after this long; 0 streams until interrupted")
	screenW := flag.Float64("screen-w", 1920, "Device coordinate range, x")
	screenH := flag.Float64("screen-h", 1080, "Device coordinate range, y")
	flag.Parse()

	if *rate <= 0 || *rate > 1000 {
		log.Fatalf("Error: -rate must be between 1 and 1000, got %d", *rate)
	}
	base := *session
	if base == "" {
		base = fmt.Sprintf("agent-%d", time.Now().Unix())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	a := &agent{
		serverURL: *server,
		rateHz:    *rate,
		screenW:   *screenW,
		screenH:   *screenH,
	}

	log.Printf("Streaming to %s at %d Hz", *server, *rate)
	a.run(ctx, base)
	log.Printf("Done: sent=%d acked=%d feedback=%d", a.sent.Load(), a.acked.Load(), a.feedback.Load())
}

// run streams frames, reconnecting with backoff until the context ends.
// Each connection gets a fresh session id: the server stops a session when
// the socket that started it disconnects, and stopped sessions do not
// restart.
func (a *agent) run(ctx context.Context, base string) {
	backoff := initialBackoff
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}
		attempt++
		a.sessionID = base
		if attempt > 1 {
			a.sessionID = fmt.Sprintf("%s-%d", base, attempt)
		}

		connected, err := a.stream(ctx)
		if ctx.Err() != nil || err == nil {
			return
		}
		if connected {
			backoff = initialBackoff
		}
		log.Printf("Connection lost: %v", err)

		jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
		sleep := backoff + jitter
		if sleep < 0 {
			sleep = backoff
		}
		log.Printf("Retrying in %s", sleep)
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (a *agent) buildWSURL(path string) (string, error) {
	u, err := url.Parse(a.serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = path
	return u.String(), nil
}

// syncClock measures the offset between the agent and server clocks over
// the binary time-sync socket, averaging a few round trips.
func (a *agent) syncClock() error {
	wsURL, err := a.buildWSURL("/ws/time-sync")
	if err != nil {
		return fmt.Errorf("failed to build time-sync URL: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	var total int64
	for i := 0; i < timeSyncRounds; i++ {
		t0 := time.Now().UnixMilli()
		req := make([]byte, 8)
		binary.BigEndian.PutUint64(req, uint64(t0))

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, req); err != nil {
			return fmt.Errorf("time-sync write: %w", err)
		}

		conn.SetReadDeadline(time.Now().Add(writeWait))
		_, resp, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("time-sync read: %w", err)
		}
		t1 := time.Now().UnixMilli()
		if len(resp) != 16 {
			return fmt.Errorf("time-sync reply has %d bytes, want 16", len(resp))
		}
		serverTS := int64(binary.BigEndian.Uint64(resp[8:16]))
		total += serverTS - (t0+t1)/2
	}

	a.offsetMS = total / timeSyncRounds
	log.Printf("Clock offset: %+d ms", a.offsetMS)
	return nil
}

// stream runs one connection: time sync, dial, then the write loop paced by
// a ticker with a reader goroutine handling acks and feedback. The returned
// bool reports whether the session socket was established, so the caller can
// reset its backoff.
func (a *agent) stream(ctx context.Context) (bool, error) {
	if err := a.syncClock(); err != nil {
		return false, err
	}

	wsURL, err := a.buildWSURL("/ws/sessions/" + a.sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to build session URL: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()
	log.Printf("Connected: session %s", a.sessionID)

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	readDone := make(chan error, 1)
	go a.readPump(conn, readDone)

	walker := ingest.NewFrameWalker(a.rateHz, a.screenW, a.screenH, time.Now().UnixNano())
	frameTicker := time.NewTicker(time.Second / time.Duration(a.rateHz))
	defer frameTicker.Stop()
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return true, nil

		case err := <-readDone:
			return true, err

		case <-frameTicker.C:
			frame := walker.Next(time.Now().UnixMilli() + a.offsetMS)
			data, err := json.Marshal(frame)
			if err != nil {
				return true, fmt.Errorf("marshal frame: %w", err)
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return true, fmt.Errorf("write frame: %w", err)
			}
			if sent := a.sent.Add(1); sent%logEveryFrames == 0 {
				log.Printf("Sent %d frames (acked %d, feedback %d)", sent, a.acked.Load(), a.feedback.Load())
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return true, fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

// serverMessage covers both ack and feedback frames from the server.
type serverMessage struct {
	Status           string `json:"status"`
	SamplesProcessed int64  `json:"samples_processed"`
	Message          string `json:"message"`

	Type    string `json:"type"`
	Command struct {
		Type    string `json:"type"`
		Payload struct {
			AOIID      string  `json:"aoi_id"`
			Word       string  `json:"word"`
			DurationMS float64 `json:"duration_ms"`
		} `json:"payload"`
	} `json:"command"`
}

func (a *agent) readPump(conn *websocket.Conn, done chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			done <- err
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Unparseable server message: %s", data)
			continue
		}

		switch {
		case msg.Type == "feedback":
			a.feedback.Add(1)
			log.Printf("Feedback: %s word=%q dwell=%.0fms",
				msg.Command.Type, msg.Command.Payload.Word, msg.Command.Payload.DurationMS)
		case msg.Status == "batch_received":
			a.acked.Store(msg.SamplesProcessed)
		case msg.Status != "":
			log.Printf("Server: %s %s", msg.Status, msg.Message)
		}
	}
}
