package api

import (
	"encoding/binary"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/owlet-data/gaze.report/internal/feedback"
	"github.com/owlet-data/gaze.report/internal/ingest"
	"github.com/owlet-data/gaze.report/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxFrame   = 4096

	// wsAckEvery throttles acknowledgements so a 120 Hz stream is not
	// answered frame by frame.
	wsAckEvery = 50
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Device agents connect from their own origin and frames carry no
	// credentials, so cross-origin upgrades are accepted.
	CheckOrigin: func(*http.Request) bool { return true },
}

// sessionSocket is the push ingest path: the client streams gaze frames as
// JSON text messages and receives batch acknowledgements plus feedback
// commands. Connecting starts the session on the push source when it is
// not already running; a socket that started its session also stops it on
// disconnect.
func (s *Server) sessionSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		s.writeJSONError(w, http.StatusNotFound, "session_not_found", "missing session id")
		return
	}

	sess, alreadyRunning, err := s.registry.Start(session.StartOptions{
		SessionID: sessionID,
		Source:    s.push,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	startedHere := !alreadyRunning

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its HTTP error.
		if startedHere {
			sess.Stop()
		}
		return
	}
	log.Printf("[WS] Session %s connected (source=%s)", sessionID, sess.SourceName())

	fid, feed := sess.SubscribeFeedback()
	defer sess.UnsubscribeFeedback(fid)

	outbound := make(chan interface{}, 64)
	readClosed := make(chan struct{})
	writerDone := make(chan struct{})

	// Sole owner of the write side: acknowledgements, feedback commands,
	// pings, and the closing handshake all leave from here.
	go func() {
		defer close(writerDone)
		defer conn.Close()
		ping := time.NewTicker(wsPingPeriod)
		defer ping.Stop()
		for {
			select {
			case msg := <-outbound:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case ev, ok := <-feed:
				if !ok {
					// Session stopped: close the stream cleanly.
					conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session stopped"))
					return
				}
				if ev.Command == nil {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(feedbackMessage(ev.Command)); err != nil {
					return
				}
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-readClosed:
				return
			}
		}
	}()

	conn.SetReadLimit(wsMaxFrame)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	var accepted int64
	start := time.Now()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if msgType != websocket.TextMessage {
			continue
		}

		frame, err := ingest.ParseFrame(data)
		if err != nil {
			wsEnqueue(outbound, map[string]string{
				"error":   "invalid_json",
				"message": err.Error(),
			})
			continue
		}
		if _, err := sess.PushFrame(frame); err != nil {
			wsEnqueue(outbound, map[string]string{
				"error":   "push_rejected",
				"message": err.Error(),
			})
			break
		}
		accepted++

		if accepted%wsAckEvery == 0 {
			wsEnqueue(outbound, map[string]interface{}{
				"status":            "batch_received",
				"samples_processed": accepted,
			})
		}
		if accepted%1000 == 0 {
			elapsed := time.Since(start).Seconds()
			log.Printf("[WS] Session %s: %d frames, %.1f Hz", sessionID, accepted, float64(accepted)/elapsed)
		}
	}

	close(readClosed)
	<-writerDone

	if startedHere {
		if _, err := sess.Stop(); err != nil {
			log.Printf("[WS] Stop session %s: %v", sessionID, err)
		}
	}
	log.Printf("[WS] Session %s disconnected after %d frames", sessionID, accepted)
}

// wsEnqueue never blocks the read loop; a client too slow to drain its own
// acknowledgements just misses some.
func wsEnqueue(ch chan interface{}, msg interface{}) {
	select {
	case ch <- msg:
	default:
	}
}

func feedbackMessage(cmd *feedback.Command) map[string]interface{} {
	return map[string]interface{}{
		"type": "feedback",
		"command": map[string]interface{}{
			"type": cmd.Kind,
			"payload": map[string]interface{}{
				"aoi_id":      cmd.AOIID,
				"word":        cmd.Word,
				"duration_ms": cmd.DurationMS,
				"session_id":  cmd.SessionID,
			},
			"timestamp": cmd.TimestampNanos / 1e6,
		},
	}
}

// timeSyncSocket answers 8-byte big-endian client timestamps with 16 bytes
// of [client_ts_ms | server_ts_ms] so agents can estimate clock offset.
func (s *Server) timeSyncSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	log.Printf("[WS] Time sync client connected")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage || len(data) != 8 {
			log.Printf("[WS] Invalid time sync request length: %d", len(data))
			continue
		}
		clientTS := binary.BigEndian.Uint64(data)
		serverTS := uint64(time.Now().UnixMilli())

		resp := make([]byte, 16)
		binary.BigEndian.PutUint64(resp[:8], clientTS)
		binary.BigEndian.PutUint64(resp[8:], serverTS)

		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.BinaryMessage, resp); err != nil {
			return
		}
	}
}
