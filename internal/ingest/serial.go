package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/owlet-data/gaze.report/internal/monitoring"
)

// ListPorts enumerates the serial ports visible to the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// SerialSource reads NDJSON gaze frames from a serial port, one frame per
// line. Malformed lines are counted and skipped so a glitchy device cannot
// stall the stream.
type SerialSource struct {
	// PortName is the device path, e.g. /dev/ttyUSB0.
	PortName string
	// BaudRate defaults to 115200.
	BaudRate int

	// open is swapped by tests to avoid real hardware.
	open func(name string, mode *serial.Mode) (serial.Port, error)

	mu      sync.Mutex
	streams map[string]*serialStream

	framesRead    atomic.Int64
	framesDropped atomic.Int64
}

type serialStream struct {
	cancel context.CancelFunc
	port   serial.Port
}

// NewSerialSource creates a source for the named port.
func NewSerialSource(portName string) *SerialSource {
	return &SerialSource{
		PortName: portName,
		BaudRate: 115200,
		open:     serial.Open,
		streams:  make(map[string]*serialStream),
	}
}

// Name identifies the source variant.
func (s *SerialSource) Name() string { return "serial" }

// Stats reports frames parsed and frames dropped as malformed.
func (s *SerialSource) Stats() (read, dropped int64) {
	return s.framesRead.Load(), s.framesDropped.Load()
}

// StartStream opens the port and begins parsing frames for the session.
func (s *SerialSource) StartStream(ctx context.Context, sessionID string, sink SampleSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[sessionID]; ok {
		return ErrAlreadyStreaming
	}

	mode := &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := s.open(s.PortName, mode)
	if err != nil {
		return fmt.Errorf("ingest: open %s: %w", s.PortName, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	s.streams[sessionID] = &serialStream{cancel: cancel, port: port}

	// Closing the port unblocks the scanner when the context ends.
	go func() {
		<-streamCtx.Done()
		port.Close()
	}()
	go s.monitor(streamCtx, sessionID, port, sink)
	return nil
}

// StopStream closes the session's port. Safe to call when no stream is
// active.
func (s *SerialSource) StopStream(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[sessionID]; ok {
		st.cancel()
		delete(s.streams, sessionID)
	}
	return nil
}

// monitor reads frames line by line until the port closes or the context
// ends.
func (s *SerialSource) monitor(ctx context.Context, sessionID string, port io.Reader, sink SampleSink) {
	defer s.StopStream(sessionID)

	monitoring.Logf("[Serial] Streaming %s for session %s", s.PortName, sessionID)
	norm := NewNormalizer()
	scan := bufio.NewScanner(port)
	for scan.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scan.Bytes()
		if len(line) == 0 {
			continue
		}
		frame, err := ParseFrame(line)
		if err != nil {
			if n := s.framesDropped.Add(1); n%100 == 1 {
				monitoring.Logf("[Serial] Dropped malformed frame (%d so far): %v", n, err)
			}
			continue
		}
		s.framesRead.Add(1)
		sink(norm.Sample(frame))
	}
	if err := scan.Err(); err != nil && ctx.Err() == nil {
		monitoring.Logf("[Serial] Read error on %s: %v", s.PortName, err)
	}
}
