package ingest

import (
	"context"
	"sync"
)

// PushSource bridges externally delivered frames (the websocket ingest
// endpoint) into a session's sample stream. The transport handler parses
// frames and calls Push; the source normalizes and forwards them.
type PushSource struct {
	mu      sync.Mutex
	streams map[string]*pushStream
}

type pushStream struct {
	sink   SampleSink
	norm   *Normalizer
	cancel context.CancelFunc
	pushed int64
}

// NewPushSource creates an empty push bridge.
func NewPushSource() *PushSource {
	return &PushSource{streams: make(map[string]*pushStream)}
}

// Name identifies the source variant.
func (p *PushSource) Name() string { return "push" }

// StartStream registers the session as accepting pushed frames.
func (p *PushSource) StartStream(ctx context.Context, sessionID string, sink SampleSink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.streams[sessionID]; ok {
		return ErrAlreadyStreaming
	}
	streamCtx, cancel := context.WithCancel(ctx)
	p.streams[sessionID] = &pushStream{sink: sink, norm: NewNormalizer(), cancel: cancel}

	go func() {
		<-streamCtx.Done()
		p.StopStream(sessionID)
	}()
	return nil
}

// StopStream unregisters the session. Safe to call when no stream is
// active; later pushes for the session return ErrNotStreaming.
func (p *PushSource) StopStream(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.streams[sessionID]; ok {
		st.cancel()
		delete(p.streams, sessionID)
	}
	return nil
}

// Push normalizes one frame and forwards it to the session's sink. It
// returns the total frames accepted for the session so the transport can
// acknowledge in batches.
func (p *PushSource) Push(sessionID string, frame DeviceFrame) (int64, error) {
	p.mu.Lock()
	st, ok := p.streams[sessionID]
	if !ok {
		p.mu.Unlock()
		return 0, ErrNotStreaming
	}
	st.pushed++
	n := st.pushed
	sink := st.sink
	sample := st.norm.Sample(frame)
	p.mu.Unlock()

	sink(sample)
	return n, nil
}
