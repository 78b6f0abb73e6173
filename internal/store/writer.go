package store

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/owlet-data/gaze.report/internal/gaze"
	"github.com/owlet-data/gaze.report/internal/monitoring"
	"github.com/owlet-data/gaze.report/internal/timeutil"
)

// BatchWriter is the persistence worker. Raw samples accumulate into
// batches flushed on size or on a timer; events are written as they
// arrive. Enqueueing never blocks: a full queue drops its oldest entry.
// A flush that keeps failing after retries drops the batch, counts the
// losses, and marks the writer degraded rather than stalling intake.
type BatchWriter struct {
	DB         *DB
	BatchSize  int
	Interval   time.Duration
	MaxRetries int
	Clock      timeutil.Clock

	queue    chan persistItem
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	samplesWritten atomic.Int64
	eventsWritten  atomic.Int64
	samplesLost    atomic.Int64
	queueDropped   atomic.Int64
	degraded       atomic.Bool
}

type persistKind int

const (
	itemSample persistKind = iota
	itemEvent
)

type persistItem struct {
	kind    persistKind
	session string
	sample  gaze.CalibratedSample
	event   gaze.Event
}

// WriterStats is a point-in-time snapshot of the writer counters.
type WriterStats struct {
	SamplesWritten int64 `json:"samples_written"`
	EventsWritten  int64 `json:"events_written"`
	SamplesLost    int64 `json:"samples_lost"`
	QueueDropped   int64 `json:"queue_dropped"`
	Degraded       bool  `json:"persistence_degraded"`
}

// NewBatchWriter creates a writer flushing batches of batchSize or every
// interval, whichever comes first.
func NewBatchWriter(db *DB, batchSize int, interval time.Duration, queueDepth int) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 10
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	return &BatchWriter{
		DB:         db,
		BatchSize:  batchSize,
		Interval:   interval,
		MaxRetries: 3,
		Clock:      timeutil.RealClock{},
		queue:      make(chan persistItem, queueDepth),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the worker loop in a goroutine.
func (w *BatchWriter) Start() {
	go w.run()
}

// Stop drains the queue, flushes the final batch, and waits for the worker
// to exit. Safe to call once.
func (w *BatchWriter) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.done
}

// Stats reports the writer counters.
func (w *BatchWriter) Stats() WriterStats {
	return WriterStats{
		SamplesWritten: w.samplesWritten.Load(),
		EventsWritten:  w.eventsWritten.Load(),
		SamplesLost:    w.samplesLost.Load(),
		QueueDropped:   w.queueDropped.Load(),
		Degraded:       w.degraded.Load(),
	}
}

// AppendSample queues one calibrated sample. Never blocks.
func (w *BatchWriter) AppendSample(sessionID string, cs gaze.CalibratedSample) {
	w.enqueue(persistItem{kind: itemSample, session: sessionID, sample: cs})
}

// AppendEvent queues one detected event. Never blocks.
func (w *BatchWriter) AppendEvent(sessionID string, ev gaze.Event) {
	w.enqueue(persistItem{kind: itemEvent, session: sessionID, event: ev})
}

// enqueue pushes without blocking, evicting the oldest queued item when
// full.
func (w *BatchWriter) enqueue(it persistItem) {
	select {
	case w.queue <- it:
		return
	default:
	}

	// Queue full: evict the oldest entry and retry once.
	select {
	case old := <-w.queue:
		w.queueDropped.Add(1)
		if old.kind == itemSample {
			w.samplesLost.Add(1)
		}
	default:
	}
	select {
	case w.queue <- it:
	default:
		w.queueDropped.Add(1)
		if it.kind == itemSample {
			w.samplesLost.Add(1)
		}
	}
}

func (w *BatchWriter) run() {
	defer close(w.done)

	ticker := w.Clock.NewTicker(w.Interval)
	defer ticker.Stop()

	batch := make([]RawSampleRow, 0, w.BatchSize)
	for {
		select {
		case <-w.stopChan:
			// Drain anything still queued, then flush once.
			for {
				select {
				case it := <-w.queue:
					w.consume(&batch, it)
				default:
					w.flush(&batch)
					return
				}
			}

		case it := <-w.queue:
			w.consume(&batch, it)
			if len(batch) >= w.BatchSize {
				w.flush(&batch)
			}

		case <-ticker.C():
			w.flush(&batch)
		}
	}
}

// consume turns one queue item into a pending batch row or an immediate
// event insert.
func (w *BatchWriter) consume(batch *[]RawSampleRow, it persistItem) {
	switch it.kind {
	case itemSample:
		payload, err := json.Marshal(it.sample)
		if err != nil {
			w.samplesLost.Add(1)
			return
		}
		*batch = append(*batch, RawSampleRow{
			Timestamp: it.sample.TimestampNanos,
			SessionID: it.session,
			Payload:   payload,
		})

	case itemEvent:
		row, ok := eventRow(it.session, it.event)
		if !ok {
			return
		}
		// Events are best-effort single inserts; a failure is logged but
		// not retried.
		if err := w.DB.AppendEvent(row); err != nil {
			monitoring.Logf("[Persist] Event insert failed: %v", err)
			return
		}
		w.eventsWritten.Add(1)
	}
}

// flush writes the pending batch with exponential backoff. After
// MaxRetries failures the batch is dropped and the writer marked degraded.
func (w *BatchWriter) flush(batch *[]RawSampleRow) {
	if len(*batch) == 0 {
		return
	}

	backoff := 25 * time.Millisecond
	var err error
	for attempt := 1; attempt <= w.MaxRetries; attempt++ {
		if err = w.DB.AppendRawSamples(*batch); err == nil {
			w.samplesWritten.Add(int64(len(*batch)))
			*batch = (*batch)[:0]
			return
		}
		if attempt < w.MaxRetries {
			w.Clock.Sleep(backoff)
			backoff *= 2
		}
	}

	w.samplesLost.Add(int64(len(*batch)))
	w.degraded.Store(true)
	monitoring.Logf("[Persist] Dropped batch of %d samples after %d attempts: %v", len(*batch), w.MaxRetries, err)
	*batch = (*batch)[:0]
}

// eventRow converts a detector event to its table row.
func eventRow(sessionID string, ev gaze.Event) (EventRow, bool) {
	switch {
	case ev.Type == gaze.EventFixation && ev.Fixation != nil:
		f := ev.Fixation
		return EventRow{
			SessionID:  sessionID,
			StartTS:    f.StartNanos,
			EndTS:      f.EndNanos,
			EventType:  string(gaze.EventFixation),
			AOIID:      f.AOIID,
			GazeX:      f.CentroidX,
			GazeY:      f.CentroidY,
			DurationMS: f.DurationMS,
			Confidence: f.MeanConfidence,
		}, true

	case ev.Type == gaze.EventSaccade && ev.Saccade != nil:
		s := ev.Saccade
		return EventRow{
			SessionID:  sessionID,
			StartTS:    s.StartNanos,
			EndTS:      s.EndNanos,
			EventType:  string(gaze.EventSaccade),
			GazeX:      s.EndX,
			GazeY:      s.EndY,
			DurationMS: s.DurationMS,
		}, true
	}
	return EventRow{}, false
}
