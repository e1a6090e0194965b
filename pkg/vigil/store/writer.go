package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/chosenoffset/vigil/pkg/vigil"
	"github.com/chosenoffset/vigil/pkg/vigil/metrics"
)

// ReadingWriter batches readings into a ReadingStore so the live pipeline
// never blocks on the database. Enqueue is non-blocking: when the internal
// queue is full the reading is dropped and counted. Batches flush when they
// reach BatchSize or when the flush interval elapses, whichever is first.
type ReadingWriter struct {
	store vigil.ReadingStore

	queue     chan vigil.SensorReading
	batchSize int
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	dropped  atomic.Uint64
	written  atomic.Uint64
	failures atomic.Uint64

	done chan struct{}
}

// ReadingWriterStats is a point-in-time view of the writer counters.
type ReadingWriterStats struct {
	Written  uint64 `json:"written"`
	Dropped  uint64 `json:"dropped"`
	Failures uint64 `json:"failures"`
}

// NewReadingWriter starts a writer flushing to the given store. Zero values
// pick defaults: queue 2048, batch 100, flush every 2s.
func NewReadingWriter(rs vigil.ReadingStore, queueSize, batchSize int, flushInterval time.Duration, logger *slog.Logger) *ReadingWriter {
	if queueSize <= 0 {
		queueSize = 2048
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &ReadingWriter{
		store:     rs,
		queue:     make(chan vigil.SensorReading, queueSize),
		batchSize: batchSize,
		interval:  flushInterval,
		timeout:   10 * time.Second,
		logger:    logger.With("component", "reading-writer"),
		done:      make(chan struct{}),
	}
	go w.loop()
	return w
}

// Enqueue implements vigil.ReadingSink. It never blocks.
func (w *ReadingWriter) Enqueue(r vigil.SensorReading) {
	select {
	case w.queue <- r:
	default:
		w.dropped.Add(1)
		metrics.StoreFailures.WithLabelValues("reading_enqueue").Inc()
	}
}

func (w *ReadingWriter) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	batch := make([]vigil.SensorReading, 0, w.batchSize)
	for {
		select {
		case r, ok := <-w.queue:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, r)
			if len(batch) >= w.batchSize {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (w *ReadingWriter) flush(batch []vigil.SensorReading) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.store.CreateBatch(ctx, batch); err != nil {
		w.failures.Add(1)
		metrics.StoreFailures.WithLabelValues("reading_batch").Inc()
		w.logger.Warn("reading batch write failed", "size", len(batch), "error", err)
		return
	}
	w.written.Add(uint64(len(batch)))
}

// Close flushes the remaining queue and stops the writer. The writer must
// not be enqueued to after Close.
func (w *ReadingWriter) Close() {
	close(w.queue)
	<-w.done
}

// Stats returns the writer counters.
func (w *ReadingWriter) Stats() ReadingWriterStats {
	return ReadingWriterStats{
		Written:  w.written.Load(),
		Dropped:  w.dropped.Load(),
		Failures: w.failures.Load(),
	}
}
