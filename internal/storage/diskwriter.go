package storage

import (
	"context"
	"time"

	"icc.tech/daq-core/internal/log"
	"icc.tech/daq-core/internal/measurement"
)

// DiskWriter drains a RingBuffer on a fixed cadence and forwards each
// record to a StorageWriter. It is the ring buffer's single reader; the
// Tee's reliable arm is its single writer.
type DiskWriter struct {
	name   string
	ring   *RingBuffer
	target StorageWriter
	period time.Duration

	done chan struct{}
}

// DefaultFlushPeriod matches the 1Hz default cadence.
const DefaultFlushPeriod = time.Second

func NewDiskWriter(name string, ring *RingBuffer, target StorageWriter, period time.Duration) *DiskWriter {
	if period <= 0 {
		period = DefaultFlushPeriod
	}
	return &DiskWriter{name: name, ring: ring, target: target, period: period, done: make(chan struct{})}
}

// Run flushes on every tick and once more on ctx cancellation before
// calling target.Shutdown, so no buffered record is lost on a clean stop.
func (w *DiskWriter) Run(ctx context.Context) {
	defer close(w.done)
	logger := log.GetLogger().WithField("storage_writer", w.name)

	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(logger)
			if err := w.target.Shutdown(context.Background()); err != nil {
				logger.WithError(err).Error("storage writer shutdown failed")
			}
			return
		case <-ticker.C:
			w.flush(logger)
		}
	}
}

func (w *DiskWriter) flush(logger log.Logger) {
	for _, m := range w.ring.DrainNew() {
		if err := w.writeOne(m); err != nil {
			logger.WithError(err).Warn("storage write failed")
		}
	}
}

func (w *DiskWriter) writeOne(m *measurement.Measurement) error {
	return w.target.Write(m)
}

// Done closes when Run has returned.
func (w *DiskWriter) Done() <-chan struct{} { return w.done }

// Write adapts a RingBuffer to the tee.ReliableSink interface
// without importing the tee package here (storage sits below tee in the
// dependency graph); tee.New accepts anything with Write(*Measurement)
// error, which RingBuffer satisfies via this thin method.
func (r *RingBuffer) Write(m *measurement.Measurement) error { return r.AppendMeasurement(m) }
