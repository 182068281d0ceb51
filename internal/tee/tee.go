// Package tee implements the Tee pipeline: one input stream of
// measurements split into a reliable arm (ring buffer → disk writer) and
// a lossy arm (Data Distributor → live subscribers), each with its own
// backpressure policy.
package tee

import (
	"context"
	"time"

	"go.uber.org/atomic"

	"icc.tech/daq-core/internal/distributor"
	"icc.tech/daq-core/internal/log"
	"icc.tech/daq-core/internal/measurement"
	"icc.tech/daq-core/internal/metrics"
)

// ReliableSink is the Tee's reliable-arm destination: the ring buffer
// writer. Write blocks the Tee up to Config.ReliableTimeout.
type ReliableSink interface {
	Write(m *measurement.Measurement) error
}

// Config tunes the Tee's reliable-arm backpressure policy.
type Config struct {
	// ReliableTimeout bounds how long the Tee blocks on a saturated ring
	// buffer before dropping and counting it, per SPEC_FULL.md §6.3.
	ReliableTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{ReliableTimeout: 200 * time.Millisecond}
}

const warnEveryNRingbufDrops = 100

// Tee is a trivial single-consumer goroutine: for every measurement it
// receives, it writes to the reliable sink first (may block up to the
// timeout), then broadcasts to the lossy arm (never blocks). If the
// reliable write fails after the timeout, the measurement still reaches
// the lossy arm — dropping persistence never drops the live view.
type Tee struct {
	name       string
	cfg        Config
	reliable   ReliableSink
	lossy      *distributor.Distributor
	dropped    atomic.Uint64
	dropsSince atomic.Uint64
}

// New creates a Tee writing to reliable and broadcasting onto lossy.
func New(name string, cfg Config, reliable ReliableSink, lossy *distributor.Distributor) *Tee {
	if cfg.ReliableTimeout <= 0 {
		cfg = DefaultConfig()
	}
	return &Tee{name: name, cfg: cfg, reliable: reliable, lossy: lossy}
}

// Run consumes in until ctx is cancelled or in is closed, performing both
// writes for each measurement in order.
func (t *Tee) Run(ctx context.Context, in <-chan *measurement.Measurement) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			t.process(m)
		}
	}
}

func (t *Tee) process(m *measurement.Measurement) {
	t.writeReliable(m)
	t.lossy.Broadcast(m)
}

// writeReliable performs a single reliable-arm Write, run in a goroutine
// and bounded by the timeout: the sink's own Write call applies whatever
// internal backpressure it has; a Write error, or no result before the
// timeout, is counted as a drop. The write is not retried.
func (t *Tee) writeReliable(m *measurement.Measurement) {
	done := make(chan error, 1)
	go func() { done <- t.reliable.Write(m) }()

	select {
	case err := <-done:
		if err != nil {
			t.countDrop()
		}
	case <-time.After(t.cfg.ReliableTimeout):
		t.countDrop()
	}
}

func (t *Tee) countDrop() {
	n := t.dropped.Inc()
	metrics.RingBufferDroppedTotal.WithLabelValues(t.name).Inc()
	if since := t.dropsSince.Inc(); since >= warnEveryNRingbufDrops {
		t.dropsSince.Store(0)
		log.GetLogger().WithFields(map[string]interface{}{
			"instrument": t.name, "total_dropped": n,
		}).Warn("ring buffer reliable-arm drops reached warn threshold")
	}
}

// Dropped returns the total count of reliable-arm drops, for the
// ringbuf_dropped integrity invariant.
func (t *Tee) Dropped() uint64 { return t.dropped.Load() }
