// Package distributor implements the Data Distributor: a measurement bus
// that fans one producer out to many subscribers with per-subscriber
// bounded queues, drop accounting, and lag throttling. A slow subscriber
// never blocks the producer or any other subscriber.
package distributor

import (
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"

	"icc.tech/daq-core/internal/log"
	"icc.tech/daq-core/internal/measurement"
	"icc.tech/daq-core/internal/metrics"
)

// Config tunes the distributor's default subscriber capacity and warning
// thresholds; it mirrors the application.data_distributor config section.
type Config struct {
	SubscriberCapacity     int
	WarnDropRatePercent    float64
	ErrorSaturationPercent float64
	MetricsWindowSecs      int
}

// DefaultConfig returns the distributor defaults used when a section is
// absent from the configuration document.
func DefaultConfig() Config {
	return Config{
		SubscriberCapacity:     1024,
		WarnDropRatePercent:    10,
		ErrorSaturationPercent: 80,
		MetricsWindowSecs:      5,
	}
}

type subscriber struct {
	name      string
	ch        chan *measurement.Measurement
	capacity  int
	delivered atomic.Uint64
	dropped   atomic.Uint64
	lagged    atomic.Uint64
	lastDrop  atomic.Int64 // unix nanos, 0 = never
	// dropsSinceLog and lastLogAt throttle "subscriber lagging" warnings:
	// one is logged once N drops have accumulated or the time window has
	// elapsed since the previous warning.
	dropsSinceLog atomic.Uint64
	lastLogAt     atomic.Int64
}

const lagWarnEveryNDrops = 100
const lagWarnWindow = 10 * time.Second

// Distributor is the measurement bus. Zero value is not usable; use New.
type Distributor struct {
	cfg Config

	mu   sync.RWMutex // guards the subscriber registry only; μs-scale critical sections
	subs map[string]*subscriber
	seq  uint64 // disambiguates repeated Subscribe(name) calls
}

// New creates a Distributor with the given tuning.
func New(cfg Config) *Distributor {
	if cfg.SubscriberCapacity <= 0 {
		cfg.SubscriberCapacity = DefaultConfig().SubscriberCapacity
	}
	return &Distributor{cfg: cfg, subs: make(map[string]*subscriber)}
}

// Subscribe registers a new subscriber and returns its receive channel and
// an unsubscribe function. Calling the returned func removes the
// subscriber from the registry and closes its channel; it is safe to call
// more than once.
func (d *Distributor) Subscribe(name string) (<-chan *measurement.Measurement, func()) {
	d.mu.Lock()
	d.seq++
	key := name
	if _, exists := d.subs[key]; exists {
		key = name + "#" + strconv.FormatUint(d.seq, 10)
	}
	sub := &subscriber{name: name, ch: make(chan *measurement.Measurement, d.cfg.SubscriberCapacity), capacity: d.cfg.SubscriberCapacity}
	d.subs[key] = sub
	d.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, key)
			d.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, unsub
}

// Broadcast enqueues m into every live subscriber's channel with a
// non-blocking send. A full channel increments that subscriber's dropped
// counter and, per the drop policy resolved in SPEC_FULL.md §11, the
// *newest* measurement (m) is the one dropped — existing queued items are
// left alone. Broadcast never blocks regardless of how many subscribers
// are saturated.
func (d *Distributor) Broadcast(m *measurement.Measurement) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, sub := range d.subs {
		select {
		case sub.ch <- m:
			sub.delivered.Inc()
			metrics.SubscriberDeliveredTotal.WithLabelValues(sub.name).Inc()
		default:
			sub.dropped.Inc()
			sub.lagged.Inc()
			sub.lastDrop.Store(time.Now().UnixNano())
			metrics.SubscriberDroppedTotal.WithLabelValues(sub.name).Inc()
			d.maybeWarnLag(sub)
		}
	}
	if m.Channel != "" {
		metrics.MeasurementsPublishedTotal.WithLabelValues(m.Channel).Inc()
	}
}

func (d *Distributor) maybeWarnLag(sub *subscriber) {
	n := sub.dropsSinceLog.Inc()
	last := sub.lastLogAt.Load()
	now := time.Now()
	if n < lagWarnEveryNDrops && now.UnixNano()-last < lagWarnWindow.Nanoseconds() {
		return
	}
	sub.dropsSinceLog.Store(0)
	sub.lastLogAt.Store(now.UnixNano())
	log.GetLogger().WithFields(map[string]interface{}{
		"subscriber": sub.name,
		"dropped":    sub.dropped.Load(),
	}).Warn("subscriber lagging, dropping measurements")
}

// SubscriberSnapshot is the point-in-time metrics for one subscriber.
type SubscriberSnapshot struct {
	Name          string
	Delivered     uint64
	Dropped       uint64
	Lagged        uint64
	QueueDepth    int
	SaturationPct float64
	LastDropAt    time.Time
	// Warn is set when SaturationPct is at or above the configured
	// ErrorSaturationPercent.
	Warn bool
}

// MetricsSnapshot returns a consistent-at-call-time snapshot across all
// subscribers. It also refreshes the corresponding Prometheus gauges.
func (d *Distributor) MetricsSnapshot() []SubscriberSnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]SubscriberSnapshot, 0, len(d.subs))
	for _, sub := range d.subs {
		depth := len(sub.ch)
		sat := 0.0
		if sub.capacity > 0 {
			sat = 100 * float64(depth) / float64(sub.capacity)
		}
		var lastDrop time.Time
		if ns := sub.lastDrop.Load(); ns > 0 {
			lastDrop = time.Unix(0, ns)
		}
		metrics.SubscriberQueueDepth.WithLabelValues(sub.name).Set(float64(depth))
		metrics.SubscriberSaturationRatio.WithLabelValues(sub.name).Set(sat / 100)
		out = append(out, SubscriberSnapshot{
			Name:          sub.name,
			Delivered:     sub.delivered.Load(),
			Dropped:       sub.dropped.Load(),
			Lagged:        sub.lagged.Load(),
			QueueDepth:    depth,
			SaturationPct: sat,
			LastDropAt:    lastDrop,
			Warn:          d.cfg.ErrorSaturationPercent > 0 && sat >= d.cfg.ErrorSaturationPercent,
		})
	}
	return out
}

// SubscriberCount returns the number of live subscribers.
func (d *Distributor) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}
