// Package metrics implements the Prometheus metrics exported by the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MeasurementsPublishedTotal counts measurements accepted onto the
	// distributor bus, by source instrument.
	MeasurementsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_measurements_published_total",
			Help: "Total number of measurements published onto the distributor bus",
		},
		[]string{"instrument"},
	)

	// SubscriberDeliveredTotal counts measurements a subscriber actually
	// received.
	SubscriberDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_subscriber_delivered_total",
			Help: "Total number of measurements delivered to a subscriber",
		},
		[]string{"subscriber"},
	)

	// SubscriberDroppedTotal counts measurements dropped for a subscriber
	// whose queue saturated.
	SubscriberDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_subscriber_dropped_total",
			Help: "Total number of measurements dropped because a subscriber's queue was full",
		},
		[]string{"subscriber"},
	)

	// SubscriberQueueDepth tracks the current backlog in a subscriber's
	// bounded queue.
	SubscriberQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daq_subscriber_queue_depth",
			Help: "Current number of queued measurements awaiting delivery to a subscriber",
		},
		[]string{"subscriber"},
	)

	// SubscriberSaturationRatio tracks queue depth as a fraction of capacity,
	// sampled on the metrics window cadence.
	SubscriberSaturationRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daq_subscriber_saturation_ratio",
			Help: "Subscriber queue depth divided by its configured capacity",
		},
		[]string{"subscriber"},
	)

	// InstrumentState tracks the current lifecycle state of each instrument
	// as a one-hot gauge set (value 1 for the active state, 0 otherwise).
	InstrumentState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daq_instrument_state",
			Help: "Current lifecycle state of an instrument (one-hot: 1 for the active state)",
		},
		[]string{"instrument", "state"},
	)

	// InstrumentCommandsTotal counts commands accepted by an instrument task,
	// by outcome.
	InstrumentCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_instrument_commands_total",
			Help: "Total number of commands processed by an instrument task",
		},
		[]string{"instrument", "command", "outcome"},
	)

	// InstrumentErrorsTotal counts hardware/driver errors surfaced by an
	// instrument, by error taxonomy class.
	InstrumentErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_instrument_errors_total",
			Help: "Total number of errors surfaced by an instrument task",
		},
		[]string{"instrument", "class"},
	)

	// RingBufferDroppedTotal counts samples the Tee failed to write into
	// the storage ring buffer (write error, including a full buffer, or
	// timeout), so they were never persisted.
	RingBufferDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_ring_buffer_dropped_total",
			Help: "Total number of samples that could not be written to the storage ring buffer and were not persisted",
		},
		[]string{"instrument"},
	)

	// StorageWriteLatencySeconds measures how long a StorageWriter takes to
	// persist a batch.
	StorageWriteLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daq_storage_write_latency_seconds",
			Help:    "Latency of storage writer batch persistence",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		},
		[]string{"writer"},
	)

	// StorageWriteErrorsTotal counts storage writer failures.
	StorageWriteErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_storage_write_errors_total",
			Help: "Total number of storage writer batch failures",
		},
		[]string{"writer"},
	)

	// RunStepsTotal counts plan steps executed by the run engine, by
	// outcome.
	RunStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_run_steps_total",
			Help: "Total number of run plan steps executed",
		},
		[]string{"run", "step_kind", "outcome"},
	)

	// RunActive tracks whether a run is currently executing (1) or not (0).
	RunActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daq_run_active",
			Help: "Whether a run plan is currently executing",
		},
		[]string{"run"},
	)

	// RunProgressRatio tracks completed-steps / total-steps for an active
	// run.
	RunProgressRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daq_run_progress_ratio",
			Help: "Fraction of a run plan's steps completed so far",
		},
		[]string{"run"},
	)

	// ReconnectAttemptsTotal counts reconnect attempts made by the client
	// reconnect manager, by outcome.
	ReconnectAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daq_reconnect_attempts_total",
			Help: "Total number of reconnect attempts made to a remote endpoint",
		},
		[]string{"endpoint", "outcome"},
	)

	// ReconnectBackoffSeconds tracks the current backoff delay in effect for
	// an endpoint's reconnect loop.
	ReconnectBackoffSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daq_reconnect_backoff_seconds",
			Help: "Current backoff delay before the next reconnect attempt",
		},
		[]string{"endpoint"},
	)
)

// Instrument lifecycle state labels used with InstrumentState; callers set
// the active state's gauge to 1 and the others to 0 for the same instrument.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateReady        = "ready"
	StateAcquiring    = "acquiring"
	StateShuttingDown = "shutting_down"
	StateError        = "error"
)
