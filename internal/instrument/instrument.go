// Package instrument defines the device plug-in contract and the
// cooperative task that runs each device: a per-instrument goroutine with
// a typed command channel, a measurement stream, and the disciplined
// lifecycle Disconnected → Connecting → Ready → Acquiring → ShuttingDown.
package instrument

import (
	"context"

	"icc.tech/daq-core/internal/measurement"
)

// Instrument is the in-process device plug-in API. Implementations own
// exactly one hardware adapter and are driven exclusively by the Task
// that wraps them — never called concurrently from two goroutines.
type Instrument interface {
	// Initialize moves the device from Disconnected through Connecting to
	// Ready (or to Error{recoverable} on failure). Idempotent against
	// duplicate calls while already Connecting or Ready.
	Initialize(ctx context.Context) error

	// Shutdown moves the device to ShuttingDown then Disconnected. The
	// underlying adapter's disconnect must be idempotent since Shutdown
	// may be called after a failed Initialize.
	Shutdown(ctx context.Context) error

	// MeasurementStream returns the channel the instrument publishes on.
	// The instrument owns the sending end; callers only ever receive.
	MeasurementStream() <-chan *measurement.Measurement

	// HandleCommand processes one command synchronously. Called only
	// between frames by the owning Task.
	HandleCommand(ctx context.Context, cmd measurement.InstrumentCommand) error

	// State returns the current lifecycle state.
	State() measurement.InstrumentState

	// Recover attempts Error{recoverable=true} → Ready by rebinding the
	// adapter.
	Recover(ctx context.Context) error

	// Capabilities lists the named contracts this instrument advertises
	// (e.g. "position_control", "exposure_control") for the Manager's
	// capability-proxy module assignment.
	Capabilities() map[string]struct{}
}

// Diagnostics is implemented by instruments that expose the queryable
// scalars every instrument must surface: total_frames, dropped_frames,
// actual_fps, camera_health.
type Diagnostics interface {
	TotalFrames() uint64
	DroppedFrames() uint64
	ActualFPS() float64
	Health() float64 // Critical=0, Degraded=0.5, Ready=0.75, Healthy=1.0
}

// Health gauge values per SPEC_FULL.md §6.2.
const (
	HealthCritical = 0.0
	HealthDegraded = 0.5
	HealthReady    = 0.75
	HealthHealthy  = 1.0
)

// CameraInstrument extends Instrument with camera-specific controls.
type CameraInstrument interface {
	Instrument
	SetExposureMs(ctx context.Context, ms float64) error
	SetROI(ctx context.Context, x, y, width, height int) error
	SetBinning(ctx context.Context, factor uint16) error
	GetSensorSize(ctx context.Context) (width, height int, err error)
	GetPixelSizeUM(ctx context.Context) (float64, error)
	SupportsHardwareTrigger() bool
	Snap(ctx context.Context) error
	StartLive(ctx context.Context) error
	StopLive(ctx context.Context) error
	// LiveTunable reports whether the named parameter may be changed
	// while Acquiring. Per SPEC_FULL.md §11 the reference adapter
	// whitelists only "exposure_ms"; other drivers extend this.
	LiveTunable(name string) bool
}

// Factory constructs a new, uninitialized Instrument instance from
// driver-specific configuration. Registered per type name in the
// Registry.
type Factory func(id string, config map[string]any) (Instrument, error)
