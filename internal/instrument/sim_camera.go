package instrument

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/tevino/abool"

	"icc.tech/daq-core/internal/errs"
	"icc.tech/daq-core/internal/measurement"
)

// exposureDebounceWindow bounds how often an exposure_ms change actually
// lands while the camera is Acquiring: the first change in a window
// applies immediately, later ones are coalesced and applied once at the
// trailing edge.
const exposureDebounceWindow = 200 * time.Millisecond

// SimCamera is a reference camera adapter used for testing and demos: it
// synthesizes frames at a configured rate instead of talking to real
// sensor SDK. It implements the full CameraInstrument contract so the
// Manager and run engine can exercise camera-specific commands without
// real hardware.
type SimCamera struct {
	id string

	mu           sync.Mutex
	state        measurement.InstrumentState
	exposureMs   float64
	roiW, roiH   int
	binning      uint16
	live         bool
	totalFrames  uint64
	droppedTotal uint64
	lastFrameNum int
	fps          float64

	width, height int
	pixelSizeUM   float64

	stream chan *measurement.Measurement
	stop   chan struct{}
	wg     sync.WaitGroup

	// exposureDebounce coalesces exposure_ms changes while Acquiring.
	exposureDebounce  *abool.AtomicBool
	pendingExposureMs float64
}

// NewSimCamera is an instrument.Factory for driver type "sim_camera".
func NewSimCamera(id string, config map[string]any) (Instrument, error) {
	width, height := 640, 480
	if w, ok := config["sensor_width"].(int); ok {
		width = w
	}
	if h, ok := config["sensor_height"].(int); ok {
		height = h
	}
	return &SimCamera{
		id:               id,
		state:            measurement.InstrumentState{Kind: measurement.Disconnected},
		exposureMs:       10,
		roiW:             width,
		roiH:             height,
		binning:          1,
		width:            width,
		height:           height,
		pixelSizeUM:      5.5,
		stream:           make(chan *measurement.Measurement, 8),
		stop:             make(chan struct{}),
		exposureDebounce: abool.New(),
	}, nil
}

func (c *SimCamera) Initialize(ctx context.Context) error {
	c.mu.Lock()
	c.state = measurement.InstrumentState{Kind: measurement.Connecting}
	c.mu.Unlock()

	c.mu.Lock()
	c.state = measurement.InstrumentState{Kind: measurement.Ready}
	c.mu.Unlock()
	return nil
}

func (c *SimCamera) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.state = measurement.InstrumentState{Kind: measurement.ShuttingDown}
	c.mu.Unlock()

	if c.live {
		_ = c.StopLive(ctx)
	}
	c.mu.Lock()
	c.state = measurement.InstrumentState{Kind: measurement.Disconnected}
	c.mu.Unlock()
	return nil
}

func (c *SimCamera) MeasurementStream() <-chan *measurement.Measurement { return c.stream }

func (c *SimCamera) State() measurement.InstrumentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *SimCamera) Recover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Kind != measurement.StateError || !c.state.Recoverable {
		return &errs.StateError{Entity: c.id, CurrentState: c.state.String(), Operation: "recover"}
	}
	c.state = measurement.InstrumentState{Kind: measurement.Ready}
	return nil
}

func (c *SimCamera) Capabilities() map[string]struct{} {
	return map[string]struct{}{"exposure_control": {}, "image_acquisition": {}}
}

func (c *SimCamera) HandleCommand(ctx context.Context, cmd measurement.InstrumentCommand) error {
	switch cmd.Kind {
	case measurement.CmdShutdown:
		return c.Shutdown(ctx)
	case measurement.CmdStartAcquisition:
		return c.StartLive(ctx)
	case measurement.CmdStopAcquisition:
		return c.StopLive(ctx)
	case measurement.CmdSnapFrame:
		return c.Snap(ctx)
	case measurement.CmdRecover:
		return c.Recover(ctx)
	case measurement.CmdSetParameter:
		return c.setParameter(ctx, cmd.Name, cmd.Value)
	case measurement.CmdGetParameter:
		v, err := c.getParameter(cmd.Name)
		if cmd.Reply != nil {
			cmd.Reply <- measurement.CommandResult{Value: v, Err: err}
		}
		return err
	default:
		return fmt.Errorf("sim_camera: unsupported command %s", cmd.Kind)
	}
}

func (c *SimCamera) setParameter(ctx context.Context, name string, value measurement.ParamValue) error {
	c.mu.Lock()
	acquiring := c.state.Kind == measurement.Acquiring
	c.mu.Unlock()

	if acquiring && !c.LiveTunable(name) {
		return &errs.StateError{Entity: c.id, CurrentState: "acquiring", Operation: "set " + name}
	}

	switch name {
	case "exposure_ms":
		return c.SetExposureMs(ctx, value.Float)
	case "binning":
		b, err := value.AsUint16()
		if err != nil {
			return &errs.HardwareError{Kind: errs.HardwareOutOfRange, Param: name, Value: value.Int, ValidRange: "[1,65535]"}
		}
		return c.SetBinning(ctx, b)
	default:
		return &errs.HardwareError{Kind: errs.HardwareInvalidParameter, Param: name, Reason: "unknown parameter"}
	}
}

func (c *SimCamera) getParameter(name string) (measurement.ParamValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch name {
	case "exposure_ms":
		return measurement.Float(c.exposureMs), nil
	case "binning":
		return measurement.Int(int64(c.binning)), nil
	case "total_frames":
		return measurement.Int(int64(c.totalFrames)), nil
	case "dropped_frames":
		return measurement.Int(int64(c.droppedTotal)), nil
	case "actual_fps":
		return measurement.Float(c.fps), nil
	case "camera_health":
		return measurement.Float(c.Health()), nil
	default:
		return measurement.Null(), &errs.HardwareError{Kind: errs.HardwareInvalidParameter, Param: name, Reason: "unknown parameter"}
	}
}

func (c *SimCamera) SetExposureMs(ctx context.Context, ms float64) error {
	if ms <= 0 {
		return &errs.HardwareError{Kind: errs.HardwareOutOfRange, Param: "exposure_ms", Value: ms, ValidRange: "(0, +inf)"}
	}

	c.mu.Lock()
	acquiring := c.state.Kind == measurement.Acquiring
	c.mu.Unlock()

	if !acquiring {
		c.mu.Lock()
		c.exposureMs = ms
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.pendingExposureMs = ms
	c.mu.Unlock()

	// Only the caller that wins the debounce flag applies immediately and
	// schedules the trailing-edge flush; everyone else just updated the
	// pending value the flush will pick up.
	if c.exposureDebounce.SetToIf(false, true) {
		c.mu.Lock()
		c.exposureMs = ms
		c.mu.Unlock()
		time.AfterFunc(exposureDebounceWindow, c.flushPendingExposure)
	}
	return nil
}

// flushPendingExposure applies the latest exposure value requested during
// the debounce window and reopens the window for the next change.
func (c *SimCamera) flushPendingExposure() {
	c.mu.Lock()
	c.exposureMs = c.pendingExposureMs
	c.mu.Unlock()
	c.exposureDebounce.UnSet()
}

func (c *SimCamera) SetROI(ctx context.Context, x, y, width, height int) error {
	if width <= 0 || height <= 0 {
		return &errs.HardwareError{Kind: errs.HardwareOutOfRange, Param: "roi", Reason: "width/height must be positive"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if x+width > c.width || y+height > c.height {
		return &errs.HardwareError{Kind: errs.HardwareOutOfRange, Param: "roi", Reason: "roi exceeds sensor dimensions"}
	}
	c.roiW, c.roiH = width, height
	return nil
}

func (c *SimCamera) SetBinning(ctx context.Context, factor uint16) error {
	c.mu.Lock()
	c.binning = factor
	c.mu.Unlock()
	return nil
}

func (c *SimCamera) GetSensorSize(ctx context.Context) (int, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height, nil
}

func (c *SimCamera) GetPixelSizeUM(ctx context.Context) (float64, error) {
	return c.pixelSizeUM, nil
}

func (c *SimCamera) SupportsHardwareTrigger() bool { return false }

func (c *SimCamera) LiveTunable(name string) bool { return name == "exposure_ms" }

// Snap captures a single frame synchronously.
func (c *SimCamera) Snap(ctx context.Context) error {
	c.emitFrame()
	return nil
}

func (c *SimCamera) StartLive(ctx context.Context) error {
	c.mu.Lock()
	if c.live {
		c.mu.Unlock()
		return nil
	}
	c.live = true
	c.state = measurement.InstrumentState{Kind: measurement.Acquiring}
	c.mu.Unlock()

	c.wg.Add(1)
	go c.liveLoop()
	return nil
}

func (c *SimCamera) StopLive(ctx context.Context) error {
	c.mu.Lock()
	if !c.live {
		c.mu.Unlock()
		return nil
	}
	c.live = false
	c.mu.Unlock()

	close(c.stop)
	c.wg.Wait()
	c.stop = make(chan struct{})

	c.mu.Lock()
	c.state = measurement.InstrumentState{Kind: measurement.Ready}
	c.mu.Unlock()
	return nil
}

func (c *SimCamera) liveLoop() {
	defer c.wg.Done()
	c.mu.Lock()
	exposure := c.exposureMs
	c.mu.Unlock()

	ticker := time.NewTicker(time.Duration(exposure) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.emitFrame()
		}
	}
}

// emitFrame synthesizes one Image measurement plus derived scalar
// statistics, simulating the occasional dropped frame the way a real SDK
// callback-fed adapter would: by advancing a monotonic frame counter with
// occasional gaps.
func (c *SimCamera) emitFrame() {
	c.mu.Lock()
	w, h := c.roiW, c.roiH
	gap := 1
	if rand.Float64() < 0.02 {
		gap = 1 + rand.Intn(3)
	}
	c.lastFrameNum += gap
	if gap > 1 {
		c.droppedTotal += uint64(gap - 1)
	}
	c.totalFrames++
	c.mu.Unlock()

	pixels := make([]uint8, w*h)
	sum := 0
	for i := range pixels {
		v := uint8(rand.Intn(256))
		pixels[i] = v
		sum += int(v)
	}
	mean := float64(sum) / float64(len(pixels))

	now := time.Now()
	img, err := measurement.NewImage(c.id+".image", w, h, measurement.NewPixelBufferU8(pixels), "counts", nil, now)
	if err != nil {
		return
	}
	select {
	case c.stream <- img:
	default:
	}
	select {
	case c.stream <- measurement.NewScalar(c.id+".mean_intensity", mean, "counts", now):
	default:
	}
}

func (c *SimCamera) TotalFrames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalFrames
}

func (c *SimCamera) DroppedFrames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.droppedTotal
}

func (c *SimCamera) ActualFPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exposureMs <= 0 {
		return 0
	}
	return 1000 / c.exposureMs
}

func (c *SimCamera) Health() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state.Kind {
	case measurement.StateError:
		if c.state.Recoverable {
			return HealthDegraded
		}
		return HealthCritical
	case measurement.Ready:
		return HealthReady
	case measurement.Acquiring:
		return HealthHealthy
	default:
		return HealthDegraded
	}
}

var (
	_ CameraInstrument = (*SimCamera)(nil)
	_ Diagnostics      = (*SimCamera)(nil)
)
