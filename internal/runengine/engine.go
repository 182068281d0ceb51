package runengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"icc.tech/daq-core/internal/distributor"
	"icc.tech/daq-core/internal/errs"
	"icc.tech/daq-core/internal/log"
	"icc.tech/daq-core/internal/measurement"
	"icc.tech/daq-core/internal/metrics"
)

// ExecutionStatus is the run's coarse lifecycle state.
type ExecutionStatus int

const (
	Idle ExecutionStatus = iota
	Running
	Paused
	Aborted
	Completed
	Failed
)

func (s ExecutionStatus) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Aborted:
		return "aborted"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ExecutionState is the Status() projection, safe to poll at most every
// 500ms per §6.6. The engine publishes only its ProgressRatio onto the
// Data Distributor (as the scalar channel "run.<id>.progress"), after each
// counted event and at run end; pause and resume are not published.
type ExecutionState struct {
	RunID          string
	Status         ExecutionStatus
	EventsDone     int
	TotalEvents    int
	OuterIndex     int
	OuterTotal     int
	InnerIndex     int
	InnerTotal     int
	Error          string
	StartedAt      time.Time
}

// ProgressRatio is EventsDone/TotalEvents, monotonically non-decreasing
// for the lifetime of a run.
func (s ExecutionState) ProgressRatio() float64 {
	if s.TotalEvents == 0 {
		return 0
	}
	return float64(s.EventsDone) / float64(s.TotalEvents)
}

// Mover is the Move step's device contract; the daemon binds this to an
// instrument's capability proxy or direct adapter handle.
type Mover interface {
	MoveTo(ctx context.Context, position float64) error
}

// Acquirer is the Acquire step's device contract.
type Acquirer interface {
	Snap(ctx context.Context) error
}

// DeviceResolver looks up the Mover/Acquirer bound to a device id; the
// engine never holds instrument handles directly.
type DeviceResolver interface {
	Mover(id string) (Mover, bool)
	Acquirer(id string) (Acquirer, bool)
}

// ApprovalAlert is raised when an adaptive-scan trigger fires; an
// external handler must complete Decision, or the engine auto-proceeds
// after Timeout when RequiresApproval is false.
type ApprovalAlert struct {
	Title            string
	Message          string
	RequiresApproval bool
	Timeout          time.Duration
	Decision         chan bool // true = approve/proceed, false = cancel
}

const defaultApprovalTimeout = 3 * time.Second
const defaultAcquireRetries = 2
const defaultAcquireBackoff = 200 * time.Millisecond

// Engine executes one Plan at a time. Queue starts a fresh execution
// goroutine; Pause/Resume/Abort/Status control and observe it through a
// small set of channels, mirroring the Manager's actor style but scoped
// to a single run's lifetime rather than a long-lived command loop.
type Engine struct {
	resolver DeviceResolver
	dist     *distributor.Distributor

	mu      sync.Mutex
	state   ExecutionState
	pauseCh chan struct{}
	resume  chan struct{}
	abortCh chan struct{}
	doneCh  chan struct{}

	// onApproval, when set, is called synchronously from the execution
	// goroutine whenever an adaptive-scan trigger fires; it must arrange
	// for alert.Decision to be written to (or rely on the timeout).
	onApproval func(alert ApprovalAlert)
}

func New(resolver DeviceResolver, dist *distributor.Distributor) *Engine {
	return &Engine{resolver: resolver, dist: dist, state: ExecutionState{Status: Idle}}
}

// SetApprovalHandler registers the callback adaptive-scan triggers
// invoke; nil means every trigger auto-proceeds after its timeout.
func (e *Engine) SetApprovalHandler(f func(alert ApprovalAlert)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onApproval = f
}

// Queue validates plan against knownDevices, computes TotalEvents,
// transitions Idle->Running, and starts the execution goroutine.
func (e *Engine) Queue(ctx context.Context, plan *Plan, runID string, knownDevices map[string]struct{}) (string, error) {
	e.mu.Lock()
	if e.state.Status == Running || e.state.Status == Paused {
		e.mu.Unlock()
		return "", &errs.StateError{Entity: "run_engine", CurrentState: e.state.Status.String(), Operation: "queue"}
	}
	e.mu.Unlock()

	if err := plan.Validate(knownDevices); err != nil {
		return "", err
	}

	e.mu.Lock()
	e.state = ExecutionState{RunID: runID, Status: Running, TotalEvents: plan.TotalEvents(), StartedAt: time.Now()}
	e.pauseCh = make(chan struct{})
	e.resume = make(chan struct{})
	e.abortCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	e.mu.Unlock()

	metrics.RunActive.WithLabelValues(runID).Set(1)
	go e.execute(plan, runID)
	return runID, nil
}

// Pause requests a pause at the next checkpoint (between events).
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status != Running {
		return
	}
	close(e.pauseCh)
}

// Resume transitions Paused->Running.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status != Paused {
		return
	}
	e.state.Status = Running
	close(e.resume)
	e.pauseCh = make(chan struct{})
	e.resume = make(chan struct{})
}

// Abort stops the run immediately; an in-flight acquire receives a
// StopAcquisition-equivalent cancellation via ctx.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status != Running && e.state.Status != Paused {
		return
	}
	select {
	case <-e.abortCh:
	default:
		close(e.abortCh)
	}
}

// Status returns a snapshot; callers should poll at most every 500ms.
func (e *Engine) Status() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done closes when the current run's execution goroutine has returned.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doneCh
}

func (e *Engine) execute(plan *Plan, runID string) {
	logger := log.GetLogger().WithField("run", runID)
	defer close(e.doneCh)
	defer metrics.RunActive.WithLabelValues(runID).Set(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-e.abortCh:
			cancel()
		case <-e.doneCh:
		}
	}()

	err := e.runSteps(ctx, runID, plan.Steps, -1, -1)

	e.mu.Lock()
	select {
	case <-e.abortCh:
		e.state.Status = Aborted
	default:
		if err != nil {
			e.state.Status = Failed
			e.state.Error = err.Error()
		} else {
			e.state.Status = Completed
		}
	}
	final := e.state
	e.mu.Unlock()

	e.publish(runID, final)
	if err != nil {
		logger.WithError(err).Warn("run ended with error")
	} else {
		logger.Info("run completed")
	}
}

// runSteps executes steps in order, honoring pause/abort checkpoints
// between every leaf event. outerIdx/outerTotal are -1 when not nested.
func (e *Engine) runSteps(ctx context.Context, runID string, steps []Step, outerIdx, outerTotal int) error {
	for _, step := range steps {
		if err := e.checkpoint(ctx); err != nil {
			return err
		}
		if err := e.runStep(ctx, runID, step, outerIdx, outerTotal); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, runID string, step Step, outerIdx, outerTotal int) error {
	switch step.Kind {
	case StepAcquire:
		return e.runAcquire(ctx, runID, step)
	case StepMove:
		if err := e.runMove(ctx, step); err != nil {
			return err
		}
		return e.advance(runID, 1, -1, -1, -1, -1)
	case StepWait:
		if err := e.runWait(ctx, step); err != nil {
			return err
		}
		return e.advance(runID, 1, -1, -1, -1, -1)
	case StepScan:
		for i := 0; i < step.Points; i++ {
			if err := e.checkpoint(ctx); err != nil {
				return err
			}
			if err := e.advance(runID, 1, i, step.Points, -1, -1); err != nil {
				return err
			}
		}
		return nil
	case StepNestedScan:
		for i := 0; i < step.Points; i++ {
			if err := e.checkpoint(ctx); err != nil {
				return err
			}
			if err := e.runSteps(ctx, runID, step.Inner, i, step.Points); err != nil {
				return err
			}
		}
		return nil
	case StepAdaptiveScan:
		return e.runAdaptive(ctx, runID, step)
	case StepLoop:
		for i := 0; i < step.Iterations; i++ {
			if err := e.checkpoint(ctx); err != nil {
				return err
			}
			if err := e.runSteps(ctx, runID, step.Body, outerIdx, outerTotal); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("runengine: unknown step kind %v", step.Kind)
	}
}

func (e *Engine) runAcquire(ctx context.Context, runID string, step Step) error {
	acq, ok := e.resolver.Acquirer(step.Device)
	if !ok {
		return &errs.HardwareError{Kind: errs.HardwareDeviceNotFound, Device: step.Device}
	}
	var lastErr error
	for attempt := 0; attempt <= defaultAcquireRetries; attempt++ {
		lastErr = acq.Snap(ctx)
		metrics.RunStepsTotal.WithLabelValues(runID, StepAcquire.String(), outcome(lastErr)).Inc()
		if lastErr == nil {
			return e.advance(runID, 1, -1, -1, -1, -1)
		}
		var hwErr *errs.HardwareError
		if !isRetriable(lastErr, &hwErr) || attempt == defaultAcquireRetries {
			break
		}
		time.Sleep(defaultAcquireBackoff * time.Duration(attempt+1))
	}
	return fmt.Errorf("acquire failed on %s: %w", step.Device, lastErr)
}

func isRetriable(err error, target **errs.HardwareError) bool {
	var hw *errs.HardwareError
	if e, ok := err.(*errs.HardwareError); ok {
		hw = e
	}
	if hw == nil {
		return false
	}
	*target = hw
	return hw.Kind == errs.HardwareCommunicationTimeout || hw.Kind == errs.HardwareAcquisitionError
}

func (e *Engine) runMove(ctx context.Context, step Step) error {
	mover, ok := e.resolver.Mover(step.Device)
	if !ok {
		return &errs.HardwareError{Kind: errs.HardwareDeviceNotFound, Device: step.Device}
	}
	// Move failure is always fatal to the run, no retry.
	return mover.MoveTo(ctx, step.Position)
}

func (e *Engine) runWait(ctx context.Context, step Step) error {
	select {
	case <-time.After(step.Duration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) runAdaptive(ctx context.Context, runID string, step Step) error {
	alert := ApprovalAlert{
		Title:            "adaptive scan trigger",
		Message:          fmt.Sprintf("channel %s crossed threshold %g", step.TriggerChannel, step.TriggerThreshold),
		RequiresApproval: step.ApprovalRequired,
		Timeout:          step.ApprovalTimeout,
		Decision:         make(chan bool, 1),
	}
	if alert.Timeout <= 0 {
		alert.Timeout = defaultApprovalTimeout
	}

	e.mu.Lock()
	handler := e.onApproval
	e.mu.Unlock()
	if handler != nil {
		handler(alert)
	}

	select {
	case proceed := <-alert.Decision:
		if !proceed {
			return &errs.ValidationError{Element: "adaptive_scan", Reason: "cancelled by approval handler"}
		}
	case <-time.After(alert.Timeout):
		if step.ApprovalRequired {
			return &errs.ValidationError{Element: "adaptive_scan", Reason: "approval timed out"}
		}
		// RequiresApproval=false auto-proceeds after the timeout.
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.advance(runID, 1, -1, -1, -1, -1)
}

// checkpoint is the between-events suspension point: abort short-circuits
// immediately, pause blocks until Resume or Abort.
func (e *Engine) checkpoint(ctx context.Context) error {
	select {
	case <-e.abortCh:
		return &errs.ValidationError{Element: "run", Reason: "aborted"}
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	e.mu.Lock()
	pauseCh, resume := e.pauseCh, e.resume
	e.mu.Unlock()

	select {
	case <-pauseCh:
		e.mu.Lock()
		e.state.Status = Paused
		e.mu.Unlock()
		select {
		case <-resume:
			return nil
		case <-e.abortCh:
			return &errs.ValidationError{Element: "run", Reason: "aborted"}
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		return nil
	}
}

func (e *Engine) advance(runID string, n, innerIdx, innerTotal, outerIdx, outerTotal int) error {
	e.mu.Lock()
	e.state.EventsDone += n
	if innerIdx >= 0 {
		e.state.InnerIndex, e.state.InnerTotal = innerIdx, innerTotal
	}
	if outerIdx >= 0 {
		e.state.OuterIndex, e.state.OuterTotal = outerIdx, outerTotal
	}
	snap := e.state
	e.mu.Unlock()
	metrics.RunProgressRatio.WithLabelValues(runID).Set(snap.ProgressRatio())
	e.publish(runID, snap)
	return nil
}

func (e *Engine) publish(runID string, state ExecutionState) {
	if e.dist == nil {
		return
	}
	e.dist.Broadcast(measurement.NewScalar("run."+runID+".progress", state.ProgressRatio(), "ratio", time.Now()))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
