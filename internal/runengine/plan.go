// Package runengine interprets a validated Plan DAG: Scan/NestedScan/
// AdaptiveScan/Acquire/Move/Wait/Loop steps, executed by the sole issuer
// of device commands during a run.
package runengine

import (
	"time"

	"icc.tech/daq-core/internal/errs"
)

// StepKind discriminates a Plan step.
type StepKind int

const (
	StepAcquire StepKind = iota
	StepMove
	StepWait
	StepScan
	StepNestedScan
	StepAdaptiveScan
	StepLoop
)

func (k StepKind) String() string {
	switch k {
	case StepAcquire:
		return "acquire"
	case StepMove:
		return "move"
	case StepWait:
		return "wait"
	case StepScan:
		return "scan"
	case StepNestedScan:
		return "nested_scan"
	case StepAdaptiveScan:
		return "adaptive_scan"
	case StepLoop:
		return "loop"
	default:
		return "unknown"
	}
}

// Step is one node of a Plan DAG. Only the fields relevant to Kind are
// populated — the same tagged-struct pattern used for Measurement and
// InstrumentCommand.
type Step struct {
	Kind StepKind

	// StepAcquire
	Device     string
	FrameCount int

	// StepMove
	Axis     string
	Position float64

	// StepWait
	Duration time.Duration

	// StepScan / StepNestedScan
	Points int
	Start  float64
	Stop   float64
	Inner  []Step // StepNestedScan only

	// StepAdaptiveScan
	TriggerChannel    string
	TriggerThreshold   float64
	ApprovalTimeout    time.Duration
	ApprovalRequired   bool

	// StepLoop
	Iterations int
	Body       []Step
}

// Plan is a validated, ready-to-execute sequence of steps.
type Plan struct {
	Name  string
	Steps []Step
}

// TotalEvents counts the leaf device operations (Acquire/Move/Wait) a
// plan will perform, expanding Scan/NestedScan/Loop by their iteration
// counts. Used for progress reporting.
func (p *Plan) TotalEvents() int {
	return countEvents(p.Steps)
}

func countEvents(steps []Step) int {
	total := 0
	for _, s := range steps {
		switch s.Kind {
		case StepAcquire, StepMove, StepWait:
			total++
		case StepScan:
			total += s.Points
		case StepNestedScan:
			total += s.Points * countEvents(s.Inner)
		case StepAdaptiveScan:
			total++
		case StepLoop:
			total += s.Iterations * countEvents(s.Body)
		}
	}
	return total
}

// Validate checks the invariants §6.6 requires before a plan may be
// queued: no step references a device the caller didn't declare,
// Points/FrameCount/Iterations are positive, and durations are
// non-negative. knownDevices is the set of instrument IDs the caller
// asserts exist; the engine itself doesn't know about instruments.
func (p *Plan) Validate(knownDevices map[string]struct{}) error {
	return validateSteps(p.Steps, knownDevices)
}

func validateSteps(steps []Step, known map[string]struct{}) error {
	for _, s := range steps {
		switch s.Kind {
		case StepAcquire:
			if _, ok := known[s.Device]; !ok {
				return &errs.ValidationError{Element: s.Device, Reason: "acquire references unknown device"}
			}
			if s.FrameCount <= 0 {
				return &errs.ValidationError{Element: s.Device, Reason: "frame_count must be > 0"}
			}
		case StepMove:
			if _, ok := known[s.Device]; !ok {
				return &errs.ValidationError{Element: s.Device, Reason: "move references unknown device"}
			}
		case StepWait:
			if s.Duration < 0 {
				return &errs.ValidationError{Element: "wait", Reason: "duration must be >= 0"}
			}
		case StepScan:
			if s.Points <= 0 {
				return &errs.ValidationError{Element: "scan", Reason: "points must be > 0"}
			}
		case StepNestedScan:
			if s.Points <= 0 {
				return &errs.ValidationError{Element: "nested_scan", Reason: "points must be > 0"}
			}
			if err := validateSteps(s.Inner, known); err != nil {
				return err
			}
		case StepAdaptiveScan:
			if _, ok := known[s.Device]; !ok {
				return &errs.ValidationError{Element: s.Device, Reason: "adaptive_scan references unknown device"}
			}
		case StepLoop:
			if s.Iterations <= 0 {
				return &errs.ValidationError{Element: "loop", Reason: "iterations must be > 0"}
			}
			if err := validateSteps(s.Body, known); err != nil {
				return err
			}
		}
	}
	return nil
}
