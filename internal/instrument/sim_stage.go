package instrument

import (
	"context"
	"fmt"
	"sync"
	"time"

	"icc.tech/daq-core/internal/errs"
	"icc.tech/daq-core/internal/measurement"
)

// SimStage is a reference single-axis motorized-stage adapter: it accepts
// Move commands (via SetParameter "position") and reports its position as
// a Scalar measurement stream, simulating finite travel time.
type SimStage struct {
	id string

	mu       sync.Mutex
	state    measurement.InstrumentState
	position float64
	minPos   float64
	maxPos   float64
	velocity float64 // units/sec

	stream chan *measurement.Measurement
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewSimStage is an instrument.Factory for driver type "sim_stage".
func NewSimStage(id string, config map[string]any) (Instrument, error) {
	minPos, maxPos := -100.0, 100.0
	if v, ok := config["min_position"].(float64); ok {
		minPos = v
	}
	if v, ok := config["max_position"].(float64); ok {
		maxPos = v
	}
	return &SimStage{
		id:       id,
		state:    measurement.InstrumentState{Kind: measurement.Disconnected},
		minPos:   minPos,
		maxPos:   maxPos,
		velocity: 50,
		stream:   make(chan *measurement.Measurement, 8),
		stop:     make(chan struct{}),
	}, nil
}

func (s *SimStage) Initialize(ctx context.Context) error {
	s.mu.Lock()
	s.state = measurement.InstrumentState{Kind: measurement.Connecting}
	s.mu.Unlock()

	s.mu.Lock()
	s.state = measurement.InstrumentState{Kind: measurement.Ready}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.reportLoop()
	return nil
}

func (s *SimStage) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.state = measurement.InstrumentState{Kind: measurement.ShuttingDown}
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()

	s.mu.Lock()
	s.state = measurement.InstrumentState{Kind: measurement.Disconnected}
	s.mu.Unlock()
	return nil
}

func (s *SimStage) MeasurementStream() <-chan *measurement.Measurement { return s.stream }

func (s *SimStage) State() measurement.InstrumentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SimStage) Recover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Kind != measurement.StateError || !s.state.Recoverable {
		return &errs.StateError{Entity: s.id, CurrentState: s.state.String(), Operation: "recover"}
	}
	s.state = measurement.InstrumentState{Kind: measurement.Ready}
	return nil
}

func (s *SimStage) Capabilities() map[string]struct{} {
	return map[string]struct{}{"position_control": {}}
}

func (s *SimStage) HandleCommand(ctx context.Context, cmd measurement.InstrumentCommand) error {
	switch cmd.Kind {
	case measurement.CmdShutdown:
		return s.Shutdown(ctx)
	case measurement.CmdRecover:
		return s.Recover(ctx)
	case measurement.CmdSetParameter:
		if cmd.Name != "position" {
			return &errs.HardwareError{Kind: errs.HardwareInvalidParameter, Param: cmd.Name, Reason: "unknown parameter"}
		}
		return s.moveTo(ctx, cmd.Value.Float)
	case measurement.CmdGetParameter:
		if cmd.Name != "position" {
			if cmd.Reply != nil {
				cmd.Reply <- measurement.CommandResult{Err: &errs.HardwareError{Kind: errs.HardwareInvalidParameter, Param: cmd.Name}}
			}
			return nil
		}
		s.mu.Lock()
		pos := s.position
		s.mu.Unlock()
		if cmd.Reply != nil {
			cmd.Reply <- measurement.CommandResult{Value: measurement.Float(pos)}
		}
		return nil
	default:
		return &errs.StateError{Entity: s.id, CurrentState: s.State().String(), Operation: cmd.Kind.String()}
	}
}

// MoveTo is the direct entry point the Run Engine's Move step calls.
func (s *SimStage) MoveTo(ctx context.Context, position float64) error {
	return s.moveTo(ctx, position)
}

func (s *SimStage) moveTo(ctx context.Context, position float64) error {
	s.mu.Lock()
	if position < s.minPos || position > s.maxPos {
		s.mu.Unlock()
		return &errs.HardwareError{Kind: errs.HardwareOutOfRange, Param: "position", Value: position,
			ValidRange: fmt.Sprintf("[%g,%g]", s.minPos, s.maxPos)}
	}
	distance := position - s.position
	if distance < 0 {
		distance = -distance
	}
	velocity := s.velocity
	s.mu.Unlock()

	travelTime := time.Duration(distance/velocity*1000) * time.Millisecond
	select {
	case <-time.After(travelTime):
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.position = position
	s.mu.Unlock()
	return nil
}

func (s *SimStage) reportLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			pos := s.position
			s.mu.Unlock()
			select {
			case s.stream <- measurement.NewScalar(s.id+".position", pos, "mm", time.Now()):
			default:
			}
		}
	}
}
