package manager

import (
	"context"
	"time"

	"icc.tech/daq-core/internal/instrument"
	"icc.tech/daq-core/internal/measurement"
)

// instrumentEntry is everything the Manager owns about one spawned
// instrument: the task wrapper, its config (for snapshot/rollback), and
// a cancel func to stop its goroutine.
type instrumentEntry struct {
	id         string
	driverType string
	config     map[string]any
	task       *instrument.Task
	cancel     context.CancelFunc
}

func (e *instrumentEntry) info() InstrumentInfo {
	return InstrumentInfo{ID: e.id, DriverType: e.driverType, Config: e.config, State: e.task.Instrument.State()}
}

// capabilityProxy is a small command-forwarding struct bound to one
// instrument's command channel. A module holds only the proxy, never a
// raw instrument handle, so it cannot bypass the task's command channel
// or reach into the instrument's internal state.
type capabilityProxy struct {
	instrumentID string
	sender       chan<- measurement.InstrumentCommand
}

func (p *capabilityProxy) Send(ctx context.Context, cmd measurement.InstrumentCommand) error {
	select {
	case p.sender <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// moduleEntry is a configured processing module: a capability requirement
// map (role -> capability id) resolved to concrete proxies once instruments
// are assigned.
type moduleEntry struct {
	id, kind string
	config   map[string]any
	running  bool
	// roles maps a declared role name to the capability id it requires.
	roles map[string]string
	// assigned maps a role name to the proxy bound to its assigned instrument.
	assigned map[string]*capabilityProxy
}

// dependencyEdge identifies one (module, role) -> instrument assignment,
// used to refuse RemoveInstrumentDynamic while a module still depends on
// the instrument.
type dependencyEdge struct {
	module, role string
}

// configSnapshot is one versioned copy of the spawnable-instrument
// configuration, taken before any dynamic mutation.
type configSnapshot struct {
	version   string
	takenAt   time.Time
	instruments map[string]map[string]any // id -> driver config, by value
}
