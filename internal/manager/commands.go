package manager

import (
	"icc.tech/daq-core/internal/measurement"
	"icc.tech/daq-core/internal/tee"
)

// Every request into the Manager's actor loop is a struct carrying its
// own arguments plus a one-shot reply channel, matching the instrument
// task's command-dispatch style. The Manager is the single writer of its
// own state; these structs are the only way in.

type spawnInstrumentCmd struct {
	id, driverType string
	config         map[string]any
	// tee is the per-instrument Tee pipeline the daemon constructed for
	// this spawn; nil means "no persistence/broadcast wiring", used only
	// by tests.
	tee   *tee.Tee
	reply chan error
}

type stopInstrumentCmd struct {
	id    string
	reply chan error
}

type sendInstrumentCommandCmd struct {
	id      string
	command measurement.InstrumentCommand
	reply   chan error
}

type startRecordingCmd struct {
	format string
	reply  chan error
}

type stopRecordingCmd struct {
	reply chan error
}

type saveSessionCmd struct {
	path     string
	guiState map[string]any
	reply    chan error
}

type loadSessionCmd struct {
	path  string
	reply chan error
}

type getInstrumentListCmd struct {
	reply chan []InstrumentInfo
}

type getAvailableChannelsCmd struct {
	reply chan []string
}

type getMetricsCmd struct {
	reply chan map[string]any
}

type getStorageFormatCmd struct {
	reply chan string
}

type setStorageFormatCmd struct {
	format string
	reply  chan error
}

type spawnModuleCmd struct {
	id, kind string
	config   map[string]any
	reply    chan error
}

type startModuleCmd struct {
	id    string
	reply chan error
}

type stopModuleCmd struct {
	id    string
	reply chan error
}

type assignInstrumentToModuleCmd struct {
	module, role, instrument string
	reply                    chan error
}

type addInstrumentDynamicCmd struct {
	id, driverType string
	config         map[string]any
	tee            *tee.Tee
	reply          chan error
}

type removeInstrumentDynamicCmd struct {
	id    string
	force bool
	reply chan error
}

type updateInstrumentParameterCmd struct {
	id, name string
	value    measurement.ParamValue
	reply    chan error
}

type createConfigSnapshotCmd struct {
	reply chan string // version id
}

type listConfigVersionsCmd struct {
	reply chan []string
}

type rollbackToVersionCmd struct {
	version string
	reply   chan error
}

type compareConfigVersionsCmd struct {
	a, b  string
	reply chan string // diff text
}

type shutdownCmd struct {
	reply chan error
}

// InstrumentInfo is the read-only projection returned by GetInstrumentList.
type InstrumentInfo struct {
	ID         string
	DriverType string
	Config     map[string]any
	State      measurement.InstrumentState
}
