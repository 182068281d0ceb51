package manager

import (
	"context"

	"icc.tech/daq-core/internal/measurement"
	"icc.tech/daq-core/internal/tee"
)

// Every exported method below sends a command struct onto m.cmdCh and
// blocks on its one-shot reply channel (or ctx), so callers outside the
// actor goroutine never touch Manager state directly.

// SpawnInstrument instantiates driverType as id and wires its measurement
// stream through pipeline (pass nil only in tests that don't care about
// persistence or live broadcast).
func (m *Manager) SpawnInstrument(ctx context.Context, id, driverType string, config map[string]any, pipeline *tee.Tee) error {
	reply := make(chan error, 1)
	return m.send(ctx, spawnInstrumentCmd{id: id, driverType: driverType, config: config, tee: pipeline, reply: reply}, reply)
}

func (m *Manager) StopInstrument(ctx context.Context, id string) error {
	reply := make(chan error, 1)
	return m.send(ctx, stopInstrumentCmd{id: id, reply: reply}, reply)
}

func (m *Manager) SendInstrumentCommand(ctx context.Context, id string, cmd measurement.InstrumentCommand) error {
	reply := make(chan error, 1)
	return m.send(ctx, sendInstrumentCommandCmd{id: id, command: cmd, reply: reply}, reply)
}

func (m *Manager) StartRecording(ctx context.Context, format string) error {
	reply := make(chan error, 1)
	return m.send(ctx, startRecordingCmd{format: format, reply: reply}, reply)
}

func (m *Manager) StopRecording(ctx context.Context) error {
	reply := make(chan error, 1)
	return m.send(ctx, stopRecordingCmd{reply: reply}, reply)
}

func (m *Manager) SaveSession(ctx context.Context, path string, guiState map[string]any) error {
	reply := make(chan error, 1)
	return m.send(ctx, saveSessionCmd{path: path, guiState: guiState, reply: reply}, reply)
}

func (m *Manager) LoadSession(ctx context.Context, path string) error {
	reply := make(chan error, 1)
	return m.send(ctx, loadSessionCmd{path: path, reply: reply}, reply)
}

func (m *Manager) GetInstrumentList(ctx context.Context) ([]InstrumentInfo, error) {
	reply := make(chan []InstrumentInfo, 1)
	select {
	case m.cmdCh <- getInstrumentListCmd{reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) GetAvailableChannels(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	select {
	case m.cmdCh <- getAvailableChannelsCmd{reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) GetMetrics(ctx context.Context) (map[string]any, error) {
	reply := make(chan map[string]any, 1)
	select {
	case m.cmdCh <- getMetricsCmd{reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) GetStorageFormat(ctx context.Context) (string, error) {
	reply := make(chan string, 1)
	select {
	case m.cmdCh <- getStorageFormatCmd{reply: reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) SetStorageFormat(ctx context.Context, format string) error {
	reply := make(chan error, 1)
	return m.send(ctx, setStorageFormatCmd{format: format, reply: reply}, reply)
}

func (m *Manager) SpawnModule(ctx context.Context, id, kind string, config map[string]any) error {
	reply := make(chan error, 1)
	return m.send(ctx, spawnModuleCmd{id: id, kind: kind, config: config, reply: reply}, reply)
}

func (m *Manager) StartModule(ctx context.Context, id string) error {
	reply := make(chan error, 1)
	return m.send(ctx, startModuleCmd{id: id, reply: reply}, reply)
}

func (m *Manager) StopModule(ctx context.Context, id string) error {
	reply := make(chan error, 1)
	return m.send(ctx, stopModuleCmd{id: id, reply: reply}, reply)
}

func (m *Manager) AssignInstrumentToModule(ctx context.Context, module, role, instrumentID string) error {
	reply := make(chan error, 1)
	return m.send(ctx, assignInstrumentToModuleCmd{module: module, role: role, instrument: instrumentID, reply: reply}, reply)
}

// AddInstrumentDynamic spawns id at runtime, wiring its measurements
// through pipeline exactly like SpawnInstrument (pass nil only in tests).
func (m *Manager) AddInstrumentDynamic(ctx context.Context, id, driverType string, config map[string]any, pipeline *tee.Tee) error {
	reply := make(chan error, 1)
	return m.send(ctx, addInstrumentDynamicCmd{id: id, driverType: driverType, config: config, tee: pipeline, reply: reply}, reply)
}

func (m *Manager) RemoveInstrumentDynamic(ctx context.Context, id string, force bool) error {
	reply := make(chan error, 1)
	return m.send(ctx, removeInstrumentDynamicCmd{id: id, force: force, reply: reply}, reply)
}

func (m *Manager) UpdateInstrumentParameter(ctx context.Context, id, name string, value measurement.ParamValue) error {
	reply := make(chan error, 1)
	return m.send(ctx, updateInstrumentParameterCmd{id: id, name: name, value: value, reply: reply}, reply)
}

func (m *Manager) CreateConfigSnapshot(ctx context.Context) (string, error) {
	reply := make(chan string, 1)
	select {
	case m.cmdCh <- createConfigSnapshotCmd{reply: reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) ListConfigVersions(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	select {
	case m.cmdCh <- listConfigVersionsCmd{reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) RollbackToVersion(ctx context.Context, version string) error {
	reply := make(chan error, 1)
	return m.send(ctx, rollbackToVersionCmd{version: version, reply: reply}, reply)
}

func (m *Manager) CompareConfigVersions(ctx context.Context, a, b string) (string, error) {
	reply := make(chan string, 1)
	select {
	case m.cmdCh <- compareConfigVersionsCmd{a: a, b: b, reply: reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Shutdown stops every instrument and the recording session, then the
// actor loop itself. The caller should still cancel the context passed to
// Run after this returns, to be sure the loop's own select exits even if
// the command round trip raced with external cancellation.
func (m *Manager) Shutdown(ctx context.Context) error {
	reply := make(chan error, 1)
	return m.send(ctx, shutdownCmd{reply: reply}, reply)
}

func (m *Manager) send(ctx context.Context, cmd any, reply chan error) error {
	select {
	case m.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
