// Package manager implements the Instrument Manager Actor: the single
// goroutine that owns all instrument and module state. Every mutation
// goes through its command channel; nothing outside this package ever
// touches the maps directly, which is what makes the actor's state
// transitions race-free without a mutex.
package manager

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/satori/go.uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"icc.tech/daq-core/internal/config"
	"icc.tech/daq-core/internal/distributor"
	"icc.tech/daq-core/internal/errs"
	"icc.tech/daq-core/internal/instrument"
	"icc.tech/daq-core/internal/log"
	"icc.tech/daq-core/internal/measurement"
	"icc.tech/daq-core/internal/storage"
	"icc.tech/daq-core/internal/tee"
)

const (
	defaultStopTimeout     = 5 * time.Second
	paramRetryAttempts     = 10
	paramRetryInterval     = 100 * time.Millisecond
	defaultCmdChanCapacity = 64
)

// Config tunes the Manager's defaults; StopTimeout bounds how long Shutdown
// and StopInstrument wait for a task goroutine to exit.
type Config struct {
	StopTimeout        time.Duration
	CommandChanCapacity int
	StorageFormat      string
	// VersionsDir, if set, persists every config snapshot to disk via
	// config.VersionStore so versions survive a restart. Empty means
	// snapshots live only in memory for the process lifetime.
	VersionsDir string
}

func DefaultConfig() Config {
	return Config{StopTimeout: defaultStopTimeout, CommandChanCapacity: defaultCmdChanCapacity, StorageFormat: "console"}
}

// Manager is the Instrument Manager Actor. Construct with New, start its
// event loop with Run in its own goroutine, and interact exclusively
// through the exported methods — each of them sends a command and blocks
// on a one-shot reply, never touching state directly.
type Manager struct {
	cfg        Config
	registry   *instrument.Registry
	dist       *distributor.Distributor
	cmdCh      chan any
	wg         conc.WaitGroup

	// actor-owned state; touched only from the Run goroutine.
	instruments map[string]*instrumentEntry
	modules     map[string]*moduleEntry
	deps        map[string]map[dependencyEdge]struct{} // instrumentID -> edges depending on it
	versions    []configSnapshot
	verStore    *config.VersionStore // optional on-disk mirror of versions
	storageFmt  string

	recordingCancel context.CancelFunc
	recordingDone   <-chan struct{}
	recordingWriter storage.StorageWriter
}

func New(cfg Config, registry *instrument.Registry, dist *distributor.Distributor) *Manager {
	if cfg.StopTimeout <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.CommandChanCapacity <= 0 {
		cfg.CommandChanCapacity = defaultCmdChanCapacity
	}
	var verStore *config.VersionStore
	if cfg.VersionsDir != "" {
		if vs, err := config.NewVersionStore(cfg.VersionsDir); err == nil {
			verStore = vs
		} else {
			log.GetLogger().WithError(err).Warn("manager: config version persistence disabled")
		}
	}
	return &Manager{
		cfg:         cfg,
		registry:    registry,
		dist:        dist,
		cmdCh:       make(chan any, cfg.CommandChanCapacity),
		instruments: make(map[string]*instrumentEntry),
		modules:     make(map[string]*moduleEntry),
		deps:        make(map[string]map[dependencyEdge]struct{}),
		verStore:    verStore,
		storageFmt:  cfg.StorageFormat,
	}
}

// Run is the actor's event loop. Call it in its own goroutine; it exits
// once a Shutdown command has been fully processed.
func (m *Manager) Run(ctx context.Context) {
	logger := log.GetLogger().WithField("component", "manager")
	logger.Info("manager actor started")

	// Background join-set supervisor: waits for every task goroutine ever
	// launched via m.wg.Go to exit (cleanly or via panic, which conc
	// recovers and re-raises here) and logs it. It never blocks Shutdown —
	// an orphaned task that never exits just means this goroutine never
	// returns, which is the documented Go deviation from forced-abort.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("instrument task panicked: %v", r)
			}
		}()
		m.wg.Wait()
		logger.Debug("all instrument task goroutines have exited")
	}()

	for {
		select {
		case <-ctx.Done():
			m.handleShutdown(context.Background(), shutdownCmd{reply: make(chan error, 1)})
			return
		case raw := <-m.cmdCh:
			if m.dispatch(ctx, raw) {
				return
			}
		}
	}
}

// dispatch handles one command; returns true once the loop should exit
// (only the Shutdown command does this).
func (m *Manager) dispatch(ctx context.Context, raw any) bool {
	switch cmd := raw.(type) {
	case spawnInstrumentCmd:
		cmd.reply <- m.handleSpawn(ctx, cmd.id, cmd.driverType, cmd.config, cmd.tee)
	case stopInstrumentCmd:
		cmd.reply <- m.handleStop(cmd.id)
	case sendInstrumentCommandCmd:
		cmd.reply <- m.handleSendCommand(cmd.id, cmd.command)
	case startRecordingCmd:
		cmd.reply <- m.handleStartRecording(cmd.format)
	case stopRecordingCmd:
		cmd.reply <- m.handleStopRecording()
	case saveSessionCmd:
		cmd.reply <- m.handleSaveSession(cmd.path, cmd.guiState)
	case loadSessionCmd:
		cmd.reply <- m.handleLoadSession(ctx, cmd.path)
	case getInstrumentListCmd:
		cmd.reply <- m.handleGetInstrumentList()
	case getAvailableChannelsCmd:
		cmd.reply <- m.handleGetAvailableChannels()
	case getMetricsCmd:
		cmd.reply <- m.handleGetMetrics()
	case getStorageFormatCmd:
		cmd.reply <- m.storageFmt
	case setStorageFormatCmd:
		m.storageFmt = cmd.format
		cmd.reply <- nil
	case spawnModuleCmd:
		cmd.reply <- m.handleSpawnModule(cmd.id, cmd.kind, cmd.config)
	case startModuleCmd:
		cmd.reply <- m.handleStartModule(cmd.id)
	case stopModuleCmd:
		cmd.reply <- m.handleStopModule(cmd.id)
	case assignInstrumentToModuleCmd:
		cmd.reply <- m.handleAssign(cmd.module, cmd.role, cmd.instrument)
	case addInstrumentDynamicCmd:
		cmd.reply <- m.handleAddDynamic(ctx, cmd.id, cmd.driverType, cmd.config, cmd.tee)
	case removeInstrumentDynamicCmd:
		cmd.reply <- m.handleRemoveDynamic(cmd.id, cmd.force)
	case updateInstrumentParameterCmd:
		m.handleUpdateParameter(cmd.id, cmd.name, cmd.value, cmd.reply)
	case createConfigSnapshotCmd:
		cmd.reply <- m.handleCreateSnapshot()
	case listConfigVersionsCmd:
		cmd.reply <- m.handleListVersions()
	case rollbackToVersionCmd:
		cmd.reply <- m.handleRollback(cmd.version)
	case compareConfigVersionsCmd:
		cmd.reply <- m.handleCompareVersions(cmd.a, cmd.b)
	case shutdownCmd:
		cmd.reply <- m.handleShutdown(ctx, cmd)
		return true
	default:
		log.GetLogger().WithField("component", "manager").Errorf("unknown command type %T", raw)
	}
	return false
}

// ---- Spawning ----

func (m *Manager) handleSpawn(ctx context.Context, id, driverType string, config map[string]any, pipeline *tee.Tee) error {
	if _, exists := m.instruments[id]; exists {
		return &errs.ConfigError{Field: "id", Reason: fmt.Sprintf("instrument %q already spawned", id)}
	}
	factory, err := m.registry.Get(driverType)
	if err != nil {
		return err
	}
	inst, err := factory(id, config)
	if err != nil {
		return &errs.ConfigError{Field: "driver_type", Reason: err.Error()}
	}

	task := instrument.NewTask(id, inst, 32)
	taskCtx, cancel := context.WithCancel(context.Background())
	out := make(chan *measurement.Measurement, 256)

	entry := &instrumentEntry{id: id, driverType: driverType, config: config, task: task, cancel: cancel}

	m.wg.Go(func() {
		task.Run(taskCtx, out)
	})
	// The Tee is the sole consumer of out: it writes the reliable arm
	// then broadcasts to the lossy arm, so every measurement this
	// instrument produces reaches both persistence and live subscribers
	// through one ordered path. An instrument spawned with a nil pipeline
	// (test-only) just has its measurements discarded.
	if pipeline != nil {
		go pipeline.Run(taskCtx, out)
	} else {
		go func() {
			for range out {
			}
		}()
	}

	select {
	case <-task.Done():
		cancel()
		return &errs.HardwareError{Kind: errs.HardwareDeviceNotFound, Device: id, Reason: "instrument failed to initialize"}
	case <-time.After(50 * time.Millisecond):
	}

	m.instruments[id] = entry
	return nil
}

func (m *Manager) handleStop(id string) error {
	entry, ok := m.instruments[id]
	if !ok {
		return &errs.StateError{Entity: id, CurrentState: "absent", Operation: "stop"}
	}
	return m.stopEntry(entry)
}

// stopEntry always removes entry from m.instruments before returning,
// even when the task ignores Shutdown — a forced abort on timeout still
// counts as a successful stop from the Manager's point of view (spec
// scenario: StopInstrument returns success after a forced abort). The
// orphaned task goroutine itself is left running; it is still tracked by
// m.wg's join-set and reaped (or logged forever) by the background
// supervisor in Run, it just no longer holds a map entry.
func (m *Manager) stopEntry(entry *instrumentEntry) error {
	defer delete(m.instruments, entry.id)

	cmd := measurement.NewCommand(measurement.CmdShutdown)
	select {
	case entry.task.CommandSender() <- cmd:
	default:
		entry.cancel()
	}
	select {
	case <-entry.task.Done():
	case <-time.After(m.cfg.StopTimeout):
		log.GetLogger().WithField("instrument", entry.id).Warn("instrument stop timed out, forcing abort")
		entry.cancel()
	}
	return nil
}

func (m *Manager) handleSendCommand(id string, cmd measurement.InstrumentCommand) error {
	entry, ok := m.instruments[id]
	if !ok {
		return &errs.StateError{Entity: id, CurrentState: "absent", Operation: cmd.Kind.String()}
	}
	select {
	case entry.task.CommandSender() <- cmd:
		return nil
	default:
		return &errs.ChannelError{Target: id, Reason: "command channel full"}
	}
}

// handleUpdateParameter resolves id to its command sender (the only part
// that needs actor-owned state) and hands the retry window off to its
// own goroutine, which writes the eventual result to reply. The retry
// loop sleeps between attempts and can block on the instrument's own
// reply for up to m.cfg.StopTimeout; running it inline on the actor loop
// would freeze every other instrument's commands for that whole window,
// which defeats the point of a retry window sized for transient bursts.
func (m *Manager) handleUpdateParameter(id, name string, value measurement.ParamValue, reply chan<- error) {
	entry, ok := m.instruments[id]
	if !ok {
		reply <- &errs.StateError{Entity: id, CurrentState: "absent", Operation: "set_parameter"}
		return
	}
	go retryUpdateParameter(entry.task.CommandSender(), id, name, value, m.cfg.StopTimeout, reply)
}

// retryUpdateParameter implements the retry window: try-send up to
// paramRetryAttempts times, sleeping paramRetryInterval between attempts,
// before giving up with a ChannelError. Runs outside the actor goroutine.
func retryUpdateParameter(sender chan<- measurement.InstrumentCommand, id, name string, value measurement.ParamValue, timeout time.Duration, reply chan<- error) {
	cmd := measurement.InstrumentCommand{Kind: measurement.CmdSetParameter, Name: name, Value: value, Reply: make(chan measurement.CommandResult, 1)}
	for attempt := 1; attempt <= paramRetryAttempts; attempt++ {
		select {
		case sender <- cmd:
			select {
			case res := <-cmd.Reply:
				reply <- res.Err
			case <-time.After(timeout):
				reply <- &errs.ChannelError{Target: id, Reason: "parameter update reply timed out"}
			}
			return
		default:
			time.Sleep(paramRetryInterval)
		}
	}
	reply <- &errs.ChannelError{Target: id, Retries: paramRetryAttempts}
}

// ---- Queries ----

func (m *Manager) handleGetInstrumentList() []InstrumentInfo {
	out := make([]InstrumentInfo, 0, len(m.instruments))
	for _, e := range m.instruments {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// handleGetAvailableChannels returns a sorted list of "<id>.<capability>"
// names, one for each capability of each spawned instrument. It does not
// list the measurement channel names the instruments publish on.
func (m *Manager) handleGetAvailableChannels() []string {
	set := make(map[string]struct{})
	for id, e := range m.instruments {
		for cap := range e.task.Instrument.Capabilities() {
			set[id+"."+cap] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) handleGetMetrics() map[string]any {
	snaps := m.dist.MetricsSnapshot()
	out := map[string]any{
		"instrument_count": len(m.instruments),
		"subscribers":      snaps,
	}
	return out
}

// ---- Recording ----

func (m *Manager) handleStartRecording(format string) error {
	if m.recordingCancel != nil {
		return &errs.StateError{Entity: "recording", CurrentState: "active", Operation: "start"}
	}
	if format == "" {
		format = m.storageFmt
	}
	var writer storage.StorageWriter
	switch format {
	case "console":
		writer = storage.NewConsoleWriter("recording")
	case "csv":
		writer = storage.NewCSVWriter("recording", "recording.csv")
	default:
		return &errs.ConfigError{Field: "storage_format", Reason: "unsupported: " + format}
	}
	if err := writer.Init(nil); err != nil {
		return err
	}

	sub, unsub := m.dist.Subscribe("recording")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.recordingCancel = cancel
	m.recordingDone = done
	m.recordingWriter = writer

	go func() {
		defer close(done)
		defer unsub()
		defer writer.Shutdown(context.Background())
		for {
			select {
			case <-ctx.Done():
				return
			case meas, ok := <-sub:
				if !ok {
					return
				}
				if err := writer.Write(meas); err != nil {
					log.GetLogger().WithError(err).Warn("recording write failed")
				}
			}
		}
	}()
	return nil
}

func (m *Manager) handleStopRecording() error {
	if m.recordingCancel == nil {
		return &errs.StateError{Entity: "recording", CurrentState: "inactive", Operation: "stop"}
	}
	m.recordingCancel()
	select {
	case <-m.recordingDone:
	case <-time.After(defaultStopTimeout):
		m.recordingCancel, m.recordingDone, m.recordingWriter = nil, nil, nil
		return &errs.ChannelError{Target: "recording", Reason: "stop timed out"}
	}
	m.recordingCancel, m.recordingDone, m.recordingWriter = nil, nil, nil
	return nil
}

// ---- Session persistence ----

func (m *Manager) handleSaveSession(path string, guiState map[string]any) error {
	return sessionStore{}.Save(path, m.handleGetInstrumentList(), m.storageFmt, guiState)
}

func (m *Manager) handleLoadSession(ctx context.Context, path string) error {
	session, err := sessionStore{}.Load(path)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(m.instruments))
	for id := range m.instruments {
		ids = append(ids, id)
	}
	for _, id := range ids {
		_ = m.stopEntry(m.instruments[id])
	}
	m.storageFmt = session.StorageFormat
	for _, inst := range session.ActiveInstruments {
		if err := m.handleSpawn(ctx, inst.ID, inst.DriverType, inst.Config, nil); err != nil {
			return err
		}
	}
	return nil
}

// ---- Config versioning ----

func (m *Manager) handleCreateSnapshot() string {
	version := uuid.NewV4().String()
	takenAt := time.Now()
	snap := configSnapshot{version: version, takenAt: takenAt, instruments: make(map[string]map[string]any, len(m.instruments))}
	for id, e := range m.instruments {
		snap.instruments[id] = e.config
	}
	m.versions = append(m.versions, snap)

	if m.verStore != nil {
		persisted := config.Snapshot{ID: version, Timestamp: takenAt, Instruments: snap.instruments}
		if err := m.verStore.Save(persisted); err != nil {
			log.GetLogger().WithError(err).Warn("manager: failed to persist config snapshot")
		}
	}
	return version
}

func (m *Manager) handleListVersions() []string {
	out := make([]string, len(m.versions))
	for i, v := range m.versions {
		out[i] = v.version
	}
	return out
}

func (m *Manager) handleRollback(version string) error {
	for _, v := range m.versions {
		if v.version == version {
			for id, cfg := range v.instruments {
				if e, ok := m.instruments[id]; ok {
					e.config = cfg
				}
			}
			return nil
		}
	}
	return &errs.ConfigError{Field: "version", Reason: "not found: " + version}
}

func (m *Manager) handleCompareVersions(a, b string) string {
	var sa, sb *configSnapshot
	for i := range m.versions {
		if m.versions[i].version == a {
			sa = &m.versions[i]
		}
		if m.versions[i].version == b {
			sb = &m.versions[i]
		}
	}
	if sa == nil || sb == nil {
		return "one or both versions not found"
	}
	diff := config.DiffSnapshots(
		config.Snapshot{Instruments: sa.instruments},
		config.Snapshot{Instruments: sb.instruments},
	)
	return fmt.Sprintf("added=%v removed=%v changed=%v", diff.Added, diff.Removed, diff.Changed)
}

// ---- Dynamic add/remove ----

func (m *Manager) handleAddDynamic(ctx context.Context, id, driverType string, config map[string]any, pipeline *tee.Tee) error {
	if _, exists := m.instruments[id]; exists {
		return &errs.ConfigError{Field: "id", Reason: "already present"}
	}
	m.handleCreateSnapshot()
	return m.handleSpawn(ctx, id, driverType, config, pipeline)
}

func (m *Manager) handleRemoveDynamic(id string, force bool) error {
	entry, ok := m.instruments[id]
	if !ok {
		return &errs.StateError{Entity: id, CurrentState: "absent", Operation: "remove"}
	}
	if edges, exists := m.deps[id]; exists && len(edges) > 0 && !force {
		return &errs.ValidationError{Element: id, Reason: fmt.Sprintf("still depended on by %d module role(s)", len(edges))}
	}
	delete(m.deps, id)
	for _, mod := range m.modules {
		for role, proxy := range mod.assigned {
			if proxy.instrumentID == id {
				delete(mod.assigned, role)
			}
		}
	}
	return m.stopEntry(entry)
}

// ---- Modules ----

func (m *Manager) handleSpawnModule(id, kind string, config map[string]any) error {
	if _, exists := m.modules[id]; exists {
		return &errs.ConfigError{Field: "id", Reason: "module already spawned"}
	}
	roles, _ := config["roles"].(map[string]string)
	m.modules[id] = &moduleEntry{id: id, kind: kind, config: config, roles: roles, assigned: make(map[string]*capabilityProxy)}
	return nil
}

func (m *Manager) handleStartModule(id string) error {
	mod, ok := m.modules[id]
	if !ok {
		return &errs.StateError{Entity: id, CurrentState: "absent", Operation: "start"}
	}
	for role := range mod.roles {
		if _, bound := mod.assigned[role]; !bound {
			return &errs.ValidationError{Element: id, Reason: "role " + role + " has no assigned instrument"}
		}
	}
	mod.running = true
	return nil
}

func (m *Manager) handleStopModule(id string) error {
	mod, ok := m.modules[id]
	if !ok {
		return &errs.StateError{Entity: id, CurrentState: "absent", Operation: "stop"}
	}
	mod.running = false
	return nil
}

func (m *Manager) handleAssign(moduleID, role, instrumentID string) error {
	mod, ok := m.modules[moduleID]
	if !ok {
		return &errs.StateError{Entity: moduleID, CurrentState: "absent", Operation: "assign"}
	}
	entry, ok := m.instruments[instrumentID]
	if !ok {
		return &errs.StateError{Entity: instrumentID, CurrentState: "absent", Operation: "assign"}
	}
	capID, declared := mod.roles[role]
	if !declared {
		return &errs.ValidationError{Element: moduleID, Reason: "module declares no role " + role}
	}
	if _, has := entry.task.Instrument.Capabilities()[capID]; !has {
		return &errs.ValidationError{Element: instrumentID, Reason: "does not advertise capability " + capID}
	}

	mod.assigned[role] = &capabilityProxy{instrumentID: instrumentID, sender: entry.task.CommandSender()}
	if m.deps[instrumentID] == nil {
		m.deps[instrumentID] = make(map[dependencyEdge]struct{})
	}
	m.deps[instrumentID][dependencyEdge{module: moduleID, role: role}] = struct{}{}
	return nil
}

// ---- Shutdown ----

func (m *Manager) handleShutdown(ctx context.Context, cmd shutdownCmd) error {
	var combined error
	if m.recordingCancel != nil {
		combined = multierr.Append(combined, m.handleStopRecording())
	}
	ids := make([]string, 0, len(m.instruments))
	for id := range m.instruments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		entry := m.instruments[id]
		combined = multierr.Append(combined, m.stopEntry(entry))
	}
	log.GetLogger().WithField("component", "manager").Info("manager actor shutting down")
	return combined
}
