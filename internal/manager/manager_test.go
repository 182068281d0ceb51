package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icc.tech/daq-core/internal/distributor"
	"icc.tech/daq-core/internal/instrument"
	"icc.tech/daq-core/internal/measurement"
)

func newTestManager(t *testing.T) (*Manager, context.Context, context.CancelFunc) {
	reg := instrument.NewRegistry()
	require.NoError(t, reg.Register("sim_camera", instrument.NewSimCamera))
	require.NoError(t, reg.Register("sim_stage", instrument.NewSimStage))

	dist := distributor.New(distributor.DefaultConfig())
	m := New(DefaultConfig(), reg, dist)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	return m, ctx, cancel
}

func TestManagerSpawnAndStopInstrument(t *testing.T) {
	m, ctx, cancel := newTestManager(t)
	defer cancel()

	require.NoError(t, m.SpawnInstrument(ctx, "cam0", "sim_camera", nil, nil))

	list, err := m.GetInstrumentList(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "cam0", list[0].ID)

	require.NoError(t, m.StopInstrument(ctx, "cam0"))
	list, err = m.GetInstrumentList(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestManagerSpawnDuplicateIDFails(t *testing.T) {
	m, ctx, cancel := newTestManager(t)
	defer cancel()

	require.NoError(t, m.SpawnInstrument(ctx, "cam0", "sim_camera", nil, nil))
	err := m.SpawnInstrument(ctx, "cam0", "sim_camera", nil, nil)
	assert.Error(t, err)
}

func TestManagerUpdateInstrumentParameter(t *testing.T) {
	m, ctx, cancel := newTestManager(t)
	defer cancel()

	require.NoError(t, m.SpawnInstrument(ctx, "cam0", "sim_camera", nil, nil))
	err := m.UpdateInstrumentParameter(ctx, "cam0", "exposure_ms", measurement.Float(10))
	assert.NoError(t, err)
}

func TestManagerRemoveDynamicRefusesWhileDependedOn(t *testing.T) {
	m, ctx, cancel := newTestManager(t)
	defer cancel()

	require.NoError(t, m.SpawnInstrument(ctx, "cam0", "sim_camera", nil, nil))
	require.NoError(t, m.SpawnModule(ctx, "mod0", "analysis", map[string]any{"roles": map[string]string{"source": "acquire"}}))
	require.NoError(t, m.AssignInstrumentToModule(ctx, "mod0", "source", "cam0"))

	err := m.RemoveInstrumentDynamic(ctx, "cam0", false)
	assert.Error(t, err)

	err = m.RemoveInstrumentDynamic(ctx, "cam0", true)
	assert.NoError(t, err)
}

func TestManagerConfigSnapshotRoundTrip(t *testing.T) {
	m, ctx, cancel := newTestManager(t)
	defer cancel()

	require.NoError(t, m.SpawnInstrument(ctx, "cam0", "sim_camera", map[string]any{"sensor_width": 4.0}, nil))
	v1, err := m.CreateConfigSnapshot(ctx)
	require.NoError(t, err)

	versions, err := m.ListConfigVersions(ctx)
	require.NoError(t, err)
	assert.Contains(t, versions, v1)
}

// stuckInstrument never returns from HandleCommand on CmdShutdown,
// simulating a driver whose adapter call hangs — the Task goroutine is
// then stuck inside t.dispatch and stops noticing ctx.Done() entirely.
type stuckInstrument struct {
	out chan *measurement.Measurement
}

func newStuckInstrument(string, map[string]any) (instrument.Instrument, error) {
	return &stuckInstrument{out: make(chan *measurement.Measurement)}, nil
}

func (s *stuckInstrument) Initialize(ctx context.Context) error { return nil }
func (s *stuckInstrument) Shutdown(ctx context.Context) error   { return nil }
func (s *stuckInstrument) MeasurementStream() <-chan *measurement.Measurement { return s.out }
func (s *stuckInstrument) HandleCommand(ctx context.Context, cmd measurement.InstrumentCommand) error {
	if cmd.Kind == measurement.CmdShutdown {
		select {} // never returns; the instrument ignores shutdown entirely
	}
	return nil
}
func (s *stuckInstrument) State() measurement.InstrumentState { return measurement.InstrumentState{Kind: measurement.Ready} }
func (s *stuckInstrument) Recover(ctx context.Context) error   { return nil }
func (s *stuckInstrument) Capabilities() map[string]struct{}   { return nil }

func TestManagerStopInstrumentSucceedsWhenTaskIgnoresShutdown(t *testing.T) {
	reg := instrument.NewRegistry()
	require.NoError(t, reg.Register("stuck", newStuckInstrument))

	dist := distributor.New(distributor.DefaultConfig())
	cfg := DefaultConfig()
	cfg.StopTimeout = 50 * time.Millisecond
	m := New(cfg, reg, dist)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.NoError(t, m.SpawnInstrument(ctx, "stuck0", "stuck", nil, nil))

	err := m.StopInstrument(ctx, "stuck0")
	assert.NoError(t, err)

	list, err := m.GetInstrumentList(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestManagerShutdownStopsAllInstruments(t *testing.T) {
	m, ctx, cancel := newTestManager(t)
	defer cancel()

	require.NoError(t, m.SpawnInstrument(ctx, "cam0", "sim_camera", nil, nil))
	require.NoError(t, m.SpawnInstrument(ctx, "stage0", "sim_stage", nil, nil))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	err := m.Shutdown(shutdownCtx)
	assert.NoError(t, err)
}
