package instrument

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icc.tech/daq-core/internal/measurement"
)

func TestSimCameraLifecycle(t *testing.T) {
	inst, err := NewSimCamera("cam0", map[string]any{"sensor_width": 8, "sensor_height": 8})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, inst.Initialize(ctx))
	assert.Equal(t, measurement.Ready, inst.State().Kind)

	cam := inst.(CameraInstrument)
	require.NoError(t, cam.SetExposureMs(ctx, 5))
	require.NoError(t, cam.Snap(ctx))

	require.NoError(t, inst.Shutdown(ctx))
	assert.Equal(t, measurement.Disconnected, inst.State().Kind)

	require.NoError(t, inst.Initialize(ctx))
	assert.Equal(t, measurement.Ready, inst.State().Kind)
}

func TestSimCameraRejectsROIBeyondSensor(t *testing.T) {
	inst, _ := NewSimCamera("cam0", map[string]any{"sensor_width": 8, "sensor_height": 8})
	cam := inst.(CameraInstrument)
	err := cam.SetROI(context.Background(), 0, 0, 16, 16)
	assert.Error(t, err)
}

func TestSimCameraRejectsZeroExposure(t *testing.T) {
	inst, _ := NewSimCamera("cam0", nil)
	cam := inst.(CameraInstrument)
	err := cam.SetExposureMs(context.Background(), 0)
	assert.Error(t, err)
}

func TestSimCameraDebouncesExposureWhileAcquiring(t *testing.T) {
	inst, _ := NewSimCamera("cam0", map[string]any{"sensor_width": 4, "sensor_height": 4})
	cam := inst.(CameraInstrument)
	ctx := context.Background()
	require.NoError(t, inst.Initialize(ctx))
	require.NoError(t, cam.StartLive(ctx))
	defer cam.StopLive(ctx)

	require.NoError(t, cam.SetExposureMs(ctx, 20))
	sc := inst.(*SimCamera)
	v, err := sc.getParameter("exposure_ms")
	require.NoError(t, err)
	assert.Equal(t, 20.0, v.Float) // first change in the window lands immediately

	require.NoError(t, cam.SetExposureMs(ctx, 30))
	v, err = sc.getParameter("exposure_ms")
	require.NoError(t, err)
	assert.Equal(t, 20.0, v.Float) // second change within the window is coalesced

	require.Eventually(t, func() bool {
		v, err := sc.getParameter("exposure_ms")
		return err == nil && v.Float == 30.0
	}, time.Second, 10*time.Millisecond)
}

func TestSimCameraLiveTunableWhitelist(t *testing.T) {
	inst, _ := NewSimCamera("cam0", nil)
	cam := inst.(CameraInstrument)
	assert.True(t, cam.LiveTunable("exposure_ms"))
	assert.False(t, cam.LiveTunable("binning"))
}

func TestTaskDispatchesCommandsAndForwardsMeasurements(t *testing.T) {
	inst, _ := NewSimCamera("cam0", map[string]any{"sensor_width": 4, "sensor_height": 4})
	task := NewTask("cam0", inst, 8)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan *measurement.Measurement, 16)
	go task.Run(ctx, out)

	snap := measurement.NewCommand(measurement.CmdSnapFrame)
	task.CommandSender() <- snap
	select {
	case res := <-snap.Reply:
		assert.NoError(t, res.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snap reply")
	}

	select {
	case m := <-out:
		assert.Equal(t, measurement.KindImage, m.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for measurement")
	}

	cancel()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not shut down")
	}
}

func TestSimStageRejectsPositionOutOfRange(t *testing.T) {
	inst, _ := NewSimStage("stage0", map[string]any{"min_position": -10.0, "max_position": 10.0})
	require.NoError(t, inst.Initialize(context.Background()))
	stage := inst.(*SimStage)
	err := stage.MoveTo(context.Background(), 100)
	assert.Error(t, err)
}
