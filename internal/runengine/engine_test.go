package runengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icc.tech/daq-core/internal/distributor"
)

type fakeMover struct{ moves []float64 }

func (f *fakeMover) MoveTo(ctx context.Context, position float64) error {
	f.moves = append(f.moves, position)
	return nil
}

type fakeAcquirer struct{ count int }

func (f *fakeAcquirer) Snap(ctx context.Context) error {
	f.count++
	return nil
}

type fakeResolver struct {
	movers    map[string]Mover
	acquirers map[string]Acquirer
}

func (r *fakeResolver) Mover(id string) (Mover, bool)       { m, ok := r.movers[id]; return m, ok }
func (r *fakeResolver) Acquirer(id string) (Acquirer, bool) { a, ok := r.acquirers[id]; return a, ok }

func newFakeResolver() (*fakeResolver, *fakeMover, *fakeAcquirer) {
	mover := &fakeMover{}
	acq := &fakeAcquirer{}
	return &fakeResolver{movers: map[string]Mover{"stage0": mover}, acquirers: map[string]Acquirer{"cam0": acq}}, mover, acq
}

func waitDone(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish in time")
	}
}

func TestEngineRunsSimplePlanToCompletion(t *testing.T) {
	resolver, mover, acq := newFakeResolver()
	e := New(resolver, distributor.New(distributor.DefaultConfig()))

	plan := &Plan{Name: "p1", Steps: []Step{
		{Kind: StepMove, Device: "stage0", Position: 5},
		{Kind: StepAcquire, Device: "cam0", FrameCount: 1},
	}}
	known := map[string]struct{}{"stage0": {}, "cam0": {}}

	_, err := e.Queue(context.Background(), plan, "run1", known)
	require.NoError(t, err)
	waitDone(t, e)

	assert.Equal(t, Completed, e.Status().Status)
	assert.Equal(t, []float64{5}, mover.moves)
	assert.Equal(t, 1, acq.count)
}

func TestEngineValidateRejectsUnknownDevice(t *testing.T) {
	resolver, _, _ := newFakeResolver()
	e := New(resolver, nil)
	plan := &Plan{Steps: []Step{{Kind: StepAcquire, Device: "missing", FrameCount: 1}}}
	_, err := e.Queue(context.Background(), plan, "run1", map[string]struct{}{})
	assert.Error(t, err)
}

func TestEngineScanAdvancesProgress(t *testing.T) {
	resolver, _, _ := newFakeResolver()
	e := New(resolver, nil)
	plan := &Plan{Steps: []Step{{Kind: StepScan, Points: 5}}}
	_, err := e.Queue(context.Background(), plan, "run-scan", map[string]struct{}{})
	require.NoError(t, err)
	waitDone(t, e)

	state := e.Status()
	assert.Equal(t, Completed, state.Status)
	assert.Equal(t, 5, state.EventsDone)
	assert.Equal(t, 1.0, state.ProgressRatio())
}

func TestEngineAbortStopsRun(t *testing.T) {
	resolver, _, _ := newFakeResolver()
	e := New(resolver, nil)
	plan := &Plan{Steps: []Step{{Kind: StepWait, Duration: 200 * time.Millisecond}, {Kind: StepWait, Duration: 200 * time.Millisecond}}}
	_, err := e.Queue(context.Background(), plan, "run-abort", map[string]struct{}{})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	e.Abort()
	waitDone(t, e)

	assert.Equal(t, Aborted, e.Status().Status)
}

func TestEngineAdaptiveScanAutoProceedsAfterTimeout(t *testing.T) {
	resolver, _, _ := newFakeResolver()
	e := New(resolver, nil)
	plan := &Plan{Steps: []Step{{
		Kind: StepAdaptiveScan, Device: "stage0", TriggerChannel: "x", TriggerThreshold: 1,
		ApprovalRequired: false, ApprovalTimeout: 10 * time.Millisecond,
	}}}
	known := map[string]struct{}{"stage0": {}}
	_, err := e.Queue(context.Background(), plan, "run-adaptive", known)
	require.NoError(t, err)
	waitDone(t, e)

	assert.Equal(t, Completed, e.Status().Status)
}
