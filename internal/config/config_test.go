package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "daq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
node:
  id: bench-1
instruments:
  cam0:
    type: sim_camera
    exposure_ms: 10
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bench-1", cfg.Node.ID)
	assert.Equal(t, 1024, cfg.Application.BroadcastChannelCapacity)
	assert.Equal(t, 5*time.Second, cfg.Application.Timeouts.InstrumentStop)
	assert.Equal(t, "csv", cfg.Storage.DefaultFormat)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 2.0, cfg.Reconnect.BackoffMultiplier)

	require.Contains(t, cfg.Instruments, "cam0")
	assert.Equal(t, "sim_camera", cfg.Instruments["cam0"].Type)
	assert.EqualValues(t, 10, cfg.Instruments["cam0"].Settings["exposure_ms"])
}

func TestLoadRejectsInvalidStorageFormat(t *testing.T) {
	path := writeTempConfig(t, `
storage:
  default_format: protobuf-stream
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInstrumentMissingType(t *testing.T) {
	path := writeTempConfig(t, `
instruments:
  cam0:
    exposure_ms: 10
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestVersionStoreSaveLoadList(t *testing.T) {
	dir := t.TempDir()
	store, err := NewVersionStore(dir)
	require.NoError(t, err)

	snapA := Snapshot{ID: "v1", Timestamp: time.Now(), Instruments: map[string]map[string]any{
		"cam0": {"exposure_ms": 10.0},
	}}
	snapB := Snapshot{ID: "v2", Timestamp: time.Now().Add(time.Second), Instruments: map[string]map[string]any{
		"cam0":  {"exposure_ms": 20.0},
		"stage": {"axis": "x"},
	}}
	require.NoError(t, store.Save(snapA))
	require.NoError(t, store.Save(snapB))

	loaded, err := store.Load("v1")
	require.NoError(t, err)
	assert.Equal(t, snapA.Instruments, loaded.Instruments)

	all, err := store.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "v1", all[0].ID)
	assert.Equal(t, "v2", all[1].ID)
}

func TestVersionStoreLoadMissingReturnsNotExist(t *testing.T) {
	dir := t.TempDir()
	store, err := NewVersionStore(dir)
	require.NoError(t, err)

	_, err = store.Load("nope")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDiffSnapshotsReportsAddedRemovedChanged(t *testing.T) {
	a := Snapshot{Instruments: map[string]map[string]any{
		"cam0":  {"exposure_ms": 10.0},
		"laser": {"wavelength_nm": 780.0},
	}}
	b := Snapshot{Instruments: map[string]map[string]any{
		"cam0":  {"exposure_ms": 20.0},
		"stage": {"axis": "x"},
	}}

	diff := DiffSnapshots(a, b)
	assert.Equal(t, []string{"stage"}, diff.Added)
	assert.Equal(t, []string{"laser"}, diff.Removed)
	assert.Equal(t, []string{"cam0"}, diff.Changed)
}
