package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDaemonReloadLogLevel(t *testing.T) {
	tmpDir := t.TempDir()

	configContent := `
node:
  id: test-reload-001
log:
  level: info
metrics:
  addr: ""
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	socketPath := filepath.Join(tmpDir, "daq.sock")
	pidFile := filepath.Join(tmpDir, "daq.pid")

	d, err := New(configPath, socketPath, pidFile, "")
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if d.config.Log.Level != "info" {
		t.Fatalf("expected initial level info, got %s", d.config.Log.Level)
	}

	newConfigContent := `
node:
  id: test-reload-001
log:
  level: debug
metrics:
  addr: ""
`
	if err := os.WriteFile(configPath, []byte(newConfigContent), 0o644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if d.config.Log.Level != "debug" {
		t.Fatalf("expected level debug after reload, got %s", d.config.Log.Level)
	}
}

func TestDaemonReloadPreservesRunningInstruments(t *testing.T) {
	tmpDir := t.TempDir()

	configContent := `
node:
  id: test-reload-002
log:
  level: info
metrics:
  addr: ""
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	socketPath := filepath.Join(tmpDir, "daq.sock")
	pidFile := filepath.Join(tmpDir, "daq.pid")

	d, err := New(configPath, socketPath, pidFile, "")
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	initial, err := d.mgr.GetInstrumentList(d.ctx)
	if err != nil {
		t.Fatalf("get instrument list: %v", err)
	}

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	after, err := d.mgr.GetInstrumentList(d.ctx)
	if err != nil {
		t.Fatalf("get instrument list: %v", err)
	}
	if len(initial) != len(after) {
		t.Fatalf("instrument count changed after reload: %d -> %d", len(initial), len(after))
	}
}

func TestDaemonReloadWarnsOnRestartRequiredFields(t *testing.T) {
	tmpDir := t.TempDir()

	configContent := `
node:
  id: test-reload-003
log:
  level: info
metrics:
  addr: ""
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	socketPath := filepath.Join(tmpDir, "daq.sock")
	pidFile := filepath.Join(tmpDir, "daq.pid")

	d, err := New(configPath, socketPath, pidFile, "")
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	newConfigContent := `
node:
  id: test-reload-003
log:
  level: info
metrics:
  addr: ":9100"
`
	if err := os.WriteFile(configPath, []byte(newConfigContent), 0o644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if d.config.Metrics.Addr != ":9100" {
		t.Fatalf("expected config.Metrics.Addr updated to new value, got %q", d.config.Metrics.Addr)
	}
}
