package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m := NewManager(path)

	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := m.Get()
	if cfg.Web.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Web.Port)
	}
	if cfg.BLE.ScanDurationSeconds != 30 {
		t.Errorf("default scan duration = %d, want 30", cfg.BLE.ScanDurationSeconds)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config was not persisted: %v", err)
	}
}

func TestLoadMergesPartialFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := "web:\n  port: 9000\n"
	if err := os.WriteFile(path, []byte(partial), 0600); err != nil {
		t.Fatal(err)
	}

	m := NewManager(path)
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := m.Get()
	if cfg.Web.Port != 9000 {
		t.Errorf("port = %d, want override 9000", cfg.Web.Port)
	}
	if cfg.BLE.OpTimeoutSeconds != 10 {
		t.Errorf("op timeout = %d, want default 10 preserved", cfg.BLE.OpTimeoutSeconds)
	}
}

func TestUpdateRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m := NewManager(path)
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}

	bad := m.Get()
	bad.Web.Port = 0
	bad.BLE.ScanDurationSeconds = 0
	err := m.Update(bad)
	if err == nil {
		t.Fatal("Update accepted an invalid config")
	}
	// Every problem is reported in one pass.
	if !strings.Contains(err.Error(), "web port") || !strings.Contains(err.Error(), "scan_duration_seconds") {
		t.Errorf("error = %q, want both problems listed", err)
	}

	if m.Get().Web.Port != 8080 {
		t.Errorf("rejected update mutated the live config: port = %d", m.Get().Web.Port)
	}
}

func TestUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m := NewManager(path)
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}

	cfg := m.Get()
	cfg.Web.Port = 9090
	if err := m.Update(cfg); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded := NewManager(path)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if got := reloaded.Get().Web.Port; got != 9090 {
		t.Errorf("reloaded port = %d, want 9090", got)
	}
}

func TestValidateDefaults(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config fails validation: %v", err)
	}
}
