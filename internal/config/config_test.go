package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReturnsDefaultsWhenMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Entries.MaxEntries != 10000 {
		t.Errorf("MaxEntries = %d, want 10000", cfg.Entries.MaxEntries)
	}
	if got := cfg.GetTimeoutThreshold(); got != 2*time.Hour {
		t.Errorf("GetTimeoutThreshold = %v, want 2h", got)
	}
}

func TestLoadParsesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_dir: ` + dir + `
source:
  database_path: /tmp/state.vscdb
session:
  timeout_threshold: 30m
entries:
  max_entries: 500
sync:
  remote_enabled: true
  owner_id: user-1
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.DatabasePath != "/tmp/state.vscdb" {
		t.Errorf("DatabasePath = %q", cfg.Source.DatabasePath)
	}
	if got := cfg.GetTimeoutThreshold(); got != 30*time.Minute {
		t.Errorf("GetTimeoutThreshold = %v, want 30m", got)
	}
	if cfg.Entries.MaxEntries != 500 {
		t.Errorf("MaxEntries = %d, want 500", cfg.Entries.MaxEntries)
	}
	if !cfg.Sync.RemoteEnabled || cfg.Sync.OwnerID != "user-1" {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.SessionsPath() != filepath.Join(dir, "sessions.json") {
		t.Errorf("SessionsPath = %q", cfg.SessionsPath())
	}
	if cfg.CachePath() != filepath.Join(dir, "cache.db") {
		t.Errorf("CachePath = %q", cfg.CachePath())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEXDASH_SOURCE_DB", "/var/ide/state.vscdb")
	t.Setenv("HEXDASH_OWNER_ID", "owner-9")
	t.Setenv("HEXDASH_SESSION_TIMEOUT", "1h")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.DatabasePath != "/var/ide/state.vscdb" {
		t.Errorf("DatabasePath = %q", cfg.Source.DatabasePath)
	}
	if !cfg.Sync.RemoteEnabled || cfg.Sync.OwnerID != "owner-9" {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if got := cfg.GetTimeoutThreshold(); got != time.Hour {
		t.Errorf("GetTimeoutThreshold = %v, want 1h", got)
	}
}

func TestGetTimeoutThresholdFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.TimeoutThreshold = "not-a-duration"
	if got := cfg.GetTimeoutThreshold(); got != 2*time.Hour {
		t.Errorf("GetTimeoutThreshold = %v, want 2h fallback", got)
	}
}
