package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// resetState clears package-level logging state between tests.
func resetState() {
	CloseAll()
	loggers = make(map[Category]*Logger)
	logsDir = ""
	dataDir = ""
	config = loggingConfig{}
	logLevel = LevelInfo
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

// TestAllCategoriesLog tests that all categories create log files when debug_mode is true
func TestAllCategoriesLog(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
logging:
  debug_mode: true
  level: debug
  categories:
    boot: true
    session: true
    entries: true
    reconcile: true
    sync: true
    store: true
`)

	resetState()
	defer resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if !IsDebugMode() {
		t.Error("Expected debug mode to be enabled")
	}

	categories := []Category{
		CategoryBoot,
		CategorySession,
		CategoryEntries,
		CategoryReconcile,
		CategorySync,
		CategoryStore,
	}

	for _, cat := range categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be enabled", cat)
		}
		logger := Get(cat)
		logger.Info("Test info message for %s", cat)
		logger.Debug("Test debug message for %s", cat)
		logger.Warn("Test warn message for %s", cat)
		logger.Error("Test error message for %s", cat)
	}
	CloseAll()

	// Each category gets its own dated log file.
	entries, err := os.ReadDir(filepath.Join(tempDir, "logs"))
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}
	found := make(map[string]bool)
	for _, e := range entries {
		for _, cat := range categories {
			if strings.HasSuffix(e.Name(), string(cat)+".log") {
				found[string(cat)] = true
			}
		}
	}
	for _, cat := range categories {
		if !found[string(cat)] {
			t.Errorf("Expected a log file for category %s", cat)
		}
	}
}

// TestNoLoggingWithoutDebugMode verifies production mode writes nothing
func TestNoLoggingWithoutDebugMode(t *testing.T) {
	tempDir := t.TempDir()

	resetState()
	defer resetState()

	// No config file at all: production mode.
	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	if IsDebugMode() {
		t.Error("Expected debug mode to be disabled without config")
	}

	Session("this should go nowhere")
	Get(CategoryStore).Error("neither should this")

	if _, err := os.Stat(filepath.Join(tempDir, "logs")); !os.IsNotExist(err) {
		t.Error("Expected no logs directory in production mode")
	}
}

// TestCategoryDisabled verifies per-category switches
func TestCategoryDisabled(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
logging:
  debug_mode: true
  level: info
  categories:
    session: true
    reconcile: false
`)

	resetState()
	defer resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	if !IsCategoryEnabled(CategorySession) {
		t.Error("session category should be enabled")
	}
	if IsCategoryEnabled(CategoryReconcile) {
		t.Error("reconcile category should be disabled")
	}
	// Unlisted categories default to enabled.
	if !IsCategoryEnabled(CategoryStore) {
		t.Error("unlisted category should default to enabled")
	}

	Reconcile("dropped on the floor")
	CloseAll()

	entries, _ := os.ReadDir(filepath.Join(tempDir, "logs"))
	for _, e := range entries {
		if strings.Contains(e.Name(), "reconcile") {
			t.Error("disabled category must not create a log file")
		}
	}
}

// TestLevelFiltering verifies messages below the configured level are dropped
func TestLevelFiltering(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
logging:
  debug_mode: true
  level: warn
`)

	resetState()
	defer resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	l := Get(CategorySession)
	l.Debug("debug dropped")
	l.Info("info dropped")
	l.Warn("warn kept")
	l.Error("error kept")
	CloseAll()

	entries, err := os.ReadDir(filepath.Join(tempDir, "logs"))
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}
	var content []byte
	for _, e := range entries {
		if strings.Contains(e.Name(), "session") {
			content, _ = os.ReadFile(filepath.Join(tempDir, "logs", e.Name()))
		}
	}
	text := string(content)
	if strings.Contains(text, "dropped") {
		t.Errorf("Expected filtered messages to be absent, got: %s", text)
	}
	if !strings.Contains(text, "warn kept") || !strings.Contains(text, "error kept") {
		t.Errorf("Expected warn and error messages to be present, got: %s", text)
	}
}

// TestConcurrentGet verifies Get is safe under concurrency
func TestConcurrentGet(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
logging:
  debug_mode: true
  level: debug
`)

	resetState()
	defer resetState()

	if err := Initialize(tempDir); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			l := Get(CategoryEntries)
			l.Info("concurrent write %d", n)
		}(i)
	}
	wg.Wait()
	CloseAll()
}

func TestTimerLogsDuration(t *testing.T) {
	resetState()
	defer resetState()

	// Works as a no-op without initialization too.
	timer := StartTimer(CategorySync, "noop")
	if d := timer.Stop(); d < 0 {
		t.Error("Expected non-negative duration")
	}
}
