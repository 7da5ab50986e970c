package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetLoggingState() {
	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
	configMu.Lock()
	config = loggingConfig{}
	configLoaded = false
	configMu.Unlock()
	logsDir = ""
	workspace = ""
}

func writeTestConfig(t *testing.T, root string, debug bool, categories map[string]bool) {
	t.Helper()
	configDir := filepath.Join(root, ".parseltongue")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	cf := configFile{Logging: loggingConfig{
		Level:      "debug",
		DebugMode:  debug,
		Categories: categories,
	}}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestAllCategoriesLogWhenDebugEnabled(t *testing.T) {
	resetLoggingState()
	root := t.TempDir()
	writeTestConfig(t, root, true, nil)

	if err := Initialize(root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer CloseAll()

	cats := []Category{CategoryBoot, CategoryStreamer, CategoryParser, CategoryStore, CategoryQuery, CategoryExport, CategoryReset, CategoryMangle}
	for _, c := range cats {
		l := Get(c)
		l.Info("hello from %s", c)
		if l.logger == nil {
			t.Errorf("expected active logger for category %s", c)
		}
	}

	entries, err := os.ReadDir(logsDir)
	if err != nil {
		t.Fatalf("read logs dir: %v", err)
	}
	if len(entries) != len(cats) {
		t.Errorf("expected %d log files, got %d", len(cats), len(entries))
	}
}

func TestNoOpWhenDebugDisabled(t *testing.T) {
	resetLoggingState()
	root := t.TempDir()
	writeTestConfig(t, root, false, nil)

	if err := Initialize(root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer CloseAll()

	l := Get(CategoryStreamer)
	if l.logger != nil {
		t.Error("expected no-op logger when debug_mode is false")
	}
	if _, err := os.Stat(logsDir); err == nil {
		t.Error("expected logs directory to not be created when debug_mode is false")
	}
}

func TestCategoryFilter(t *testing.T) {
	resetLoggingState()
	root := t.TempDir()
	writeTestConfig(t, root, true, map[string]bool{"streamer": true, "parser": false})

	if err := Initialize(root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer CloseAll()

	if Get(CategoryStreamer).logger == nil {
		t.Error("expected streamer category to be enabled")
	}
	if Get(CategoryParser).logger != nil {
		t.Error("expected parser category to be disabled")
	}
	// unspecified categories default to enabled in debug mode
	if Get(CategoryStore).logger == nil {
		t.Error("expected unspecified category to default to enabled")
	}
}

func TestTimerStopWithThreshold(t *testing.T) {
	resetLoggingState()
	root := t.TempDir()
	writeTestConfig(t, root, true, nil)
	if err := Initialize(root); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer CloseAll()

	timer := StartTimer(CategoryStore, "upsert_entities")
	time.Sleep(2 * time.Millisecond)
	elapsed := timer.StopWithThreshold(1 * time.Millisecond)
	if elapsed <= 0 {
		t.Error("expected nonzero elapsed duration")
	}

	data, err := os.ReadFile(logFilePath(t, root, CategoryStore))
	if err != nil {
		t.Fatalf("read store log: %v", err)
	}
	if !strings.Contains(string(data), "budget") {
		t.Error("expected threshold breach to be logged with the word 'budget'")
	}
}

func logFilePath(t *testing.T, root string, category Category) string {
	t.Helper()
	date := time.Now().Format("2006-01-02")
	return filepath.Join(root, ".parseltongue", "logs", date+"_"+string(category)+".log")
}
