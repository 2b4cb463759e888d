package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"teamclaude/internal/sprint/model"
)

func TestWriterFlushWritesImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	state := model.New()
	state.TeamName = "alpha"

	w := NewWriter(path, func() *model.SprintState { return state }, nil)
	w.Flush()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read persisted file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty persisted state")
	}

	loaded, ok := Load(path, nil)
	if !ok {
		t.Fatal("expected Load to succeed")
	}
	if loaded.TeamName != "alpha" {
		t.Errorf("expected loaded team name alpha, got %q", loaded.TeamName)
	}
}

func TestWriterSchedulePersistDebounces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	state := model.New()
	w := NewWriter(path, func() *model.SprintState { return state }, nil)

	w.SchedulePersist()
	w.SchedulePersist()
	w.SchedulePersist()

	if _, err := os.Stat(path); err == nil {
		t.Fatal("expected no file written before debounce delay elapses")
	}

	time.Sleep(debounceDelay + 150*time.Millisecond)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist after debounce delay: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, ok := Load(filepath.Join(t.TempDir(), "missing.json"), nil)
	if ok {
		t.Error("expected Load to report false for a missing file")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write malformed file: %v", err)
	}
	_, ok := Load(path, nil)
	if ok {
		t.Error("expected Load to report false for malformed JSON")
	}
}
