package config

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestLoadMissingFileAppliesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4851 {
		t.Errorf("expected default port 4851, got %d", cfg.Server.Port)
	}
	if cfg.Recording.Enabled {
		t.Error("expected recording disabled by default")
	}
	if cfg.Agents.Model != "sonnet" {
		t.Errorf("expected default model sonnet, got %q", cfg.Agents.Model)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".sprint.yml")
	fixture := map[string]any{
		"server": map[string]any{"port": 9000},
		"sprint": map[string]any{"token_budget": 50000},
		"agents": map[string]any{"model": "opus"},
	}
	contents, err := yaml.Marshal(fixture)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Sprint.TokenBudget != 50000 {
		t.Errorf("expected token budget 50000, got %d", cfg.Sprint.TokenBudget)
	}
	if cfg.Agents.Model != "opus" {
		t.Errorf("expected model opus, got %q", cfg.Agents.Model)
	}
}

func TestBudgetConfigNilWithoutLimit(t *testing.T) {
	cfg := Config{}
	if cfg.BudgetConfig() != nil {
		t.Error("expected nil BudgetConfig when no limit is set")
	}
	cfg.Sprint.TokenBudget = 1000
	if cfg.BudgetConfig() == nil {
		t.Error("expected non-nil BudgetConfig once a limit is set")
	}
}

func TestParentDir(t *testing.T) {
	if got := parentDir("/a/b/.sprint.yml"); got != "/a/b" {
		t.Errorf("parentDir = %q, want /a/b", got)
	}
	if got := parentDir("bare.yml"); got != "." {
		t.Errorf("parentDir = %q, want .", got)
	}
}
