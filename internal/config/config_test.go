package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pairforge/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Assistant.Type != "codex" {
		t.Fatalf("unexpected default provider %s", cfg.Assistant.Type)
	}
	if cfg.Execution.MaxIterations != 10 || cfg.Execution.MaxTargetIterations != 2 {
		t.Fatalf("unexpected budgets: %+v", cfg.Execution)
	}
	if !cfg.Execution.Parallel {
		t.Fatalf("expected parallel execution by default")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("parse generated default: %v", err)
	}
	if cfg.ProviderFor("backend") != "codex" {
		t.Fatalf("unexpected backend provider %s", cfg.ProviderFor("backend"))
	}
}

func TestFromYAMLRoleOverrides(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
assistant:
  type: claude
  timeout: 60
roles:
  frontend:
    provider: gemini
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.ProviderFor("frontend") != "gemini" {
		t.Fatalf("expected role override, got %s", cfg.ProviderFor("frontend"))
	}
	if cfg.ProviderFor("backend") != "claude" {
		t.Fatalf("expected fallback to assistant type, got %s", cfg.ProviderFor("backend"))
	}
	if cfg.CollaboratorTimeout() != 60*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.CollaboratorTimeout())
	}
}

func TestFromYAMLRejectsUnknownProvider(t *testing.T) {
	_, err := config.FromYAML([]byte("assistant:\n  type: gpt9\n"))
	if err == nil || !strings.Contains(err.Error(), "not a known provider") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestFromYAMLRejectsUnknownRole(t *testing.T) {
	_, err := config.FromYAML([]byte("roles:\n  devops:\n    provider: codex\n"))
	if err == nil || !strings.Contains(err.Error(), "unknown role") {
		t.Fatalf("expected role error, got %v", err)
	}
}

func TestFromYAMLRejectsZeroBudget(t *testing.T) {
	_, err := config.FromYAML([]byte("execution:\n  max_iterations: -1\n"))
	if err == nil {
		t.Fatalf("expected budget error")
	}
}

func TestLoadOptionalMissingFile(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Execution.MaxIterations != 10 {
		t.Fatalf("expected defaults, got %+v", cfg.Execution)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	content := "assistant:\n  type: mock\nexecution:\n  max_iterations: 3\n"
	if err := os.WriteFile(filepath.Join(dir, "pairforge.yml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Assistant.Type != "mock" || cfg.Execution.MaxIterations != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := config.Load(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "config init") {
		t.Fatalf("expected missing config error, got %v", err)
	}
}
