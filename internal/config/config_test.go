package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Store.Type != "file" {
		t.Errorf("expected default store type file, got %q", cfg.Store.Type)
	}
	if cfg.Compaction.KeepLastN != 20 {
		t.Errorf("expected default keepLastN 20, got %d", cfg.Compaction.KeepLastN)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
store:
  type: document
  connectionString: mongodb://localhost:27017
  dbName: agent_memory
compaction:
  keepLastN: 5
  triggerRatio: 0.5
llm:
  provider: anthropic
  model: claude-test
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Store.Type != "document" {
		t.Errorf("expected store type document, got %q", cfg.Store.Type)
	}
	if cfg.Store.DBName != "agent_memory" {
		t.Errorf("expected dbName agent_memory, got %q", cfg.Store.DBName)
	}
	if cfg.Compaction.KeepLastN != 5 {
		t.Errorf("expected keepLastN 5, got %d", cfg.Compaction.KeepLastN)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected llm provider anthropic, got %q", cfg.LLM.Provider)
	}
}

func TestStoreConfig_ResolvedConnectionString_EnvFallback(t *testing.T) {
	t.Setenv("TEST_CONN_STRING", "postgres://example")
	s := StoreConfig{ConnectionEnvKey: "TEST_CONN_STRING"}
	if got := s.ResolvedConnectionString(); got != "postgres://example" {
		t.Errorf("expected env fallback value, got %q", got)
	}

	s2 := StoreConfig{ConnectionString: "explicit", ConnectionEnvKey: "TEST_CONN_STRING"}
	if got := s2.ResolvedConnectionString(); got != "explicit" {
		t.Errorf("expected explicit value to win, got %q", got)
	}
}

func TestLoad_EnvOverridesLogLevel(t *testing.T) {
	t.Setenv("MEMORY_LOG_LEVEL", "debug")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected env override to win, got %q", cfg.LogLevel)
	}
}
