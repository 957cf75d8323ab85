package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false for missing file")
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Jobs.ChunkSize != defaultChunkSize {
		t.Fatalf("chunk size = %d, want default %d", cfg.Jobs.ChunkSize, defaultChunkSize)
	}
	if !cfg.Jobs.DistributedEnabled {
		t.Fatal("distributed mode should default to enabled")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[jobs]
chunk_size = 10
max_attempts = 5
distributed_enabled = false

[logging]
format = "json"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected exists=true")
	}
	if cfg.Jobs.ChunkSize != 10 || cfg.Jobs.MaxAttempts != 5 {
		t.Fatalf("overrides not applied: %+v", cfg.Jobs)
	}
	if cfg.Jobs.DistributedEnabled {
		t.Fatal("distributed_enabled override not applied")
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("logging format = %q", cfg.Logging.Format)
	}
}

func TestLoadRejectsInvalidChunkSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[jobs]\nchunk_size = 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "chunk_size") {
		t.Fatalf("error should mention chunk_size: %v", err)
	}
}

func TestEnvOverridesAPIKey(t *testing.T) {
	t.Setenv("ROWFORGE_LLM_API_KEY", "from-env")
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Fatalf("api key = %q, want env override", cfg.LLM.APIKey)
	}
}

func TestDotenvOverridesAPIKey(t *testing.T) {
	t.Setenv("ROWFORGE_LLM_API_KEY", "")
	os.Unsetenv("ROWFORGE_LLM_API_KEY")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ROWFORGE_LLM_API_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	cfg, _, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "from-dotenv" {
		t.Fatalf("api key = %q, want dotenv override", cfg.LLM.APIKey)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Jobs.ChunkSize = 0
	cfg.Jobs.MaxAttempts = -1
	cfg.Logging.Format = "yaml"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"chunk_size", "max_attempts", "logging.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}
	if err := WriteSample(path); err == nil {
		t.Fatal("expected error for existing file")
	}
}
