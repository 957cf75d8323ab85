package testsupport

import (
	"path/filepath"
	"testing"

	"rowforge/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.LLM.APIKey = "test"
	cfg.Jobs.ClaimWaitSecondsWhenEmpty = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithChunkSize overrides the planner chunk size on the test config.
func WithChunkSize(size int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Jobs.ChunkSize = size
	}
}

// WithMaxAttempts overrides the per-chunk attempt bound on the test config.
func WithMaxAttempts(attempts int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Jobs.MaxAttempts = attempts
	}
}

// WithWorkers overrides the worker counts on the test config.
func WithWorkers(distributed, fallback int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Jobs.WorkerCount = distributed
		cfg.Jobs.FallbackWorkerCount = fallback
	}
}

// WithDistributed toggles distributed execution on the test config.
func WithDistributed(enabled bool) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Jobs.DistributedEnabled = enabled
	}
}
