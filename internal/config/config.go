package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Jobs contains chunked-execution settings.
type Jobs struct {
	ChunkSize                 int  `toml:"chunk_size"`
	MaxAttempts               int  `toml:"max_attempts"`
	VisibilityTimeoutSeconds  int  `toml:"visibility_timeout_seconds"`
	JobTimeoutSeconds         int  `toml:"job_timeout_seconds"`
	PollIntervalMilliseconds  int  `toml:"poll_interval_ms"`
	DistributedEnabled        bool `toml:"distributed_enabled"`
	WorkerCount               int  `toml:"worker_count"`
	FallbackWorkerCount       int  `toml:"fallback_worker_count"`
	ClaimWaitSecondsWhenEmpty int  `toml:"claim_wait_seconds"`
}

// LLM contains connection settings for the inference service that executes
// the natural-language transforms.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for rowforge.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Jobs: chunk planning, retry, and timeout settings
//   - LLM: inference service connection settings
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Jobs    Jobs    `toml:"jobs"`
	LLM     LLM     `toml:"llm"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/rowforge/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return value
// is the resolved path, the third reports whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides(resolvedPath)

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// applyEnvOverrides layers .env and process environment values over the
// parsed file. Only secrets are sourced this way.
func (c *Config) applyEnvOverrides(configPath string) {
	if configPath != "" {
		envPath := filepath.Join(filepath.Dir(configPath), ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
		}
	}
	if key := strings.TrimSpace(os.Getenv("ROWFORGE_LLM_API_KEY")); key != "" {
		c.LLM.APIKey = key
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if os.IsNotExist(err) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path %q is a directory", expanded)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(defaultPath); err != nil {
		if os.IsNotExist(err) {
			return defaultPath, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	return defaultPath, true, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = ExpandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return err
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// EnsureDirectories creates the data and log directories when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// VisibilityTimeout returns the per-task visibility deadline duration.
func (c *Config) VisibilityTimeout() time.Duration {
	return time.Duration(c.Jobs.VisibilityTimeoutSeconds) * time.Second
}

// JobTimeout returns the overall per-job deadline.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.JobTimeoutSeconds) * time.Second
}

// PollInterval returns the coordinator/worker poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Jobs.PollIntervalMilliseconds) * time.Millisecond
}

// LogLevel implements logging.LogConfig.
func (c *Config) LogLevel() string { return c.Logging.Level }

// LogFormat implements logging.LogConfig.
func (c *Config) LogFormat() string { return c.Logging.Format }

// LogDirectory implements logging.LogConfig.
func (c *Config) LogDirectory() string { return c.Paths.LogDir }

// ExpandPath resolves a leading ~ against the user's home directory.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		trimmed = filepath.Join(home, trimmed[2:])
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	return abs, nil
}
