package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that the configuration is internally consistent. It
// collects every problem rather than stopping at the first one.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir must be set")
	}
	if c.Jobs.ChunkSize < 1 {
		problems = append(problems, fmt.Sprintf("jobs.chunk_size must be a positive integer, got %d", c.Jobs.ChunkSize))
	}
	if c.Jobs.MaxAttempts < 1 {
		problems = append(problems, fmt.Sprintf("jobs.max_attempts must be a positive integer, got %d", c.Jobs.MaxAttempts))
	}
	if c.Jobs.VisibilityTimeoutSeconds < 1 {
		problems = append(problems, "jobs.visibility_timeout_seconds must be a positive integer")
	}
	if c.Jobs.JobTimeoutSeconds < 1 {
		problems = append(problems, "jobs.job_timeout_seconds must be a positive integer")
	}
	if c.Jobs.PollIntervalMilliseconds < 1 {
		problems = append(problems, "jobs.poll_interval_ms must be a positive integer")
	}
	if c.Jobs.WorkerCount < 1 {
		problems = append(problems, "jobs.worker_count must be a positive integer")
	}
	if c.Jobs.FallbackWorkerCount < 1 {
		problems = append(problems, "jobs.fallback_worker_count must be a positive integer")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format must be console or json, got %q", c.Logging.Format))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}
