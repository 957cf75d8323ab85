// Package preflight verifies the daemon's runtime prerequisites before it
// starts taking work: directory access, broker database health, and LLM API
// reachability.
package preflight

import (
	"context"

	"rowforge/internal/broker"
	"rowforge/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckBroker(ctx, cfg),
	}

	if cfg.Jobs.DistributedEnabled || cfg.LLM.APIKey != "" {
		results = append(results, CheckLLM(ctx, cfg))
	}

	return results
}

// Passed reports whether every check in results succeeded.
func Passed(results []Result) bool {
	for _, result := range results {
		if !result.Passed {
			return false
		}
	}
	return true
}

// CheckBroker verifies the broker database opens and responds.
func CheckBroker(ctx context.Context, cfg *config.Config) Result {
	const name = "Broker database"

	store, err := broker.Open(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer store.Close()

	health, err := store.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if health.Error != "" {
		return Result{Name: name, Detail: health.Error}
	}
	if !health.IntegrityCheck {
		return Result{Name: name, Detail: "integrity check failed"}
	}
	return Result{Name: name, Passed: true, Detail: store.Path()}
}
