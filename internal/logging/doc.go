// Package logging constructs the slog loggers used across rowforge and
// provides shared attribute helpers so log fields stay consistent between
// the daemon, the CLI, and the job coordinator.
package logging
