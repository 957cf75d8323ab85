// Package transform defines the contract between the execution core and the
// external inference service that actually rewrites cell values. The core
// treats the transform as a black box: it schedules calls, classifies their
// failures, and reassembles their outputs.
package transform

import (
	"context"

	"rowforge/internal/dataset"
)

// Applier executes one natural-language command over a batch of rows and
// returns exactly one value per input row, in input order. Implementations
// must be safe for concurrent use; workers on separate goroutines (or
// separate processes) share one Applier.
type Applier interface {
	Apply(ctx context.Context, command string, rows []dataset.Row, columnRefs []string) ([]string, error)
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, command string, rows []dataset.Row, columnRefs []string) ([]string, error)

func (f ApplierFunc) Apply(ctx context.Context, command string, rows []dataset.Row, columnRefs []string) ([]string, error) {
	return f(ctx, command, rows, columnRefs)
}
