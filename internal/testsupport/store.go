package testsupport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"rowforge/internal/broker"
	"rowforge/internal/config"
	"rowforge/internal/dataset"
	"rowforge/internal/transform"
)

// MustOpenStore opens a broker.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *broker.Store {
	t.Helper()

	store, err := broker.Open(cfg)
	if err != nil {
		t.Fatalf("broker.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Rows builds n rows with a "text" column whose values are row-0, row-1, ...
func Rows(n int) []dataset.Row {
	rows := make([]dataset.Row, n)
	for i := range rows {
		rows[i] = dataset.Row{"text": fmt.Sprintf("row-%d", i)}
	}
	return rows
}

// MustDataset builds a single-column dataset of n rows for tests.
func MustDataset(t testing.TB, n int) *dataset.Dataset {
	t.Helper()

	ds, err := dataset.New([]string{"text"}, Rows(n))
	if err != nil {
		t.Fatalf("dataset.New: %v", err)
	}
	return ds
}

// UppercaseApplier returns a deterministic transform that upper-cases the
// "text" column. Useful where tests only need a transform that succeeds.
func UppercaseApplier() transform.Applier {
	return transform.ApplierFunc(func(ctx context.Context, command string, rows []dataset.Row, columnRefs []string) ([]string, error) {
		values := make([]string, len(rows))
		for i, row := range rows {
			values[i] = strings.ToUpper(row["text"])
		}
		return values, nil
	})
}

// ScriptedApplier fails or succeeds per call according to a per-chunk script.
// The script maps a chunk's first row index to the errors to return, in
// order; once a chunk's script is exhausted the applier succeeds. Calls are
// counted per chunk so tests can assert attempt bounds.
type ScriptedApplier struct {
	mu     sync.Mutex
	script map[int][]error
	calls  map[int]int
}

// NewScriptedApplier builds a ScriptedApplier from rowStart -> error script.
func NewScriptedApplier(script map[int][]error) *ScriptedApplier {
	return &ScriptedApplier{
		script: script,
		calls:  make(map[int]int),
	}
}

// Apply implements transform.Applier.
func (s *ScriptedApplier) Apply(ctx context.Context, command string, rows []dataset.Row, columnRefs []string) ([]string, error) {
	// Rows() encodes the row index in the text value, so a chunk's first
	// row names its rowStart.
	key := -1
	if len(rows) > 0 {
		fmt.Sscanf(rows[0]["text"], "row-%d", &key)
	}

	s.mu.Lock()
	n := s.calls[key]
	s.calls[key] = n + 1
	var err error
	if errs := s.script[key]; n < len(errs) {
		err = errs[n]
	}
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	values := make([]string, len(rows))
	for i, row := range rows {
		values[i] = strings.ToUpper(row["text"])
	}
	return values, nil
}

// Calls reports how many times the chunk starting at rowStart was attempted.
func (s *ScriptedApplier) Calls(rowStart int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[rowStart]
}
