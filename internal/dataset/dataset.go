// Package dataset holds the in-memory tabular model the execution core
// operates on. Ingestion (CSV/Excel parsing) happens outside this module;
// callers hand over an already materialized Dataset and the core only reads
// referenced columns, never mutating rows.
package dataset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spaolacci/murmur3"
)

// Row maps column names to cell values for a single dataset row.
type Row map[string]string

// Dataset is an ordered sequence of rows sharing a column set. Row order is
// significant: the zero-based index of a row is the sole key used to
// reassemble transform results.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// New constructs a dataset after checking rows only reference known columns.
func New(columns []string, rows []Row) (*Dataset, error) {
	if len(columns) == 0 {
		return nil, errors.New("dataset: at least one column required")
	}
	known := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		if col == "" {
			return nil, errors.New("dataset: empty column name")
		}
		if _, dup := known[col]; dup {
			return nil, fmt.Errorf("dataset: duplicate column %q", col)
		}
		known[col] = struct{}{}
	}
	for i, row := range rows {
		for col := range row {
			if _, ok := known[col]; !ok {
				return nil, fmt.Errorf("dataset: row %d references unknown column %q", i, col)
			}
		}
	}
	return &Dataset{Columns: columns, Rows: rows}, nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// HasColumns reports whether every named column exists in the dataset.
func (d *Dataset) HasColumns(names []string) error {
	known := make(map[string]struct{}, len(d.Columns))
	for _, col := range d.Columns {
		known[col] = struct{}{}
	}
	for _, name := range names {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("dataset: unknown column %q", name)
		}
	}
	return nil
}

// Slice returns the rows in [start, end) restricted to the referenced
// columns. The returned rows are copies; mutating them does not touch the
// dataset.
func (d *Dataset) Slice(start, end int, columns []string) []Row {
	if start < 0 {
		start = 0
	}
	if end > len(d.Rows) {
		end = len(d.Rows)
	}
	if start >= end {
		return nil
	}
	out := make([]Row, 0, end-start)
	for _, row := range d.Rows[start:end] {
		projected := make(Row, len(columns))
		for _, col := range columns {
			projected[col] = row[col]
		}
		out = append(out, projected)
	}
	return out
}

// Fingerprint computes a stable 64-bit hash over the dataset contents. Used
// to tag jobs so operators can tell whether two jobs ran over the same input.
func (d *Dataset) Fingerprint() uint64 {
	h := murmur3.New64()
	cols := append([]string(nil), d.Columns...)
	sort.Strings(cols)
	for _, col := range cols {
		_, _ = h.Write([]byte(col))
		_, _ = h.Write([]byte{0})
	}
	for _, row := range d.Rows {
		for _, col := range cols {
			_, _ = h.Write([]byte(row[col]))
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write([]byte{1})
	}
	return h.Sum64()
}
