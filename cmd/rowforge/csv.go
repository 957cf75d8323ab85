package main

import (
	"encoding/csv"
	"fmt"
	"os"

	"rowforge/internal/dataset"
)

// readCSVDataset loads a CSV file with a header row into a dataset.
func readCSVDataset(path string) (*dataset.Dataset, []string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("csv %s has no header row", path)
	}

	header := records[0]
	rows := make([]dataset.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(dataset.Row, len(header))
		for i, column := range header {
			if i < len(record) {
				row[column] = record[i]
			}
		}
		rows = append(rows, row)
	}

	ds, err := dataset.New(header, rows)
	if err != nil {
		return nil, nil, err
	}
	return ds, header, nil
}

// writeCSVDataset writes the input columns plus the new column to path.
// Unresolved rows get an empty cell in the new column.
func writeCSVDataset(path string, ds *dataset.Dataset, header []string, newColumn string, values []string, resolved []bool) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	outHeader := append(append([]string{}, header...), newColumn)
	if err := writer.Write(outHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range ds.Rows {
		record := make([]string, 0, len(outHeader))
		for _, column := range header {
			record = append(record, row[column])
		}
		value := ""
		if i < len(values) && resolved[i] {
			value = values[i]
		}
		record = append(record, value)
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}
