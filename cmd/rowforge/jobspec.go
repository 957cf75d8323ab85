package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// jobSpec describes one enrichment run, loaded from a YAML file and
// optionally overridden by flags.
type jobSpec struct {
	Input      string   `yaml:"input"`
	Output     string   `yaml:"output"`
	Command    string   `yaml:"command"`
	Columns    []string `yaml:"columns"`
	NewColumn  string   `yaml:"new_column"`
	ChunkSize  int      `yaml:"chunk_size"`
	JobTimeout int      `yaml:"job_timeout_seconds"`
}

func loadJobSpec(path string) (*jobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job spec: %w", err)
	}
	var spec jobSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse job spec %s: %w", path, err)
	}
	return &spec, nil
}

func (s *jobSpec) validate() error {
	var problems []string
	if strings.TrimSpace(s.Input) == "" {
		problems = append(problems, "input file is required")
	}
	if strings.TrimSpace(s.Command) == "" {
		problems = append(problems, "command is required")
	}
	if len(s.Columns) == 0 {
		problems = append(problems, "at least one source column is required")
	}
	if strings.TrimSpace(s.NewColumn) == "" {
		problems = append(problems, "new column name is required")
	}
	if s.ChunkSize < 0 {
		problems = append(problems, "chunk size cannot be negative")
	}
	if len(problems) > 0 {
		return errors.New("invalid job spec: " + strings.Join(problems, "; "))
	}
	return nil
}
