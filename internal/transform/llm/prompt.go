package llm

import (
	"encoding/json"
	"fmt"

	"rowforge/internal/dataset"
)

const systemPrompt = `You transform tabular data. You receive an instruction and a JSON array of rows, each row an object of column values. Apply the instruction to every row independently and respond with JSON only, shaped as {"values": [...]} where values holds exactly one string per input row, in input order. Never add commentary, never skip a row, never reorder.`

type promptPayload struct {
	Instruction string        `json:"instruction"`
	Columns     []string      `json:"columns"`
	Rows        []dataset.Row `json:"rows"`
}

type valuesPayload struct {
	Values []string `json:"values"`
}

func buildUserPrompt(command string, rows []dataset.Row, columnRefs []string) (string, error) {
	encoded, err := json.Marshal(promptPayload{
		Instruction: command,
		Columns:     columnRefs,
		Rows:        rows,
	})
	if err != nil {
		return "", fmt.Errorf("marshal prompt: %w", err)
	}
	return string(encoded), nil
}

func parseValues(content string) ([]string, error) {
	var parsed valuesPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		// Some models return a bare array despite the schema instruction.
		var bare []string
		if bareErr := json.Unmarshal([]byte(content), &bare); bareErr == nil {
			return bare, nil
		}
		return nil, fmt.Errorf("unmarshal values: %w", err)
	}
	return parsed.Values, nil
}
