// Package chunking partitions dataset row indices into the ordered chunks
// that become broker tasks. The plan is deterministic so the distributed and
// fallback execution paths operate on identical partitions.
package chunking

import "fmt"

// Chunk is a contiguous run of dataset row indices processed as one unit of
// work. Start is inclusive, End exclusive.
type Chunk struct {
	JobID      string
	ChunkID    int
	Start      int
	End        int
	Command    string
	ColumnRefs []string
}

// Len returns the number of rows covered by the chunk.
func (c Chunk) Len() int { return c.End - c.Start }

// RowIndices returns the ordered row indices the chunk covers.
func (c Chunk) RowIndices() []int {
	indices := make([]int, 0, c.Len())
	for i := c.Start; i < c.End; i++ {
		indices = append(indices, i)
	}
	return indices
}

// PlannerError reports invalid planner input. Planner errors are fatal to a
// job and surface before anything is submitted.
type PlannerError struct {
	Reason string
}

func (e *PlannerError) Error() string { return "chunk planner: " + e.Reason }

// Plan partitions [0, rowCount) into ordered chunks of size chunkSize, the
// last chunk holding the remainder. A zero-row dataset yields an empty plan.
func Plan(jobID string, rowCount, chunkSize int, command string, columnRefs []string) ([]Chunk, error) {
	if chunkSize < 1 {
		return nil, &PlannerError{Reason: fmt.Sprintf("chunk size must be a positive integer, got %d", chunkSize)}
	}
	if rowCount < 0 {
		return nil, &PlannerError{Reason: fmt.Sprintf("row count must be non-negative, got %d", rowCount)}
	}
	if rowCount == 0 {
		return nil, nil
	}

	numChunks := (rowCount + chunkSize - 1) / chunkSize
	chunks := make([]Chunk, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > rowCount {
			end = rowCount
		}
		chunks = append(chunks, Chunk{
			JobID:      jobID,
			ChunkID:    i,
			Start:      start,
			End:        end,
			Command:    command,
			ColumnRefs: columnRefs,
		})
	}
	return chunks, nil
}
