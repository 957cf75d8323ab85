// Package logs reads the daemon log file incrementally. The CLI logs
// command and the daemon's log endpoint both page through the file with a
// byte offset cursor, so repeated calls never re-deliver lines.
package logs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// TailOptions controls a single Tail call. A negative Offset requests the
// last Limit lines of the file; a non-negative Offset reads forward from
// that byte position.
type TailOptions struct {
	Offset int64
	Limit  int
}

// TailResult carries the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// Tail reads from the log file at path according to opts. A missing file is
// not an error: the result is empty with offset zero, so callers can poll
// before the daemon has written anything.
func Tail(path string, opts TailOptions) (TailResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TailResult{}, nil
		}
		return TailResult{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{}, fmt.Errorf("log path %q is a directory", path)
	}

	if opts.Offset < 0 {
		return tailLast(path, opts.Limit)
	}

	offset := opts.Offset
	if offset > info.Size() {
		// File was truncated or rotated since the last read.
		offset = 0
	}
	return readForward(path, offset, opts.Limit)
}

// tailLast returns the final limit lines and an offset at end of file.
func tailLast(path string, limit int) (TailResult, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TailResult{}, nil
		}
		return TailResult{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return TailResult{}, fmt.Errorf("seek log file: %w", err)
		}
		return TailResult{Offset: end}, nil
	}

	scanner := newLineScanner(file)
	ring := make([]string, limit)
	count, next := 0, 0
	for scanner.Scan() {
		ring[next] = scanner.Text()
		next = (next + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return TailResult{}, fmt.Errorf("read log file: %w", err)
	}

	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return TailResult{}, fmt.Errorf("seek log file: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := range lines {
			lines[i] = ring[(next+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return TailResult{Lines: lines, Offset: end}, nil
}

// readForward returns up to limit lines starting at offset, along with the
// byte position immediately after the last complete line consumed. A
// limit of zero or less reads everything available.
func readForward(path string, offset int64, limit int) (TailResult, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TailResult{}, nil
		}
		return TailResult{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return TailResult{}, fmt.Errorf("seek log file: %w", err)
	}

	result := TailResult{Offset: offset}
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			// A partial line is still being written; pick it up next poll.
			return result, nil
		}
		if err != nil {
			return TailResult{}, fmt.Errorf("read log file: %w", err)
		}
		result.Lines = append(result.Lines, strings.TrimSuffix(line, "\n"))
		result.Offset += int64(len(line))
		if limit > 0 && len(result.Lines) >= limit {
			return result, nil
		}
	}
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}
