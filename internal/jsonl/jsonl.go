// Package jsonl reads and writes newline-delimited JSON record files.
//
// Reads are exhaustive: malformed lines are recorded with their line number
// and skipped instead of aborting the file. Writes go through a temp file
// and rename so a partially written output never shadows a good one.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Record is one decoded JSONL row.
type Record map[string]any

// MalformedLineError reports a line that failed to decode. It is recorded,
// not fatal: the surrounding file keeps processing.
type MalformedLineError struct {
	Line int
	Err  error
}

// Error implements the error interface.
func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed json on line %d: %v", e.Line, e.Err)
}

// Unwrap exposes the underlying decode error.
func (e *MalformedLineError) Unwrap() error { return e.Err }

// File is the result of decoding one JSONL file.
type File struct {
	Records []Record
	// Lines holds the 1-based source line for each record in Records.
	Lines []int
	// Malformed lists lines that failed to decode, in file order.
	Malformed []*MalformedLineError
}

// MalformedLines returns just the line numbers of the decode failures.
func (f *File) MalformedLines() []int {
	if len(f.Malformed) == 0 {
		return nil
	}
	lines := make([]int, len(f.Malformed))
	for i, m := range f.Malformed {
		lines[i] = m.Line
	}
	return lines
}

// ReadFile decodes a JSONL file. Blank lines are ignored; malformed lines
// are accumulated in the result. Only opening or scanning the file can fail.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open jsonl %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	out := &File{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(trimSpace(line)) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			out.Malformed = append(out.Malformed, &MalformedLineError{Line: lineNo, Err: err})
			continue
		}
		out.Records = append(out.Records, rec)
		out.Lines = append(out.Lines, lineNo)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl %s: %w", path, err)
	}
	return out, nil
}

// WriteFile encodes records one per line and atomically replaces path.
// Map keys are marshalled in sorted order, so equal record sets produce
// byte-equal files.
func WriteFile(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after successful rename

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			tmp.Close() //nolint:errcheck // already failing
			return fmt.Errorf("encode record for %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("flush %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}
	return nil
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}
