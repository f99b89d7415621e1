package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"marketcrawl/pkg/errors"
)

// Sink appends records to a JSONL file, one compact record per line.
// Records are never validated beyond being well-formed JSON.
type Sink struct {
	path    string
	file    *os.File
	mu      sync.Mutex
	written int
}

// OpenSink opens (or creates) the output file for appending
func OpenSink(path string) (*Sink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	return &Sink{path: path, file: file}, nil
}

// Write appends the records as one batch and syncs the file.
// A record that is not valid JSON fails the whole batch before anything is written.
func (s *Sink) Write(records []json.RawMessage) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	for i, rec := range records {
		if err := json.Compact(&buf, rec); err != nil {
			return 0, errors.Wrap(errors.ErrorTypeMalformedResponse, err,
				fmt.Sprintf("record %d is not valid JSON", i))
		}
		buf.WriteByte('\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return 0, fmt.Errorf("sink %s is closed", s.path)
	}

	w := bufio.NewWriter(s.file)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("failed to write records: %w", err)
	}
	if err := w.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush records: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync output file: %w", err)
	}

	s.written += len(records)
	return len(records), nil
}

// WriteOne appends a single record
func (s *Sink) WriteOne(record json.RawMessage) error {
	_, err := s.Write([]json.RawMessage{record})
	return err
}

// Count returns the number of records written by this sink
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Path returns the output file path
func (s *Sink) Path() string {
	return s.path
}

// Close closes the underlying file. Closing twice is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
