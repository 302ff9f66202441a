package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// FileSink appends one line per event to a text file
type FileSink struct {
	mu       sync.Mutex
	f        *os.File
	now      func() time.Time
	failures atomic.Uint64
}

// OpenFile opens path for appending, creating it and its directory if needed
func OpenFile(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &FileSink{f: f, now: time.Now}, nil
}

// Record appends the event. Write errors are counted, never returned.
func (s *FileSink) Record(description string) {
	line := Event{Time: s.now(), Description: description}.String() + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		s.failures.Add(1)
		return
	}
	if _, err := s.f.WriteString(line); err != nil {
		s.failures.Add(1)
	}
}

// Failures returns how many events could not be written
func (s *FileSink) Failures() uint64 {
	return s.failures.Load()
}

// Close closes the file; later events are dropped
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
