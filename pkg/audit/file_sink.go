package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const currentFileName = "security.log"

// FileSinkConfig configures a FileSink
type FileSinkConfig struct {
	Dir      string
	MaxSize  int64 // bytes before rotation, default 100MB
	MaxFiles int   // rotated files kept, default 10
}

// FileSink appends events as JSON lines and rotates by size
type FileSink struct {
	dir      string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	now     func() time.Time
}

// NewFileSink creates the directory if needed and opens the current file
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.Dir == "" {
		return nil, errors.New("audit directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	s := &FileSink{
		dir:      cfg.Dir,
		maxSize:  cfg.MaxSize,
		maxFiles: cfg.MaxFiles,
		now:      time.Now,
	}
	if s.maxSize <= 0 {
		s.maxSize = 100 * 1024 * 1024
	}
	if s.maxFiles <= 0 {
		s.maxFiles = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// open opens the current file, rotating it first when full. Caller holds s.mu.
func (s *FileSink) open() error {
	path := filepath.Join(s.dir, currentFileName)
	if info, err := os.Stat(path); err == nil && info.Size() >= s.maxSize {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	s.file = file
	s.encoder = json.NewEncoder(file)
	return nil
}

// rotate renames the current file and prunes old ones. Caller holds s.mu.
func (s *FileSink) rotate() error {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}

	rotated := filepath.Join(s.dir, fmt.Sprintf("security-%s.log", s.now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(filepath.Join(s.dir, currentFileName), rotated); err != nil {
		return fmt.Errorf("failed to rotate audit file: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(s.dir, "security-*.log"))
	if err != nil {
		return fmt.Errorf("failed to list rotated audit files: %w", err)
	}
	if len(files) <= s.maxFiles {
		return nil
	}
	// Timestamps in the names sort chronologically
	sort.Strings(files)
	for _, old := range files[:len(files)-s.maxFiles] {
		if err := os.Remove(old); err != nil {
			return fmt.Errorf("failed to remove rotated audit file: %w", err)
		}
	}
	return nil
}

func (s *FileSink) Write(ctx context.Context, event *SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errors.New("audit file sink is closed")
	}
	if info, err := s.file.Stat(); err == nil && info.Size() >= s.maxSize {
		if err := s.open(); err != nil {
			return err
		}
	}

	if err := s.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write security event: %w", err)
	}
	return nil
}

// ReadEvents reads up to count events from the current file (all when count <= 0)
func (s *FileSink) ReadEvents(count int) ([]*SecurityEvent, error) {
	file, err := os.Open(filepath.Join(s.dir, currentFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer file.Close()

	var events []*SecurityEvent
	decoder := json.NewDecoder(file)
	for count <= 0 || len(events) < count {
		var event SecurityEvent
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode security event: %w", err)
		}
		events = append(events, &event)
	}
	return events, nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
