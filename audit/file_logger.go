// file_logger.go: JSONL file backend for the audit trail
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// FileLogger appends events to a JSONL file.
type FileLogger struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	fileOpts FileOptions
}

// FileOptions are the options understood by the file backend.
type FileOptions struct {
	FilePath string `json:"file_path"`
	// Sync forces an fsync after every event.
	Sync bool `json:"sync,omitempty"`
}

// NewFileLogger opens (creating if needed) the audit file named in
// config.Options["file_path"].
func NewFileLogger(config *Config) (*FileLogger, error) {
	var fileOpts FileOptions
	if err := parseOptions(config.Options, &fileOpts); err != nil {
		return nil, fmt.Errorf("invalid file logger options: %w", err)
	}
	if fileOpts.FilePath == "" {
		return nil, fmt.Errorf("file_path is required for file logger")
	}

	if err := os.MkdirAll(filepath.Dir(fileOpts.FilePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	fl := &FileLogger{path: fileOpts.FilePath, fileOpts: fileOpts}
	if err := fl.ensureFileOpen(); err != nil {
		return nil, err
	}
	return fl, nil
}

// Log implements Logger. An "error" entry in metadata is lifted into the
// event's Error field.
func (fl *FileLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	event := Event{
		ID:        uuid.NewString(),
		Timestamp: timecache.CachedTime().UTC(),
		Action:    action,
		Success:   success,
		Metadata:  metadata,
	}
	if msg, ok := metadata["error"].(string); ok {
		event.Error = msg
		delete(metadata, "error")
	}
	return fl.writeEvent(event)
}

func (fl *FileLogger) writeEvent(event Event) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if err := fl.ensureFileOpen(); err != nil {
		return err
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}
	if _, err = fl.file.Write(append(eventJSON, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if fl.fileOpts.Sync {
		if err = fl.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync audit log: %w", err)
		}
	}
	return nil
}

func (fl *FileLogger) ensureFileOpen() error {
	if fl.file != nil {
		return nil
	}
	file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	fl.file = file
	return nil
}

// Query implements Logger by scanning the file. Malformed lines are skipped.
func (fl *FileLogger) Query(options QueryOptions) (QueryResult, error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	f, err := os.Open(fl.path)
	if err != nil {
		if os.IsNotExist(err) {
			return QueryResult{}, nil
		}
		return QueryResult{}, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	var matched []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if options.matches(event) {
			matched = append(matched, event)
		}
	}
	if err := scanner.Err(); err != nil {
		return QueryResult{}, fmt.Errorf("failed to read audit log: %w", err)
	}

	result := QueryResult{TotalCount: len(matched), Events: matched}
	if options.Limit > 0 && len(matched) > options.Limit {
		result.Events = matched[len(matched)-options.Limit:]
		result.HasMore = true
	}
	return result, nil
}

// Close implements Logger. The logger reopens the file on the next Log.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file == nil {
		return nil
	}
	err := fl.file.Close()
	fl.file = nil
	return err
}
