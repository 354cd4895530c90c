// logger.go: Audit event types and backend selection
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package audit records key lifecycle events (generate, load, dump, zero,
// wipe) so that operators can reconstruct what happened to key material.
// Events never carry key bytes, only fingerprints and paths.
package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConfigType selects the audit backend.
type ConfigType string

const (
	FileAuditType ConfigType = "file"
	NoOp          ConfigType = ""
)

// Config defines audit logging configuration.
type Config struct {
	Enabled bool                   `json:"enabled" mapstructure:"enabled"`
	Type    ConfigType             `json:"type" mapstructure:"type"`
	Options map[string]interface{} `json:"options" mapstructure:"options"`
}

// Logger is implemented by every audit backend.
type Logger interface {
	Log(action string, success bool, metadata map[string]interface{}) error
	Query(options QueryOptions) (QueryResult, error)
	Close() error
}

// Event is one audit record, stored as a JSON line.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// QueryOptions filters audit events. Zero values match everything.
type QueryOptions struct {
	Since   *time.Time
	Action  string
	Success *bool
	Limit   int
}

// QueryResult holds matching events, newest last.
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"`
	HasMore    bool    `json:"has_more"`
}

// NewLogger creates the logger selected by config. A nil or disabled config
// yields a no-op logger.
func NewLogger(config *Config) (Logger, error) {
	if config == nil || !config.Enabled {
		return &NoOpLogger{}, nil
	}

	switch config.Type {
	case FileAuditType:
		return NewFileLogger(config)
	case NoOp:
		return &NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown audit provider: %s", config.Type)
	}
}

// parseOptions decodes the free-form options map into target.
func parseOptions(options map[string]interface{}, target interface{}) error {
	if len(options) == 0 {
		return nil
	}

	jsonData, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	if err = json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal options: %w", err)
	}
	return nil
}

func (o QueryOptions) matches(e Event) bool {
	if o.Since != nil && e.Timestamp.Before(*o.Since) {
		return false
	}
	if o.Action != "" && o.Action != e.Action {
		return false
	}
	if o.Success != nil && *o.Success != e.Success {
		return false
	}
	return true
}
