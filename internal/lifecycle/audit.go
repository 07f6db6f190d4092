// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AuditEvent is one supervisor lifecycle event appended to the audit log.
// The agent usually dies because its host is already gone, so the audit file
// is often the only record of why it exited.
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"` // "started", "armed", "shutdown", "exit"
	PID       int       `json:"pid,omitempty"`
	ExitCode  int       `json:"exit_code,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// AuditLogger appends supervisor events to a JSONL file. A nil *AuditLogger
// is valid and discards every event, so callers never need to guard.
type AuditLogger struct {
	logPath string
}

// NewAuditLogger creates an audit logger writing to logPath.
func NewAuditLogger(logPath string) *AuditLogger {
	return &AuditLogger{logPath: logPath}
}

// LogStarted records agent startup.
func (l *AuditLogger) LogStarted(version string) error {
	return l.writeEvent(AuditEvent{
		Timestamp: time.Now(),
		Event:     "started",
		PID:       os.Getpid(),
		Message:   fmt.Sprintf("Agent started (version: %s)", version),
	})
}

// LogArmed records the liveness watcher being armed.
func (l *AuditLogger) LogArmed(interval time.Duration) error {
	return l.writeEvent(AuditEvent{
		Timestamp: time.Now(),
		Event:     "armed",
		PID:       os.Getpid(),
		Message:   fmt.Sprintf("Parent watcher armed (interval: %v)", interval),
	})
}

// LogShutdown records the winning shutdown trigger.
func (l *AuditLogger) LogShutdown(code int, reason string) error {
	return l.writeEvent(AuditEvent{
		Timestamp: time.Now(),
		Event:     "shutdown",
		PID:       os.Getpid(),
		ExitCode:  code,
		Reason:    reason,
	})
}

// LogExit records the imminent process exit.
func (l *AuditLogger) LogExit(code int) error {
	return l.writeEvent(AuditEvent{
		Timestamp: time.Now(),
		Event:     "exit",
		PID:       os.Getpid(),
		ExitCode:  code,
	})
}

// writeEvent appends an event to the audit file.
func (l *AuditLogger) writeEvent(event AuditEvent) error {
	if l == nil || l.logPath == "" {
		return nil
	}

	logDir := filepath.Dir(l.logPath)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	f, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	return nil
}
