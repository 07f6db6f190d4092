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

package log

import (
	"log/slog"
	"time"
)

// ToolCall represents an incoming RPC tool invocation for logging purposes.
type ToolCall struct {
	// Tool is the name of the invoked tool.
	Tool string

	// SessionID is the driven-application session the call targets, if any.
	SessionID string
}

// ToolResult represents the outcome of a tool invocation for logging purposes.
type ToolResult struct {
	// Success indicates whether the invocation succeeded.
	Success bool

	// Error is the error message if the invocation failed.
	Error string

	// Duration is how long the invocation took.
	Duration time.Duration
}

// LogToolCall logs an incoming tool invocation.
func LogToolCall(logger *slog.Logger, call *ToolCall) {
	attrs := []any{
		EventKey, "tool_call",
		ToolKey, call.Tool,
	}

	if call.SessionID != "" {
		attrs = append(attrs, SessionIDKey, call.SessionID)
	}

	logger.Debug("Tool call received", attrs...)
}

// LogToolResult logs the outcome of a tool invocation.
func LogToolResult(logger *slog.Logger, call *ToolCall, res *ToolResult) {
	attrs := []any{
		EventKey, "tool_result",
		ToolKey, call.Tool,
		"success", res.Success,
		DurationKey, res.Duration.Milliseconds(),
	}

	if res.Error != "" {
		attrs = append(attrs, "error", res.Error)
	}

	if res.Success {
		logger.Debug("Tool call completed", attrs...)
	} else {
		logger.Warn("Tool call failed", attrs...)
	}
}
