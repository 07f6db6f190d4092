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

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	tetherlog "github.com/tombee/tether/internal/log"
	"github.com/tombee/tether/internal/session"
)

// registerTools registers all tether tools with the MCP server.
func (s *Server) registerTools() {
	// Tool: tether_launch
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "tether_launch",
		Description: "Launch a driven application (browser, Electron app) in a new session. Returns the session ID used by the other tools.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"command": map[string]interface{}{
					"type":        "string",
					"description": "Executable to launch",
				},
				"args": map[string]interface{}{
					"type":        "array",
					"description": "Command-line arguments",
					"items":       map[string]interface{}{"type": "string"},
				},
			},
			Required: []string{"command"},
		},
	}, s.handleLaunch)

	// Tool: tether_list
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "tether_list",
		Description: "List all driven-application sessions, including ones whose process has already exited.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleList)

	// Tool: tether_close
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "tether_close",
		Description: "Close a driven-application session, terminating its whole process group.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session to close",
				},
			},
			Required: []string{"session_id"},
		},
	}, s.handleClose)

	// Tool: tether_status
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "tether_status",
		Description: "Report agent health: version, session count, and shutdown state.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, s.handleStatus)
}

// LaunchToolResult is the tether_launch response payload.
type LaunchToolResult struct {
	SessionID string `json:"session_id"`
	PID       int    `json:"pid"`
}

func (s *Server) handleLaunch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.allowCall() {
		return errorResponse("Rate limit exceeded. Please try again later."), nil
	}

	command, err := request.RequireString("command")
	if err != nil {
		return errorResponse(err.Error()), nil
	}

	var args []string
	if raw := request.GetArguments(); raw != nil {
		if list, ok := raw["args"].([]interface{}); ok {
			for _, item := range list {
				if str, ok := item.(string); ok {
					args = append(args, str)
				}
			}
		}
	}

	call := &tetherlog.ToolCall{Tool: "tether_launch"}
	tetherlog.LogToolCall(s.logger, call)
	start := time.Now()

	sess, err := s.registry.Launch(ctx, session.LaunchSpec{Command: command, Args: args})
	if err != nil {
		// A launch failure is a per-command fault: logged, surfaced
		// in-band, and the server stays up.
		tetherlog.LogToolResult(s.logger, call, &tetherlog.ToolResult{
			Error: err.Error(), Duration: time.Since(start),
		})
		return errorResponse(fmt.Sprintf("Failed to launch %s: %v", command, err)), nil
	}

	tetherlog.LogToolResult(s.logger, call, &tetherlog.ToolResult{
		Success: true, Duration: time.Since(start),
	})

	return jsonResponse(LaunchToolResult{SessionID: sess.ID, PID: sess.PID()})
}

// SessionInfo is one entry in the tether_list response payload.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Command   string    `json:"command"`
	PID       int       `json:"pid"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.allowCall() {
		return errorResponse("Rate limit exceeded. Please try again later."), nil
	}

	sessions := s.registry.List()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, SessionInfo{
			SessionID: sess.ID,
			Command:   sess.Command,
			PID:       sess.PID(),
			Running:   sess.Running(),
			StartedAt: sess.StartedAt,
		})
	}

	return jsonResponse(infos)
}

func (s *Server) handleClose(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.allowCall() {
		return errorResponse("Rate limit exceeded. Please try again later."), nil
	}

	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return errorResponse(err.Error()), nil
	}

	call := &tetherlog.ToolCall{Tool: "tether_close", SessionID: sessionID}
	tetherlog.LogToolCall(s.logger, call)
	start := time.Now()

	if err := s.registry.Close(ctx, sessionID); err != nil {
		tetherlog.LogToolResult(s.logger, call, &tetherlog.ToolResult{
			Error: err.Error(), Duration: time.Since(start),
		})
		return errorResponse(fmt.Sprintf("Failed to close session: %v", err)), nil
	}

	tetherlog.LogToolResult(s.logger, call, &tetherlog.ToolResult{
		Success: true, Duration: time.Since(start),
	})

	return textResponse(fmt.Sprintf("Session %s closed", sessionID)), nil
}

// StatusToolResult is the tether_status response payload.
type StatusToolResult struct {
	Version      string `json:"version"`
	Sessions     int    `json:"sessions"`
	ShuttingDown bool   `json:"shutting_down"`
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.allowCall() {
		return errorResponse("Rate limit exceeded. Please try again later."), nil
	}

	status := StatusToolResult{
		Version:  s.version,
		Sessions: s.registry.Count(),
	}
	if s.lifecycle != nil {
		status.ShuttingDown = s.lifecycle.ShuttingDown()
	}

	return jsonResponse(status)
}

// errorResponse creates an error tool result.
func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

// textResponse creates a plain-text tool result.
func textResponse(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

// jsonResponse marshals payload into a text tool result.
func jsonResponse(payload interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errorResponse(fmt.Sprintf("Failed to marshal result: %v", err)), nil
	}
	return textResponse(string(data)), nil
}
