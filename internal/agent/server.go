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

// Package agent implements the hosted MCP server: the stdio RPC surface
// through which the host drives application sessions. The lifecycle
// supervisor consumes Cleanup from this package and is called back through
// the manager when the transport reports a fatal fault.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"

	"github.com/tombee/tether/internal/lifecycle"
	tetherlog "github.com/tombee/tether/internal/log"
	"github.com/tombee/tether/internal/session"
)

// ServerConfig configures the agent's MCP server.
type ServerConfig struct {
	// Name is the advertised server name (default: "tether").
	Name string

	// Version is the agent version.
	Version string

	// Registry manages the driven-application sessions behind the tools.
	Registry *session.Registry

	// Lifecycle receives direct shutdown requests from the RPC layer.
	Lifecycle *lifecycle.Manager

	// Logger receives server log output. Defaults to slog.Default.
	Logger *slog.Logger

	// ToolRateLimit is the sustained tool-call rate per second, with a
	// burst of twice that. Zero disables limiting.
	ToolRateLimit float64
}

// Server wraps the MCP server and exposes session tools.
type Server struct {
	mcpServer *server.MCPServer
	registry  *session.Registry
	lifecycle *lifecycle.Manager
	limiter   *rate.Limiter
	logger    *slog.Logger
	name      string
	version   string

	// stdin and stdout default to the process streams; tests substitute
	// buffers to drive the transport without real pipes.
	stdin  io.Reader
	stdout io.Writer
}

// NewServer creates the agent server and registers its tools.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("agent: registry is required")
	}
	if cfg.Name == "" {
		cfg.Name = "tether"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.ToolRateLimit > 0 {
		burst := int(cfg.ToolRateLimit * 2)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.ToolRateLimit), burst)
	}

	s := &Server{
		mcpServer: server.NewMCPServer(cfg.Name, cfg.Version),
		registry:  cfg.Registry,
		lifecycle: cfg.Lifecycle,
		limiter:   limiter,
		logger:    tetherlog.WithComponent(logger, "agent"),
		name:      cfg.Name,
		version:   cfg.Version,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
	}

	s.registerTools()

	return s, nil
}

// Run serves the MCP protocol over stdio and blocks until the transport
// ends. A nil return means the host closed our stdin or the context was
// cancelled; the caller maps that to a graceful shutdown. Errors are
// wrapped with the serve-failed sentinel so fault classification does not
// depend on message text.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server",
		slog.String("name", s.name),
		slog.String("version", s.version))

	stdio := server.NewStdioServer(s.mcpServer)
	// Transport diagnostics go to our structured logger, never stdout.
	stdio.SetErrorLogger(log.New(logWriter{s.logger}, "", 0))

	err := stdio.Listen(ctx, s.stdin, s.stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", lifecycle.ErrServeFailed, err)
	}

	return nil
}

// logWriter adapts the transport's log.Logger output onto slog.
type logWriter struct {
	logger *slog.Logger
}

func (w logWriter) Write(p []byte) (int, error) {
	w.logger.Warn(strings.TrimSpace(string(p)))
	return len(p), nil
}

// Cleanup releases every driven-application session. This is the cleanup
// capability handed to the lifecycle manager; it must tolerate being
// abandoned when the shutdown deadline fires.
func (s *Server) Cleanup(ctx context.Context) error {
	return s.registry.CloseAll(ctx)
}

// allowCall applies the tool-call rate limit.
func (s *Server) allowCall() bool {
	return s.limiter == nil || s.limiter.Allow()
}
