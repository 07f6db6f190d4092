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

// Package debug exposes an optional localhost HTTP endpoint with health and
// Prometheus metrics. It is off by default: the agent's primary surface is
// stdio, and this listener exists only for operators poking at a live agent.
package debug

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	tetherlog "github.com/tombee/tether/internal/log"
	"github.com/tombee/tether/internal/session"
)

// ServerConfig configures the debug HTTP server.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:9410".
	Addr string

	// Registry supplies the session count for /healthz.
	Registry *session.Registry

	// Version is reported by /healthz.
	Version string

	// Logger receives server log output. Defaults to slog.Default.
	Logger *slog.Logger
}

// Server is a localhost-only HTTP server for health checks and metrics.
type Server struct {
	addr     string
	registry *session.Registry
	version  string
	logger   *slog.Logger
	httpSrv  *http.Server
}

// NewServer creates the debug server. It does not listen until Start.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:     cfg.Addr,
		registry: cfg.Registry,
		version:  cfg.Version,
		logger:   tetherlog.WithComponent(logger, "debug"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Start binds the listener and serves in the background. A bind failure is
// returned to the caller synchronously so it can be classified; an address
// already in use here is a startup fault, not something to retry.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("debug: listen on %s: %w", s.addr, err)
	}

	s.logger.Info("Debug server listening", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Debug server stopped", tetherlog.Error(err))
		}
	}()

	return nil
}

// Stop shuts the server down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}

// handleHealth handles GET /healthz. It reports only coarse state; the
// session details live behind the MCP tools.
func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := healthResponse{Status: "ok", Version: s.version}
	if s.registry != nil {
		resp.Sessions = s.registry.Count()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to write health response", tetherlog.Error(err))
	}
}
