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
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/tombee/tether/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T) *session.Registry {
	t.Helper()
	return session.NewRegistry(session.RegistryConfig{
		AllowedCommands: []string{"sleep", "sh", "true"},
		LogDir:          t.TempDir(),
		Logger:          discardLogger(),
	})
}

func TestNewServer_ValidConfig(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Name:     "test-agent",
		Version:  "1.2.3",
		Registry: testRegistry(t),
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	if srv.name != "test-agent" {
		t.Errorf("expected name 'test-agent', got %s", srv.name)
	}
	if srv.version != "1.2.3" {
		t.Errorf("expected version '1.2.3', got %s", srv.version)
	}
	if srv.logger == nil {
		t.Error("expected logger to be set")
	}
	if srv.limiter != nil {
		t.Error("expected no rate limiter when ToolRateLimit is zero")
	}
}

func TestNewServer_Defaults(t *testing.T) {
	srv, err := NewServer(ServerConfig{Registry: testRegistry(t)})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	if srv.name != "tether" {
		t.Errorf("expected default name 'tether', got %s", srv.name)
	}
	if srv.version != "dev" {
		t.Errorf("expected default version 'dev', got %s", srv.version)
	}
}

func TestNewServer_RequiresRegistry(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Fatal("expected error for missing registry")
	}
}

func TestNewServer_RateLimiter(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Registry:      testRegistry(t),
		Logger:        discardLogger(),
		ToolRateLimit: 0.5,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	if srv.limiter == nil {
		t.Fatal("expected rate limiter to be configured")
	}
	if srv.limiter.Burst() != 1 {
		t.Errorf("expected burst floor of 1, got %d", srv.limiter.Burst())
	}
	if !srv.allowCall() {
		t.Error("expected first call within burst to be allowed")
	}
	if srv.allowCall() {
		t.Error("expected second call to be rate limited")
	}
}

func TestRun_StdinEOFReturnsNil(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Registry: testRegistry(t),
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	srv.stdin = strings.NewReader("")
	srv.stdout = &bytes.Buffer{}

	if err := srv.Run(context.Background()); err != nil {
		t.Errorf("expected nil on stdin EOF, got %v", err)
	}
}

func TestRun_ContextCancelStopsServer(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Registry: testRegistry(t),
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	// A pipe that never delivers input keeps the transport blocked on
	// reads, so only cancellation can unblock Run.
	pr, pw := io.Pipe()
	defer pw.Close()
	srv.stdin = pr
	srv.stdout = &bytes.Buffer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestAllowCall_Unlimited(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Registry: testRegistry(t),
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	for i := 0; i < 100; i++ {
		if !srv.allowCall() {
			t.Fatalf("call %d rejected with limiting disabled", i)
		}
	}
}
