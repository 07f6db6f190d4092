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

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	tetherlog "github.com/tombee/tether/internal/log"
)

var (
	// ErrSessionNotFound is returned for an unknown session ID.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrSessionLimit is returned when the registry is full.
	ErrSessionLimit = errors.New("session: session limit reached")

	// ErrCommandNotAllowed is returned when the executable is not on the
	// configured allow-list.
	ErrCommandNotAllowed = errors.New("session: command not allowed")

	// ErrRegistryClosed is returned for launches after CloseAll has run.
	ErrRegistryClosed = errors.New("session: registry closed")
)

// RegistryConfig configures a session registry.
type RegistryConfig struct {
	// AllowedCommands restricts which executables may be launched. Empty
	// means any.
	AllowedCommands []string

	// MaxSessions limits concurrent sessions. Zero means unlimited.
	MaxSessions int

	// LogDir is where per-session output files are written. Defaults to
	// the system temp directory.
	LogDir string

	// Logger receives registry log output. Defaults to slog.Default.
	Logger *slog.Logger
}

// LaunchSpec describes a driven application to start.
type LaunchSpec struct {
	Command string
	Args    []string
	Env     []string
}

// Registry tracks every live driven-application session. Its CloseAll method
// is the cleanup capability handed to the lifecycle manager.
type Registry struct {
	allowed     []string
	maxSessions int
	logDir      string
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	reserved int
	closed   bool
}

// NewRegistry creates an empty session registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logDir := cfg.LogDir
	if logDir == "" {
		logDir = filepath.Join(os.TempDir(), "tether")
	}

	return &Registry{
		allowed:     cfg.AllowedCommands,
		maxSessions: cfg.MaxSessions,
		logDir:      logDir,
		logger:      tetherlog.WithComponent(logger, "session"),
		sessions:    make(map[string]*Session),
	}
}

// Launch starts a driven application in its own process group and registers
// it. The child's stdout and stderr go to a per-session log file; the
// agent's own stdio stays clean for the RPC protocol.
func (r *Registry) Launch(ctx context.Context, spec LaunchSpec) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !r.commandAllowed(spec.Command) {
		return nil, fmt.Errorf("%w: %s", ErrCommandNotAllowed, spec.Command)
	}

	// Closed-check, cap-check and slot reservation are one atomic step.
	// Reserved slots count toward the cap until the launch either
	// registers or fails, so concurrent launches cannot overshoot it.
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if r.maxSessions > 0 && len(r.sessions)+r.reserved >= r.maxSessions {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrSessionLimit, r.maxSessions)
	}
	r.reserved++
	r.mu.Unlock()

	id := uuid.New().String()

	logFile, err := r.openSessionLog(id)
	if err != nil {
		r.releaseSlot()
		return nil, err
	}
	defer logFile.Close()

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// Own process group: lets Close kill the whole tree, and keeps host
	// signals aimed at the agent from hitting the children directly.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		r.releaseSlot()
		launchFailures.Inc()
		return nil, fmt.Errorf("failed to launch %s: %w", spec.Command, err)
	}

	s := &Session{
		ID:        id,
		Command:   spec.Command,
		Args:      spec.Args,
		StartedAt: time.Now(),
		cmd:       cmd,
		logger:    tetherlog.WithSession(r.logger, id),
		done:      make(chan struct{}),
	}
	go s.reap()

	r.mu.Lock()
	r.reserved--
	if r.closed {
		// CloseAll ran while we were spawning; its snapshot cannot have
		// included this session, so it is ours to terminate.
		r.mu.Unlock()
		if cerr := s.Close(ctx); cerr != nil {
			s.logger.Warn("Failed to close session launched during shutdown",
				tetherlog.Error(cerr))
		}
		return nil, ErrRegistryClosed
	}
	r.sessions[id] = s
	r.mu.Unlock()

	sessionsLaunched.Inc()
	sessionsActive.Inc()
	s.logger.Info("Session launched",
		slog.String("command", spec.Command),
		slog.Int(tetherlog.PIDKey, s.PID()))

	return s, nil
}

// Get returns the session with the given ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// List returns all registered sessions, including ones whose process has
// already exited on its own.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Close terminates one session and removes it from the registry.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	sessionsActive.Dec()
	return s.Close(ctx)
}

// CloseAll terminates every session and marks the registry closed, so any
// launch still in flight fails instead of leaving a child alive past agent
// exit. This is the cleanup hook run during agent shutdown: it must make
// progress even when individual sessions hang, so sessions are closed
// concurrently and errors are joined, not short-circuited.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	if len(sessions) == 0 {
		return nil
	}

	r.logger.Info("Closing all sessions", slog.Int("count", len(sessions)))

	errCh := make(chan error, len(sessions))
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			sessionsActive.Dec()
			errCh <- s.Close(ctx)
		}(s)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// releaseSlot returns a reserved launch slot after a failed spawn.
func (r *Registry) releaseSlot() {
	r.mu.Lock()
	r.reserved--
	r.mu.Unlock()
}

func (r *Registry) commandAllowed(command string) bool {
	if len(r.allowed) == 0 {
		return true
	}
	return slices.Contains(r.allowed, command) ||
		slices.Contains(r.allowed, filepath.Base(command))
}

func (r *Registry) openSessionLog(id string) (*os.File, error) {
	if err := os.MkdirAll(r.logDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session log directory: %w", err)
	}

	path := filepath.Join(r.logDir, id+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	return f, nil
}
