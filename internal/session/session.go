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

// Package session manages driven application processes (browsers, Electron
// apps) spawned on behalf of the host. Every child runs in its own process
// group so the whole tree can be terminated when the agent shuts down.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	tetherlog "github.com/tombee/tether/internal/log"
)

// ErrShutdownTimeout is returned when the child doesn't exit in time.
var ErrShutdownTimeout = errors.New("session: shutdown timeout exceeded")

// Session is one running driven-application process.
type Session struct {
	// ID uniquely identifies the session.
	ID string

	// Command is the executable being driven.
	Command string

	// Args are the command-line arguments.
	Args []string

	// StartedAt is when the process was launched.
	StartedAt time.Time

	cmd    *exec.Cmd
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	waitErr error
	done    chan struct{}
}

// PID returns the process ID of the session's root process.
func (s *Session) PID() int {
	return s.cmd.Process.Pid
}

// Running reports whether the session's root process is still alive.
func (s *Session) Running() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// reap waits for the process and records its outcome. Exit errors from a
// driven application are logged and go no further: a crashed browser must
// not take down the agent.
func (s *Session) reap() {
	err := s.cmd.Wait()

	s.mu.Lock()
	s.waitErr = err
	s.mu.Unlock()
	close(s.done)

	if err != nil {
		s.logger.Warn("Driven process exited with error", tetherlog.Error(err))
	} else {
		s.logger.Debug("Driven process exited")
	}
}

// Close terminates the session's process group: SIGTERM first, then SIGKILL
// if it does not exit within the grace period or the context deadline.
// Closing an already-closed session is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil // already exited on its own
	default:
	}

	pgid := -s.cmd.Process.Pid

	// Signal the whole group so grandchildren die too.
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to send SIGTERM to session %s: %w", s.ID, err)
	}

	if s.waitExit(ctx, defaultTermGrace) == nil {
		return nil
	}

	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to send SIGKILL to session %s: %w", s.ID, err)
	}

	if err := s.waitExit(ctx, defaultKillGrace); err != nil {
		return fmt.Errorf("session %s did not die after SIGKILL: %w", s.ID, err)
	}

	return nil
}

// waitExit waits for process exit up to grace or the context deadline.
func (s *Session) waitExit(ctx context.Context, grace time.Duration) error {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-s.done:
		return nil
	case <-timer.C:
		return ErrShutdownTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

const (
	// defaultTermGrace is how long a session gets to exit after SIGTERM.
	defaultTermGrace = 2 * time.Second

	// defaultKillGrace is how long SIGKILL gets to take effect.
	defaultKillGrace = 1 * time.Second
)

// IsProcessRunning checks if a process with the given PID exists.
func IsProcessRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds; signal 0 checks existence
	// without delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
