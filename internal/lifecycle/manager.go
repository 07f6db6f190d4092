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
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	tetherlog "github.com/tombee/tether/internal/log"
)

// Shutdown reasons produced by the supervisor's own triggers. The hosted
// server may pass arbitrary reasons of its own.
const (
	// ReasonParentExited is used when the direct parent has been reaped.
	ReasonParentExited = "parent exited"

	// ReasonStdinDisconnected is used when the fd 0 probe fails.
	ReasonStdinDisconnected = "stdin disconnected"

	// ReasonParentOrphaned is used when the parent's own parent is gone.
	ReasonParentOrphaned = "parent orphaned"

	// ReasonStdinEnded is used when the RPC transport reads EOF.
	ReasonStdinEnded = "stdin ended"

	// ReasonParentDisconnect is used for a host disconnect notification.
	ReasonParentDisconnect = "parent disconnect"

	// ReasonFatalException is used when a fault is classified as fatal.
	ReasonFatalException = "fatal exception"
)

// Default timing for the supervisor. Overridable through ManagerConfig,
// chiefly so tests can run against a fake clock.
const (
	// DefaultLightInterval is the liveness watcher tick period.
	DefaultLightInterval = 2 * time.Second

	// DefaultHeavyCheckEvery is how many light ticks pass between heavy
	// (grandparent) checks.
	DefaultHeavyCheckEvery = 5

	// DefaultCleanupTimeout bounds the cleanup hook during shutdown.
	DefaultCleanupTimeout = 5 * time.Second

	// DefaultFlushDelay is the pause before process exit that lets
	// buffered diagnostic output drain.
	DefaultFlushDelay = 100 * time.Millisecond
)

// CleanupFunc releases the hosted server's resources during shutdown. It may
// block or fail; the Manager abandons it once the cleanup deadline fires, so
// it must be safe to leave mid-flight.
type CleanupFunc func(ctx context.Context) error

// ManagerConfig configures a Manager. Only Cleanup is required in practice;
// zero values select production defaults.
type ManagerConfig struct {
	// Cleanup is invoked at most once during shutdown.
	Cleanup CleanupFunc

	// OnShutdown, if set, is called synchronously before cleanup begins.
	// It lets the hosted server drop its own references first.
	OnShutdown func(code int, reason string)

	// Logger receives supervisor log output. Defaults to slog.Default.
	Logger *slog.Logger

	// Audit, if set, records lifecycle events to the audit log.
	Audit *AuditLogger

	// Inspector answers process-liveness questions. Defaults to the OS.
	Inspector ProcessInspector

	// Clock drives the watcher and shutdown delays. Defaults to wall time.
	Clock Clock

	// Exit terminates the process. Defaults to os.Exit; tests inject a
	// recorder.
	Exit func(code int)

	// LightInterval, HeavyCheckEvery, CleanupTimeout and FlushDelay
	// override the package defaults when non-zero.
	LightInterval   time.Duration
	HeavyCheckEvery int
	CleanupTimeout  time.Duration
	FlushDelay      time.Duration
}

// Manager owns the shutdown state machine: Idle -> Armed -> ShuttingDown ->
// Terminated. All shutdown triggers funnel through Shutdown, which honors
// exactly one. The shuttingDown flag never reverts once set.
//
// Triggers arrive from multiple goroutines (watcher ticks, signal bridge,
// direct calls from the hosted server), so the flag and the watcher handle
// are guarded by a mutex.
type Manager struct {
	mu           sync.Mutex
	shuttingDown bool
	watcher      *watcher

	cleanup    CleanupFunc
	onShutdown func(code int, reason string)
	logger     *slog.Logger
	audit      *AuditLogger
	inspector  ProcessInspector
	clock      Clock
	exit       func(code int)

	lightInterval  time.Duration
	heavyEvery     int
	cleanupTimeout time.Duration
	flushDelay     time.Duration
}

// NewManager creates a lifecycle manager. It does nothing until armed or
// triggered; construct it early and call EnsureParentWatcher once the hosted
// server has finished its own startup.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		cleanup:        cfg.Cleanup,
		onShutdown:     cfg.OnShutdown,
		logger:         cfg.Logger,
		audit:          cfg.Audit,
		inspector:      cfg.Inspector,
		clock:          cfg.Clock,
		exit:           cfg.Exit,
		lightInterval:  cfg.LightInterval,
		heavyEvery:     cfg.HeavyCheckEvery,
		cleanupTimeout: cfg.CleanupTimeout,
		flushDelay:     cfg.FlushDelay,
	}

	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = tetherlog.WithComponent(m.logger, "lifecycle")
	if m.inspector == nil {
		m.inspector = NewOSInspector()
	}
	if m.clock == nil {
		m.clock = NewRealClock()
	}
	if m.exit == nil {
		m.exit = os.Exit
	}
	if m.lightInterval <= 0 {
		m.lightInterval = DefaultLightInterval
	}
	if m.heavyEvery <= 0 {
		m.heavyEvery = DefaultHeavyCheckEvery
	}
	if m.cleanupTimeout <= 0 {
		m.cleanupTimeout = DefaultCleanupTimeout
	}
	if m.flushDelay <= 0 {
		m.flushDelay = DefaultFlushDelay
	}

	return m
}

// ShuttingDown reports whether shutdown has begun.
func (m *Manager) ShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shuttingDown
}

// EnsureParentWatcher arms the liveness watcher. Arming is idempotent: if a
// watcher is already running, or shutdown has begun, the call is a no-op.
func (m *Manager) EnsureParentWatcher() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watcher != nil || m.shuttingDown {
		return
	}

	m.watcher = newWatcher(m)
	go m.watcher.run()

	m.logger.Debug("Parent watcher armed",
		slog.Duration("light_interval", m.lightInterval),
		slog.Int("heavy_check_every", m.heavyEvery))
	m.audit.LogArmed(m.lightInterval)
}

// StopParentWatcher cancels the liveness watcher without starting shutdown.
// Used when the hosted server wants to silence the watcher while staying up.
func (m *Manager) StopParentWatcher() {
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	if w != nil {
		w.cancel()
		<-w.done
		m.logger.Debug("Parent watcher stopped")
	}
}

// Shutdown drives the termination sequence at most once. The first caller
// wins; every later call returns immediately with no side effects. The
// process always exits with code, regardless of what cleanup does.
func (m *Manager) Shutdown(code int, reason string) {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		shutdownTriggers.WithLabelValues("suppressed").Inc()
		return
	}
	m.shuttingDown = true
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	shutdownTriggers.WithLabelValues("honored").Inc()

	if reason != "" {
		m.logger.Info("Shutting down",
			slog.String(tetherlog.ReasonKey, reason),
			slog.Int(tetherlog.ExitCodeKey, code))
	}
	m.audit.LogShutdown(code, reason)

	if w != nil {
		// Do not wait for the watcher goroutine: the trigger may be a
		// watcher tick, in which case it is the current goroutine.
		w.cancel()
	}

	if m.onShutdown != nil {
		m.onShutdown(code, reason)
	}

	m.runCleanup()

	m.clock.Sleep(m.flushDelay)
	m.audit.LogExit(code)
	m.exit(code)
}

// runCleanup races the cleanup hook against the cleanup deadline. The loser
// is abandoned: a hung cleanup must never prevent process exit, and its
// outcome never changes the exit code.
func (m *Manager) runCleanup() {
	if m.cleanup == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cleanupTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("cleanup panicked: %v", r)
			}
		}()
		done <- m.cleanup(ctx)
	}()

	select {
	case err := <-done:
		cleanupDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			m.logger.Warn("Cleanup failed", tetherlog.Error(err))
		} else {
			m.logger.Debug("Cleanup complete",
				slog.Int64(tetherlog.DurationKey, time.Since(start).Milliseconds()))
		}
	case <-ctx.Done():
		cleanupDuration.Observe(time.Since(start).Seconds())
		m.logger.Warn("Cleanup timed out, exiting anyway",
			slog.Duration("timeout", m.cleanupTimeout))
	}
}

// HandleFault classifies a caught error. Fatal faults shut the process down
// with exit code 1; everything else is logged and the agent keeps serving.
// A failure inside a single automation command must not terminate an
// otherwise healthy server.
func (m *Manager) HandleFault(err error) {
	if err == nil {
		return
	}

	if IsFatal(err) {
		m.logger.Error("Fatal fault", tetherlog.Error(err))
		m.Shutdown(1, ReasonFatalException)
		return
	}

	m.logger.Error("Recovered from non-fatal fault", tetherlog.Error(err))
}
