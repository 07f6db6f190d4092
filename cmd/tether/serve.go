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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/tether/internal/agent"
	"github.com/tombee/tether/internal/config"
	"github.com/tombee/tether/internal/debug"
	"github.com/tombee/tether/internal/lifecycle"
	tetherlog "github.com/tombee/tether/internal/log"
	"github.com/tombee/tether/internal/session"
)

// runServe starts the agent and blocks until the lifecycle manager
// terminates the process. On every normal path the manager calls os.Exit,
// so a non-nil return here means startup itself failed.
func runServe(cmd *cobra.Command, flags serveFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg, flags)

	logger := tetherlog.New(&tetherlog.Config{
		Level:  cfg.Log.Level,
		Format: tetherlog.Format(cfg.Log.Format),
	})
	slog.SetDefault(logger)

	audit := lifecycle.NewAuditLogger(cfg.Debug.AuditLog)
	if err := audit.LogStarted(version); err != nil {
		logger.Warn("Failed to write audit record", tetherlog.Error(err))
	}

	registry := session.NewRegistry(session.RegistryConfig{
		AllowedCommands: cfg.Agent.AllowedCommands,
		MaxSessions:     cfg.Agent.MaxSessions,
		LogDir:          cfg.Agent.SessionLogDir,
		Logger:          logger,
	})

	// The debug server is created lazily below; the cleanup closure sees
	// it through this variable so shutdown stops whatever actually runs.
	var debugSrv *debug.Server

	mgr := lifecycle.NewManager(lifecycle.ManagerConfig{
		Cleanup: func(ctx context.Context) error {
			if debugSrv != nil {
				stopCtx, cancel := context.WithTimeout(ctx, time.Second)
				defer cancel()
				if err := debugSrv.Stop(stopCtx); err != nil {
					logger.Warn("Failed to stop debug server", tetherlog.Error(err))
				}
			}
			return registry.CloseAll(ctx)
		},
		Logger:          logger,
		Audit:           audit,
		LightInterval:   cfg.Watch.LightInterval,
		HeavyCheckEvery: cfg.Watch.HeavyCheckEvery,
		CleanupTimeout:  cfg.Watch.CleanupTimeout,
	})

	srv, err := agent.NewServer(agent.ServerConfig{
		Name:          cfg.Agent.Name,
		Version:       version,
		Registry:      registry,
		Lifecycle:     mgr,
		Logger:        logger,
		ToolRateLimit: cfg.Agent.ToolRateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent server: %w", err)
	}

	bridge := lifecycle.NewSignalBridge(mgr, logger, lifecycle.DefaultSignalTriggers())
	bridge.Start()
	defer bridge.Stop()

	if cfg.Debug.Addr != "" {
		debugSrv = debug.NewServer(debug.ServerConfig{
			Addr:     cfg.Debug.Addr,
			Registry: registry,
			Version:  version,
			Logger:   logger,
		})
		if err := debugSrv.Start(); err != nil {
			debugSrv = nil
			// Classification decides the outcome: an occupied port is
			// fatal, any other bind failure is logged and serving
			// continues without the debug listener.
			mgr.HandleFault(err)
		}
	}

	// Arm the liveness watcher only after our own startup is done, so a
	// slow start is never mistaken for a dead host.
	mgr.EnsureParentWatcher()

	if err := srv.Run(cmd.Context()); err != nil {
		// Serve errors carry the serve-failed sentinel, so this is a
		// fatal fault and the manager exits the process.
		mgr.HandleFault(err)
		return err
	}

	// Run returning nil means the host closed our stdin or the
	// context was cancelled.
	mgr.Shutdown(0, lifecycle.ReasonStdinEnded)
	return nil
}

// applyFlagOverrides layers command-line flags over the loaded configuration.
func applyFlagOverrides(cfg *config.Config, flags serveFlags) {
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	if flags.debugAddr != "" {
		cfg.Debug.Addr = flags.debugAddr
	}
	if flags.auditLog != "" {
		cfg.Debug.AuditLog = flags.auditLog
	}
}
