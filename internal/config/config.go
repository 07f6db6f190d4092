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

// Package config loads the tether agent configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config represents the complete tether configuration.
type Config struct {
	Log   LogConfig   `yaml:"log"`
	Agent AgentConfig `yaml:"agent"`
	Watch WatchConfig `yaml:"watch"`
	Debug DebugConfig `yaml:"debug"`
}

// LogConfig configures diagnostic logging (always to stderr).
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level,omitempty"`

	// Format is the output format (json, text).
	Format string `yaml:"format,omitempty"`
}

// AgentConfig configures the hosted MCP server and its sessions.
type AgentConfig struct {
	// Name is the advertised server name.
	Name string `yaml:"name,omitempty"`

	// AllowedCommands restricts which executables sessions may launch.
	// Empty means any.
	// Environment: TETHER_ALLOWED_COMMANDS (comma separated)
	AllowedCommands []string `yaml:"allowed_commands,omitempty"`

	// MaxSessions limits concurrent driven-application sessions.
	// Zero means unlimited.
	// Environment: TETHER_MAX_SESSIONS
	MaxSessions int `yaml:"max_sessions,omitempty"`

	// SessionLogDir is where per-session output files are written.
	SessionLogDir string `yaml:"session_log_dir,omitempty"`

	// ToolRateLimit is the sustained tool-call rate per second.
	// Zero disables rate limiting.
	ToolRateLimit float64 `yaml:"tool_rate_limit,omitempty"`
}

// WatchConfig configures the liveness watcher.
type WatchConfig struct {
	// LightInterval is the watcher tick period. Default: 2s.
	LightInterval time.Duration `yaml:"light_interval,omitempty"`

	// HeavyCheckEvery is how many light ticks pass between grandparent
	// checks. Default: 5.
	HeavyCheckEvery int `yaml:"heavy_check_every,omitempty"`

	// CleanupTimeout bounds the cleanup hook during shutdown. Default: 5s.
	CleanupTimeout time.Duration `yaml:"cleanup_timeout,omitempty"`
}

// DebugConfig configures the optional local debug listener and audit log.
type DebugConfig struct {
	// Addr is the listen address for /healthz and /metrics. Empty
	// disables the listener.
	// Environment: TETHER_DEBUG_ADDR
	Addr string `yaml:"addr,omitempty"`

	// AuditLog is the path of the lifecycle audit file. Empty disables
	// audit logging.
	// Environment: TETHER_AUDIT_LOG
	AuditLog string `yaml:"audit_log,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Agent: AgentConfig{
			Name:          "tether",
			ToolRateLimit: 10,
		},
		Watch: WatchConfig{
			LightInterval:   2 * time.Second,
			HeavyCheckEvery: 5,
			CleanupTimeout:  5 * time.Second,
		},
	}
}

// Load reads the configuration from path. An empty path selects
// $TETHER_CONFIG, then the XDG config file; a missing file is not an error
// and yields defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("TETHER_CONFIG")
	}
	if path == "" {
		if xdgPath, err := ConfigPath(); err == nil {
			path = xdgPath
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// No file: defaults apply.
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TETHER_ALLOWED_COMMANDS"); v != "" {
		parts := strings.Split(v, ",")
		cmds := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cmds = append(cmds, p)
			}
		}
		cfg.Agent.AllowedCommands = cmds
	}

	if v := os.Getenv("TETHER_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxSessions = n
		}
	}

	if v := os.Getenv("TETHER_DEBUG_ADDR"); v != "" {
		cfg.Debug.Addr = v
	}

	if v := os.Getenv("TETHER_AUDIT_LOG"); v != "" {
		cfg.Debug.AuditLog = v
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Watch.LightInterval < 0 {
		return fmt.Errorf("%w: watch.light_interval must not be negative", ErrInvalidConfig)
	}
	if c.Watch.HeavyCheckEvery < 0 {
		return fmt.Errorf("%w: watch.heavy_check_every must not be negative", ErrInvalidConfig)
	}
	if c.Watch.CleanupTimeout < 0 {
		return fmt.Errorf("%w: watch.cleanup_timeout must not be negative", ErrInvalidConfig)
	}
	if c.Agent.MaxSessions < 0 {
		return fmt.Errorf("%w: agent.max_sessions must not be negative", ErrInvalidConfig)
	}
	if c.Agent.ToolRateLimit < 0 {
		return fmt.Errorf("%w: agent.tool_rate_limit must not be negative", ErrInvalidConfig)
	}

	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: log.format must be json or text", ErrInvalidConfig)
	}

	return nil
}
