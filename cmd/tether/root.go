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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// serveFlags collects the command-line overrides for the serve command.
type serveFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	debugAddr  string
	auditLog   string
}

func newRootCommand() *cobra.Command {
	var flags serveFlags

	rootCmd := &cobra.Command{
		Use:   "tether",
		Short: "Supervised stdio agent for driving applications",
		Long: `Tether is an automation agent launched as a child process of a host
application. It speaks MCP (Model Context Protocol) over stdio and exposes
tools for launching, listing, and closing driven-application sessions.

The agent supervises its own lifetime: it watches for the host process
disappearing, bridges termination signals, and tears down every session it
launched before exiting. Running tether with no subcommand starts the agent,
which is how hosts are expected to invoke it:

  {
    "mcpServers": {
      "tether": {
        "command": "tether"
      }
    }
  }

All diagnostic output goes to stderr; stdout carries the RPC protocol.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}

	addServeFlags(rootCmd, &flags)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent (explicit form of the default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, flags)
		},
	}
	addServeFlags(serveCmd, &flags)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func addServeFlags(cmd *cobra.Command, flags *serveFlags) {
	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to the configuration file")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Logging verbosity (trace, debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "", "Log output format (json, text)")
	cmd.Flags().StringVar(&flags.debugAddr, "debug-addr", "", "Local address for /healthz and /metrics (empty disables)")
	cmd.Flags().StringVar(&flags.auditLog, "audit-log", "", "Path of the lifecycle audit file (empty disables)")
}

// versionInfo contains version metadata.
type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

func newVersionCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version:   version,
				Commit:    commit,
				BuildDate: buildDate,
			}

			if jsonOut {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal version info: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}

			cmd.Printf("tether version %s\n", info.Version)
			cmd.Printf("  commit:     %s\n", info.Commit)
			cmd.Printf("  build date: %s\n", info.BuildDate)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output version information as JSON")

	return cmd
}
