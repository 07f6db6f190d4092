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

/*
Package lifecycle supervises the agent process's own lifetime.

The agent is launched as a child of a host application and communicates over
stdio. The host can crash, be killed, or lose its own parent without ever
signalling the agent, which would leave the agent and any driven application
processes running forever. This package detects every such condition within
bounded time and drives an idempotent, deadline-bounded shutdown exactly once.

# Manager

Manager is the shutdown funnel. Every trigger, whether a liveness detection,
a bridged OS signal, or a direct call from the hosted server, lands in
Manager.Shutdown, which honors only the first:

	mgr := lifecycle.NewManager(lifecycle.ManagerConfig{
	    Cleanup: registry.CloseAll,
	    Logger:  logger,
	})
	mgr.EnsureParentWatcher()
	...
	mgr.Shutdown(0, lifecycle.ReasonStdinEnded)

Shutdown races the cleanup hook against a fixed deadline. Whichever settles
first wins; a hung or failing cleanup never prevents process exit, and the
exit code is always the caller's value.

# Liveness watcher

EnsureParentWatcher arms a recurring check loop (idempotent; a second call is
a no-op). Every light tick it verifies the parent PID has not been reaped and
that file descriptor 0 is still open. Every fifth tick it additionally
resolves the parent's own parent, catching the case where an intermediary
launcher was itself orphaned. Any failure to resolve a process identity is
treated as the process being gone.

# Signal bridge

SignalBridge maps OS-delivered events to shutdown requests through a single
trigger table:

	bridge := lifecycle.NewSignalBridge(mgr, logger, lifecycle.DefaultSignalTriggers())
	bridge.Start()

Synthetic events can be injected in tests via Deliver, so the mapping is
exercised without real signals.

# Fault classification

HandleFault decides whether a caught error is fatal. Only a short allow-list
of unrecoverable startup conditions (server failed to start, transport
initialization failed, address already in use) terminates the process, with
exit code 1. Everything else is logged and the server keeps running: an error
while servicing a single automation command must not kill an otherwise
healthy long-lived agent.
*/
package lifecycle
