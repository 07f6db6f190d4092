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
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tetherlog "github.com/tombee/tether/internal/log"
)

// SignalTrigger maps one OS-delivered event to a shutdown request.
type SignalTrigger struct {
	Signal   os.Signal
	ExitCode int
	Reason   string
}

// DefaultSignalTriggers returns the full event-to-trigger table. Keeping the
// fan-in in one table makes it auditable and testable in isolation from real
// OS signals.
func DefaultSignalTriggers() []SignalTrigger {
	return []SignalTrigger{
		{Signal: syscall.SIGINT, ExitCode: 0, Reason: "SIGINT"},
		{Signal: syscall.SIGTERM, ExitCode: 0, Reason: "SIGTERM"},
		{Signal: syscall.SIGPIPE, ExitCode: 0, Reason: "SIGPIPE"},
		{Signal: syscall.SIGHUP, ExitCode: 0, Reason: ReasonParentDisconnect},
	}
}

// SignalBridge translates asynchronous OS signals into shutdown requests.
// It performs no cleanup itself; every event funnels into Manager.Shutdown.
type SignalBridge struct {
	mgr      *Manager
	logger   *slog.Logger
	triggers map[os.Signal]SignalTrigger

	ch       chan os.Signal
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSignalBridge builds a bridge from the given trigger table.
func NewSignalBridge(mgr *Manager, logger *slog.Logger, triggers []SignalTrigger) *SignalBridge {
	if logger == nil {
		logger = slog.Default()
	}

	bySignal := make(map[os.Signal]SignalTrigger, len(triggers))
	for _, t := range triggers {
		bySignal[t.Signal] = t
	}

	return &SignalBridge{
		mgr:      mgr,
		logger:   tetherlog.WithComponent(logger, "signals"),
		triggers: bySignal,
		ch:       make(chan os.Signal, 4),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start subscribes to the mapped signals and begins dispatching.
func (b *SignalBridge) Start() {
	sigs := make([]os.Signal, 0, len(b.triggers))
	for sig := range b.triggers {
		sigs = append(sigs, sig)
	}
	signal.Notify(b.ch, sigs...)

	go b.run()
}

// Stop unsubscribes and ends dispatching. It does not affect an in-flight
// shutdown.
func (b *SignalBridge) Stop() {
	signal.Stop(b.ch)
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
}

// Deliver injects a synthetic signal. Tests use it to exercise the trigger
// table without touching process-wide signal state.
func (b *SignalBridge) Deliver(sig os.Signal) {
	b.ch <- sig
}

func (b *SignalBridge) run() {
	defer close(b.done)

	for {
		select {
		case <-b.stop:
			return
		case sig := <-b.ch:
			t, ok := b.triggers[sig]
			if !ok {
				b.logger.Debug("Ignoring unmapped signal", slog.Any("signal", sig))
				continue
			}
			b.logger.Info("Signal received",
				slog.Any("signal", sig),
				slog.String(tetherlog.ReasonKey, t.Reason))
			b.mgr.Shutdown(t.ExitCode, t.Reason)
		}
	}
}
