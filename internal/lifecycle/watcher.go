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
	"log/slog"
	"sync"

	tetherlog "github.com/tombee/tether/internal/log"
)

// watcher is the recurring liveness check loop. Each light tick answers two
// cheap questions: has the parent been reaped, and is fd 0 still open. Every
// heavyEvery-th tick it additionally resolves the parent's own parent to
// catch an orphaned intermediary launcher. The first positive detection
// triggers shutdown; later ticks are no-ops once shutdown has begun.
type watcher struct {
	mgr    *Manager
	ticker Ticker

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newWatcher(m *Manager) *watcher {
	return &watcher{
		mgr:    m,
		ticker: m.clock.NewTicker(m.lightInterval),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// cancel asks the loop to exit. Safe to call more than once and from the
// loop's own goroutine.
func (w *watcher) cancel() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *watcher) run() {
	defer close(w.done)
	defer w.ticker.Stop()

	var cycle int
	for {
		select {
		case <-w.stop:
			return
		case <-w.ticker.C():
			cycle++
			w.check(cycle%w.mgr.heavyEvery == 0)
		}
	}
}

// check runs one tick. Checks run in order and stop at the first positive
// detection.
func (w *watcher) check(heavy bool) {
	if w.mgr.ShuttingDown() {
		return
	}

	checkCycles.Inc()

	ppid := w.mgr.inspector.ParentPID()
	if ppid == RootReaperPID {
		w.detected(ReasonParentExited, slog.Int("ppid", ppid))
		return
	}

	if !w.mgr.inspector.StdinOpen() {
		w.detected(ReasonStdinDisconnected)
		return
	}

	if !heavy || ppid <= RootReaperPID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), identityQueryTimeout)
	defer cancel()

	gppid, err := w.mgr.inspector.ParentPIDOf(ctx, ppid)
	if err != nil {
		// A lookup failure on a PID usually means the process is gone.
		// Never retried: a false positive costs an early shutdown, a
		// false negative costs a permanent orphan.
		w.detected(ReasonParentOrphaned, slog.Int("ppid", ppid), tetherlog.Error(err))
		return
	}
	if gppid <= RootReaperPID {
		w.detected(ReasonParentOrphaned,
			slog.Int("ppid", ppid), slog.Int("grandparent", gppid))
	}
}

func (w *watcher) detected(reason string, attrs ...slog.Attr) {
	detections.WithLabelValues(reason).Inc()
	w.mgr.logger.LogAttrs(context.Background(), slog.LevelInfo, "Host loss detected",
		append([]slog.Attr{slog.String(tetherlog.ReasonKey, reason)}, attrs...)...)
	w.mgr.Shutdown(0, reason)
}
