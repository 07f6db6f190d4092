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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_AtMostOnce(t *testing.T) {
	var cleanups atomic.Int32
	rec := newExitRecorder()

	mgr := NewManager(ManagerConfig{
		Cleanup: func(ctx context.Context) error {
			cleanups.Add(1)
			return nil
		},
		Logger: discardLogger(),
		Clock:  newFakeClock(),
		Exit:   rec.exit,
	})

	// Raise many concurrent triggers with distinct exit codes.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(code int) {
			defer wg.Done()
			mgr.Shutdown(code%2, "trigger")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), cleanups.Load(), "cleanup must run exactly once")
	assert.Equal(t, 1, rec.callCount(), "exit must be called exactly once")
	assert.True(t, mgr.ShuttingDown())
}

func TestShutdown_SecondCallIsNoop(t *testing.T) {
	rec := newExitRecorder()
	mgr := NewManager(ManagerConfig{
		Logger: discardLogger(),
		Clock:  newFakeClock(),
		Exit:   rec.exit,
	})

	mgr.Shutdown(0, "SIGTERM")
	mgr.Shutdown(1, ReasonFatalException)

	require.Equal(t, 1, rec.callCount())
	assert.Equal(t, 0, rec.lastCode(), "exit code must come from the first trigger")
}

func TestShutdown_ExitCodeUnaffectedByCleanupFailure(t *testing.T) {
	rec := newExitRecorder()
	mgr := NewManager(ManagerConfig{
		Cleanup: func(ctx context.Context) error {
			return errors.New("browser refused to close")
		},
		Logger: discardLogger(),
		Clock:  newFakeClock(),
		Exit:   rec.exit,
	})

	mgr.Shutdown(0, "SIGINT")

	require.Equal(t, 1, rec.callCount())
	assert.Equal(t, 0, rec.lastCode())
}

func TestShutdown_CleanupTimeoutDoesNotBlockExit(t *testing.T) {
	rec := newExitRecorder()
	mgr := NewManager(ManagerConfig{
		Cleanup: func(ctx context.Context) error {
			<-make(chan struct{}) // never resolves
			return nil
		},
		Logger:         discardLogger(),
		Clock:          newFakeClock(),
		Exit:           rec.exit,
		CleanupTimeout: 50 * time.Millisecond,
	})

	start := time.Now()
	mgr.Shutdown(0, ReasonStdinDisconnected)
	elapsed := time.Since(start)

	require.Equal(t, 1, rec.callCount())
	assert.Equal(t, 0, rec.lastCode())
	assert.Less(t, elapsed, 2*time.Second, "a hung cleanup must not delay exit past the deadline")
}

func TestShutdown_CleanupPanicDoesNotBlockExit(t *testing.T) {
	rec := newExitRecorder()
	mgr := NewManager(ManagerConfig{
		Cleanup: func(ctx context.Context) error {
			panic("driver crashed")
		},
		Logger: discardLogger(),
		Clock:  newFakeClock(),
		Exit:   rec.exit,
	})

	mgr.Shutdown(0, "SIGTERM")

	require.Equal(t, 1, rec.callCount())
	assert.Equal(t, 0, rec.lastCode())
}

func TestShutdown_OnShutdownRunsBeforeCleanup(t *testing.T) {
	var order []string
	var mu sync.Mutex
	rec := newExitRecorder()

	mgr := NewManager(ManagerConfig{
		Cleanup: func(ctx context.Context) error {
			mu.Lock()
			order = append(order, "cleanup")
			mu.Unlock()
			return nil
		},
		OnShutdown: func(code int, reason string) {
			mu.Lock()
			order = append(order, "notify")
			mu.Unlock()
		},
		Logger: discardLogger(),
		Clock:  newFakeClock(),
		Exit:   rec.exit,
	})

	mgr.Shutdown(0, "SIGTERM")

	require.Equal(t, []string{"notify", "cleanup"}, order)
}

func TestShutdown_FlushDelayUsesClock(t *testing.T) {
	clock := newFakeClock()
	rec := newExitRecorder()
	mgr := NewManager(ManagerConfig{
		Logger:     discardLogger(),
		Clock:      clock,
		Exit:       rec.exit,
		FlushDelay: 100 * time.Millisecond,
	})

	mgr.Shutdown(0, "SIGTERM")

	require.Len(t, clock.sleeps, 1)
	assert.Equal(t, 100*time.Millisecond, clock.sleeps[0])
}

func TestEnsureParentWatcher_Idempotent(t *testing.T) {
	clock := newFakeClock()
	mgr := NewManager(ManagerConfig{
		Logger:    discardLogger(),
		Inspector: newFakeInspector(),
		Clock:     clock,
		Exit:      newExitRecorder().exit,
	})
	defer mgr.StopParentWatcher()

	for i := 0; i < 5; i++ {
		mgr.EnsureParentWatcher()
	}

	assert.Equal(t, 1, clock.tickerCount(), "arming N times must create exactly one ticker")
}

func TestEnsureParentWatcher_NoopAfterShutdown(t *testing.T) {
	clock := newFakeClock()
	mgr := NewManager(ManagerConfig{
		Logger:    discardLogger(),
		Inspector: newFakeInspector(),
		Clock:     clock,
		Exit:      newExitRecorder().exit,
	})

	mgr.Shutdown(0, "SIGTERM")
	mgr.EnsureParentWatcher()

	assert.Equal(t, 0, clock.tickerCount())
}

func TestStopParentWatcher_DoesNotStartShutdown(t *testing.T) {
	mgr := NewManager(ManagerConfig{
		Logger:    discardLogger(),
		Inspector: newFakeInspector(),
		Clock:     newFakeClock(),
		Exit:      newExitRecorder().exit,
	})

	mgr.EnsureParentWatcher()
	mgr.StopParentWatcher()

	assert.False(t, mgr.ShuttingDown())

	// Re-arming after a stop works.
	mgr.EnsureParentWatcher()
	mgr.StopParentWatcher()
	assert.False(t, mgr.ShuttingDown())
}

func TestHandleFault(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantExit bool
		wantCode int
	}{
		{
			name:     "EADDRINUSE message is fatal",
			err:      errors.New("listen tcp 127.0.0.1:9000: EADDRINUSE"),
			wantExit: true,
			wantCode: 1,
		},
		{
			name:     "wrapped transport init sentinel is fatal",
			err:      errors.New("stdio: transport initialization failed"),
			wantExit: true,
			wantCode: 1,
		},
		{
			name:     "unrelated fault keeps the server alive",
			err:      errors.New("page.goto: net::ERR_NAME_NOT_RESOLVED"),
			wantExit: false,
		},
		{
			name:     "nil error is ignored",
			err:      nil,
			wantExit: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newExitRecorder()
			mgr := NewManager(ManagerConfig{
				Logger: discardLogger(),
				Clock:  newFakeClock(),
				Exit:   rec.exit,
			})

			mgr.HandleFault(tt.err)

			if tt.wantExit {
				require.Equal(t, 1, rec.callCount())
				assert.Equal(t, tt.wantCode, rec.lastCode())
				assert.True(t, mgr.ShuttingDown())
			} else {
				assert.Equal(t, 0, rec.callCount())
				assert.False(t, mgr.ShuttingDown())
			}
		})
	}
}
