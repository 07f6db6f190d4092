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
	"io"
	"log/slog"
	"sync"
	"time"
)

// fakeClock drives the watcher deterministically. Ticks are delivered only
// when the test calls Tick.
type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
	sleeps  []time.Duration
}

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

func newFakeClock() *fakeClock {
	return &fakeClock{}
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
}

// Tick delivers one tick to every ticker, blocking until each is consumed.
func (c *fakeClock) Tick() {
	c.mu.Lock()
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()
	for _, t := range tickers {
		t.ch <- time.Now()
	}
}

func (c *fakeClock) tickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// fakeInspector simulates process state without killing real processes.
type fakeInspector struct {
	mu         sync.Mutex
	parentPID  int
	stdinOK    bool
	gppid      int
	gppidErr   error
	heavyCalls int
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{parentPID: 1000, stdinOK: true, gppid: 500}
}

func (f *fakeInspector) ParentPID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parentPID
}

func (f *fakeInspector) ParentPIDOf(ctx context.Context, pid int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heavyCalls++
	return f.gppid, f.gppidErr
}

func (f *fakeInspector) StdinOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stdinOK
}

func (f *fakeInspector) set(fn func(*fakeInspector)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeInspector) heavyCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heavyCalls
}

// exitRecorder captures exit calls instead of terminating the test binary.
type exitRecorder struct {
	mu    sync.Mutex
	codes []int
	ch    chan int
}

func newExitRecorder() *exitRecorder {
	return &exitRecorder{ch: make(chan int, 8)}
}

func (r *exitRecorder) exit(code int) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.mu.Unlock()
	r.ch <- code
}

func (r *exitRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

func (r *exitRecorder) lastCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.codes) == 0 {
		return -1
	}
	return r.codes[len(r.codes)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
