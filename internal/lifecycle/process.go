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
	"os"
	"time"
)

// RootReaperPID is the process that adopts orphans on POSIX systems. A
// process reporting it as parent has lost its true parent.
const RootReaperPID = 1

// identityQueryTimeout bounds the external parent-identity lookup so a hung
// query cannot stall a watcher tick.
const identityQueryTimeout = 1 * time.Second

// ErrProcessGone is returned when a process identity cannot be resolved,
// usually because the process no longer exists.
var ErrProcessGone = errors.New("lifecycle: process not found")

// ProcessInspector answers liveness questions about the agent's environment.
// The OS-backed implementation is used in production; tests substitute their
// own to simulate orphaning without killing real processes.
type ProcessInspector interface {
	// ParentPID returns the agent's current parent process ID.
	ParentPID() int

	// ParentPIDOf resolves the parent PID of an arbitrary process. It
	// returns ErrProcessGone (possibly wrapped) if the process cannot be
	// found; callers treat any error as the process being gone.
	ParentPIDOf(ctx context.Context, pid int) (int, error)

	// StdinOpen reports whether file descriptor 0 is still a valid open
	// descriptor.
	StdinOpen() bool
}

// osInspector implements ProcessInspector against the running OS.
type osInspector struct{}

// NewOSInspector returns the production ProcessInspector.
func NewOSInspector() ProcessInspector {
	return osInspector{}
}

func (osInspector) ParentPID() int {
	return os.Getppid()
}

func (osInspector) ParentPIDOf(ctx context.Context, pid int) (int, error) {
	return parentPIDOf(ctx, pid)
}

func (osInspector) StdinOpen() bool {
	return stdinOpen()
}
