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

//go:build linux

package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// parentPIDOf resolves the parent PID of pid from /proc/[pid]/stat. The read
// never blocks, so the context is only consulted up front.
func parentPIDOf(ctx context.Context, pid int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, fmt.Errorf("%w: pid %d: %v", ErrProcessGone, pid, err)
	}

	// Field layout: pid (comm) state ppid ...
	// comm may contain spaces and parentheses, so parse from the last ')'.
	end := bytes.LastIndexByte(data, ')')
	if end < 0 || end+2 >= len(data) {
		return 0, fmt.Errorf("%w: pid %d: malformed stat", ErrProcessGone, pid)
	}

	fields := strings.Fields(string(data[end+2:]))
	if len(fields) < 2 {
		return 0, fmt.Errorf("%w: pid %d: malformed stat", ErrProcessGone, pid)
	}

	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("%w: pid %d: bad ppid field: %v", ErrProcessGone, pid, err)
	}

	return ppid, nil
}
