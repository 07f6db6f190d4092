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
	"errors"
	"strings"
	"syscall"
)

// Sentinel errors for the known-unrecoverable startup conditions. Callers on
// the serve path wrap their failures with these so classification does not
// depend on message text.
var (
	// ErrServeFailed marks a server that could not start.
	ErrServeFailed = errors.New("lifecycle: server failed to start")

	// ErrTransportInit marks a transport that could not be initialized.
	ErrTransportInit = errors.New("lifecycle: transport initialization failed")
)

// fatalMessagePatterns is the legacy message-text allow-list, kept as a
// fallback for errors that arrive from layers that do not wrap the
// sentinels. Matched case-insensitively as substrings.
var fatalMessagePatterns = []string{
	"eaddrinuse",
	"address already in use",
	"failed to start",
	"transport init",
}

// IsFatal reports whether err is one of the unrecoverable conditions that
// must terminate the process. The allow-list is deliberately short: every
// other fault is survivable, and the agent stays up.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrServeFailed) || errors.Is(err, ErrTransportInit) {
		return true
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range fatalMessagePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
