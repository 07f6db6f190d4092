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

//go:build unix

package lifecycle

import "golang.org/x/sys/unix"

// stdinOpen probes file descriptor 0 with fstat. A failure means the input
// pipe has been torn down, the primary signal for a host that crashed
// without sending a termination signal.
func stdinOpen() bool {
	var stat unix.Stat_t
	return unix.Fstat(0, &stat) == nil
}
