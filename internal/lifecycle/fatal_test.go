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
	"fmt"
	"syscall"
	"testing"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "serve failed sentinel",
			err:  fmt.Errorf("agent: %w", ErrServeFailed),
			want: true,
		},
		{
			name: "transport init sentinel",
			err:  fmt.Errorf("stdio: %w", ErrTransportInit),
			want: true,
		},
		{
			name: "wrapped EADDRINUSE errno",
			err:  fmt.Errorf("listen: %w", syscall.EADDRINUSE),
			want: true,
		},
		{
			name: "EADDRINUSE in message text",
			err:  errors.New("listen tcp 127.0.0.1:9464: EADDRINUSE"),
			want: true,
		},
		{
			name: "address already in use in message text",
			err:  errors.New("bind: address already in use"),
			want: true,
		},
		{
			name: "failed to start in message text",
			err:  errors.New("MCP server failed to start"),
			want: true,
		},
		{
			name: "case insensitive matching",
			err:  errors.New("Transport Init error"),
			want: true,
		},
		{
			name: "command-level failure is not fatal",
			err:  errors.New("browser executable not found"),
			want: false,
		},
		{
			name: "navigation failure is not fatal",
			err:  errors.New("page.goto: net::ERR_CONNECTION_REFUSED"),
			want: false,
		},
		{
			name: "plain context cancellation is not fatal",
			err:  errors.New("context canceled"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
