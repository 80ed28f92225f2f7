// Copyright 2025 Umut Candan
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

package shell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdout(t *testing.T) {
	r := New(Config{})
	out, err := r.Run(context.Background(), "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestRunReportsStderrOnFailure(t *testing.T) {
	r := New(Config{})
	_, err := r.Run(context.Background(), "echo oops >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oops")
	assert.Contains(t, err.Error(), "3")
}

func TestRunEmptyCommand(t *testing.T) {
	r := New(Config{})
	_, err := r.Run(context.Background(), "   ")
	require.Error(t, err)
}

func TestRunWorkingDir(t *testing.T) {
	dir := t.TempDir()
	r := New(Config{WorkingDir: dir})
	out, err := r.Run(context.Background(), "pwd")
	require.NoError(t, err)
	assert.Contains(t, out, dir)
}

func TestAllowlist(t *testing.T) {
	tests := []struct {
		name      string
		allowlist []string
		command   string
		wantErr   bool
	}{
		{"empty allowlist permits", nil, "echo hi", false},
		{"listed command permitted", []string{"echo"}, "echo hi", false},
		{"listed by path", []string{"echo"}, "/bin/echo hi", false},
		{"unlisted command rejected", []string{"ls"}, "echo hi", true},
		{"unparseable command rejected", []string{"echo"}, "echo 'unterminated", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(Config{Allowlist: tt.allowlist})
			_, err := r.Run(context.Background(), tt.command)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRunRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(Config{})
	_, err := r.Run(ctx, "sleep 10")
	require.Error(t, err)
}
