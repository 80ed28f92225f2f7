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

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CandanUmut/systematic-automation-agent/internal/client"
	"github.com/CandanUmut/systematic-automation-agent/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dataDir := t.TempDir()
	workflowsDir := filepath.Join(dataDir, "workflows")
	require.NoError(t, os.MkdirAll(workflowsDir, 0700))

	cfg := config.Default()
	cfg.Daemon.Listen = "127.0.0.1:0"
	cfg.Daemon.DataDir = dataDir
	cfg.Daemon.WorkflowsDir = workflowsDir
	cfg.Daemon.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestDaemonStartServeShutdown(t *testing.T) {
	yaml := `
name: greet
steps:
  - type: run
    command: echo hello
`
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(
		filepath.Join(cfg.Daemon.WorkflowsDir, "greet.yaml"), []byte(yaml), 0600))

	d, err := New(cfg, Options{Version: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool {
		return d.Addr() != ""
	}, 5*time.Second, 10*time.Millisecond)

	c := client.New(d.Addr())
	require.NoError(t, c.Ping(ctx))

	version, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", version)

	workflows, err := c.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "greet", workflows[0].Name)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	require.NoError(t, d.Shutdown(shutdownCtx))

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

func TestDaemonStartTwiceFails(t *testing.T) {
	cfg := testConfig(t)

	d, err := New(cfg, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool {
		return d.Addr() != ""
	}, 5*time.Second, 10*time.Millisecond)

	require.Error(t, d.Start(ctx))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, d.Shutdown(shutdownCtx))
	<-errCh
}
