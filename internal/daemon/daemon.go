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

// Package daemon wires together the workflow library, runner, scheduler,
// run archive, and HTTP API into the autoagentd server.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/CandanUmut/systematic-automation-agent/internal/action"
	"github.com/CandanUmut/systematic-automation-agent/internal/action/desktop"
	"github.com/CandanUmut/systematic-automation-agent/internal/action/shell"
	"github.com/CandanUmut/systematic-automation-agent/internal/config"
	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/api"
	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/library"
	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/runner"
	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/scheduler"
	internallog "github.com/CandanUmut/systematic-automation-agent/internal/log"
	"github.com/CandanUmut/systematic-automation-agent/internal/store"
)

// Options contains daemon options set at build time.
type Options struct {
	Version string
}

// Daemon is the autoagentd server.
type Daemon struct {
	cfg       *config.Config
	opts      Options
	logger    *slog.Logger
	server    *http.Server
	ln        net.Listener
	runner    *runner.Runner
	library   *library.Library
	scheduler *scheduler.Scheduler
	archive   *store.RunArchive

	mu      sync.Mutex
	started bool
}

// New creates a daemon from the given configuration. It opens the run
// archive and loads the workflow library, but does not listen yet.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := internallog.WithComponent(internallog.New(&internallog.Config{
		Level:  cfg.Log.Level,
		Format: internallog.Format(cfg.Log.Format),
	}), "daemon")

	dataDir := cfg.Daemon.DataDir
	if dataDir == "" {
		var err error
		dataDir, err = config.DataDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	archive, err := store.New(store.Config{
		Path: filepath.Join(dataDir, "runs.db"),
	})
	if err != nil {
		return nil, fmt.Errorf("open run archive: %w", err)
	}

	workflowsDir := cfg.Daemon.WorkflowsDir
	if workflowsDir == "" {
		workflowsDir = filepath.Join(dataDir, "workflows")
	}
	if err := os.MkdirAll(workflowsDir, 0700); err != nil {
		archive.Close()
		return nil, fmt.Errorf("create workflows dir: %w", err)
	}

	lib, err := library.New(workflowsDir, logger, library.WithDefaults(cfg.DefinitionDefaults()))
	if err != nil {
		archive.Close()
		return nil, fmt.Errorf("load workflow library: %w", err)
	}

	shellRunner := shell.New(shell.Config{
		Allowlist: cfg.Engine.ShellAllowlist,
	})
	backend := desktop.New(desktop.Config{
		ScreenshotDir: filepath.Join(dataDir, "screenshots"),
	}, shellRunner)
	dispatcher := action.NewGate(backend, cfg.Engine.AllowedSteps)

	r := runner.New(runner.Config{
		MaxParallel:     cfg.Daemon.MaxConcurrentRuns,
		LoopSafetyBound: cfg.Engine.LoopSafetyBound,
		RunLogDir:       cfg.Daemon.RunLogDir,
		Defaults:        cfg.DefinitionDefaults(),
	}, dispatcher,
		runner.WithDefinitionSource(lib),
		runner.WithArchiver(archive),
		runner.WithLogger(logger),
	)

	schedules := make([]scheduler.Schedule, len(cfg.Daemon.Schedules))
	for i, s := range cfg.Daemon.Schedules {
		schedules[i] = scheduler.Schedule{
			Name:     s.Name,
			Cron:     s.Cron,
			Workflow: s.Workflow,
			Vars:     s.Vars,
			Enabled:  s.Enabled,
			Timezone: s.Timezone,
		}
	}
	sched, err := scheduler.New(schedules, r, logger)
	if err != nil {
		archive.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	return &Daemon{
		cfg:       cfg,
		opts:      opts,
		logger:    logger,
		runner:    r,
		library:   lib,
		scheduler: sched,
		archive:   archive,
	}, nil
}

// Start begins serving the API and blocks until Shutdown is called or
// the listener fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	if err := d.library.Start(ctx); err != nil {
		return fmt.Errorf("start library watcher: %w", err)
	}
	d.scheduler.Start(ctx)

	ln, err := net.Listen("tcp", d.cfg.Daemon.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Daemon.Listen, err)
	}
	d.ln = ln

	router := api.NewRouter(d.logger)
	api.NewRunsHandler(d.runner).RegisterRoutes(router.Mux())
	api.NewDispatchHandler(d.runner).RegisterRoutes(router.Mux())
	api.NewWorkflowsHandler(d.library).RegisterRoutes(router.Mux())
	api.NewSchedulesHandler(d.scheduler).RegisterRoutes(router.Mux())

	d.server = &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // log streaming holds responses open
		IdleTimeout:  60 * time.Second,
	}

	d.logger.Info("autoagentd starting",
		slog.String("version", d.opts.Version),
		slog.String("listen_addr", ln.Addr().String()),
		slog.Int("workflows", d.library.Len()),
	)

	if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Addr returns the bound listen address, or empty before Start.
func (d *Daemon) Addr() string {
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// Shutdown drains active runs and stops the server. New submissions are
// rejected immediately; running workflows get ShutdownTimeout to finish
// before their contexts are cancelled.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.logger.Info("autoagentd shutting down")

	d.scheduler.Stop()
	d.runner.StartDraining()

	if err := d.runner.WaitForDrain(ctx, d.cfg.Daemon.ShutdownTimeout); err != nil {
		cancelled := d.runner.CancelAll()
		d.logger.Warn("drain timed out, cancelling active runs",
			slog.Int("cancelled", cancelled))
	}

	var firstErr error
	if d.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			firstErr = err
		}
	}
	if err := d.library.Stop(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := d.archive.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
