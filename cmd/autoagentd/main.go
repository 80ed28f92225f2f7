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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/CandanUmut/systematic-automation-agent/internal/config"
	"github.com/CandanUmut/systematic-automation-agent/internal/daemon"
	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/api"
	"github.com/CandanUmut/systematic-automation-agent/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to configuration file")
		listenAddr   = flag.String("listen", "", "HTTP listen address")
		workflowsDir = flag.String("workflows-dir", "", "Directory for workflow files")
		dataDir      = flag.String("data-dir", "", "Directory for the run archive")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("autoagentd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	path := *configPath
	if path == "" {
		if p, err := config.ConfigPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	if *listenAddr != "" {
		cfg.Daemon.Listen = *listenAddr
	}
	if *workflowsDir != "" {
		cfg.Daemon.WorkflowsDir = *workflowsDir
	}
	if *dataDir != "" {
		cfg.Daemon.DataDir = *dataDir
	}

	api.Version = version

	d, err := daemon.New(cfg, daemon.Options{Version: version})
	if err != nil {
		logger.Error("failed to create daemon", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("daemon error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
