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

// Package library keeps workflow definitions loaded from a directory
// and reloads them when the files change.
package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	agenterrors "github.com/CandanUmut/systematic-automation-agent/pkg/errors"
	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

// Info summarizes a loaded workflow.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
	Path        string `json:"path"`
}

// Library holds workflow definitions keyed by name.
type Library struct {
	dir      string
	logger   *slog.Logger
	defaults workflow.DefinitionDefaults

	mu     sync.RWMutex
	byName map[string]*workflow.Definition
	byPath map[string]string // file path -> workflow name

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Option configures a Library.
type Option func(*Library)

// WithDefaults sets the engine-level step policy defaults applied when
// workflow files are parsed.
func WithDefaults(defaults workflow.DefinitionDefaults) Option {
	return func(l *Library) { l.defaults = defaults }
}

// New creates a library for the given directory and loads all workflow
// files in it.
func New(dir string, logger *slog.Logger, opts ...Option) (*Library, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Library{
		dir:    absDir,
		logger: logger.With("component", "library", "dir", absDir),
		byName: make(map[string]*workflow.Definition),
		byPath: make(map[string]string),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.loadAll(); err != nil {
		return nil, err
	}
	return l, nil
}

// Start begins watching the directory for changes. Stop releases the
// watcher.
func (l *Library) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	l.watcher = watcher

	go l.eventLoop(ctx)
	l.logger.Info("workflow library watching for changes")
	return nil
}

// Stop stops the watcher. Safe to call only after Start.
func (l *Library) Stop() error {
	close(l.stopCh)
	<-l.doneCh
	return l.watcher.Close()
}

// Get returns the definition with the given name.
func (l *Library) Get(name string) (*workflow.Definition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	def, ok := l.byName[name]
	if !ok {
		return nil, &agenterrors.NotFoundError{Resource: "workflow", ID: name}
	}
	return def, nil
}

// List returns summaries of all loaded workflows, sorted by name.
func (l *Library) List() []Info {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pathByName := make(map[string]string, len(l.byPath))
	for path, name := range l.byPath {
		pathByName[name] = path
	}

	infos := make([]Info, 0, len(l.byName))
	for name, def := range l.byName {
		infos = append(infos, Info{
			Name:        name,
			Description: def.Description,
			Steps:       len(def.Steps),
			Path:        pathByName[name],
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Len returns the number of loaded workflows.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byName)
}

func (l *Library) loadAll() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isWorkflowFile(entry.Name()) {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		if err := l.loadFile(path); err != nil {
			// A broken file must not take the daemon down.
			l.logger.Warn("skipping workflow file", "path", path, "error", err)
		}
	}
	return nil
}

// loadFile parses one workflow file and registers it. A parse failure
// leaves any previously loaded version in place.
func (l *Library) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	def, err := workflow.ParseDefinitionWith(data, l.defaults)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// The file may have been renamed to a different workflow name.
	if prev, ok := l.byPath[path]; ok && prev != def.Name {
		delete(l.byName, prev)
	}
	l.byName[def.Name] = def
	l.byPath[path] = def.Name

	l.logger.Info("loaded workflow", "workflow", def.Name, "path", path)
	return nil
}

func (l *Library) removeFile(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name, ok := l.byPath[path]
	if !ok {
		return
	}
	delete(l.byPath, path)
	delete(l.byName, name)
	l.logger.Info("removed workflow", "workflow", name, "path", path)
}

func (l *Library) eventLoop(ctx context.Context) {
	defer close(l.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("watcher error", "error", err)
		}
	}
}

func (l *Library) handleEvent(event fsnotify.Event) {
	if !isWorkflowFile(filepath.Base(event.Name)) {
		return
	}

	switch {
	case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
		if err := l.loadFile(event.Name); err != nil {
			l.logger.Warn("failed to reload workflow file", "path", event.Name, "error", err)
		}
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		l.removeFile(event.Name)
	}
}

func isWorkflowFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := filepath.Ext(name)
	return ext == ".yaml" || ext == ".yml"
}
