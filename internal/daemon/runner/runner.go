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

// Package runner manages workflow runs inside the daemon: submission,
// concurrency limits, cancellation, chaining, and archival.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/CandanUmut/systematic-automation-agent/internal/store"
	agenterrors "github.com/CandanUmut/systematic-automation-agent/pkg/errors"
	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

// DefinitionSource resolves workflow names to definitions. Chained
// workflows are looked up here.
type DefinitionSource interface {
	Get(name string) (*workflow.Definition, error)
}

// Archiver persists finished runs.
type Archiver interface {
	Archive(ctx context.Context, run *store.ArchivedRun) error
}

// Run tracks one workflow execution.
type Run struct {
	ID          string
	Workflow    string
	State       workflow.RunState
	Error       string
	Warnings    []string
	Passes      int
	ChainedFrom string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	def        *workflow.Definition
	ectx       *workflow.ExecutionContext
	logFile    *os.File
	cancelOnce sync.Once
}

// RunSnapshot is an immutable copy of run state for external access.
type RunSnapshot struct {
	ID          string               `json:"id"`
	Workflow    string               `json:"workflow"`
	State       workflow.RunState    `json:"state"`
	Error       string               `json:"error,omitempty"`
	Warnings    []string             `json:"warnings,omitempty"`
	Passes      int                  `json:"passes"`
	ChainedFrom string               `json:"chained_from,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	StartedAt   time.Time            `json:"started_at,omitzero"`
	CompletedAt time.Time            `json:"completed_at,omitzero"`
	Records     []workflow.RunRecord `json:"records,omitempty"`
}

// Config contains runner configuration.
type Config struct {
	// MaxParallel limits concurrent workflow executions.
	MaxParallel int

	// LoopSafetyBound caps loop passes for every run.
	LoopSafetyBound int

	// RunLogDir is where per-run JSONL logs are written. Empty keeps
	// run logs in memory only.
	RunLogDir string

	// Defaults are the engine-level step policy defaults applied when
	// definitions are parsed on behalf of this runner.
	Defaults workflow.DefinitionDefaults
}

// ListFilter contains filtering options for listing runs.
type ListFilter struct {
	State    workflow.RunState
	Workflow string
	Limit    int
}

// SubmitRequest contains the parameters for submitting a workflow run.
type SubmitRequest struct {
	// Definition is the parsed workflow. Exactly one of Definition or
	// Workflow must be set.
	Definition *workflow.Definition

	// Workflow names a definition to resolve from the source.
	Workflow string

	// Vars are the initial variable bindings.
	Vars map[string]string

	// ChainedFrom records the originating workflow for chained runs.
	ChainedFrom string
}

// Runner manages workflow executions.
type Runner struct {
	cfg        Config
	dispatcher workflow.Dispatcher
	logs       *LogAggregator
	logger     *slog.Logger

	mu   sync.RWMutex
	runs map[string]*Run

	source   DefinitionSource
	archiver Archiver

	semaphore chan struct{}
	active    sync.WaitGroup
	draining  atomic.Bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithDefinitionSource enables chained runs and submission by name.
func WithDefinitionSource(source DefinitionSource) Option {
	return func(r *Runner) { r.source = source }
}

// WithArchiver persists finished runs.
func WithArchiver(archiver Archiver) Option {
	return func(r *Runner) { r.archiver = archiver }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// New creates a new Runner with the given configuration.
func New(cfg Config, dispatcher workflow.Dispatcher, opts ...Option) *Runner {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 4
	}
	if cfg.LoopSafetyBound <= 0 {
		cfg.LoopSafetyBound = workflow.DefaultLoopSafetyBound
	}

	r := &Runner{
		cfg:        cfg,
		dispatcher: dispatcher,
		logs:       NewLogAggregator(),
		logger:     slog.Default(),
		runs:       make(map[string]*Run),
		semaphore:  make(chan struct{}, cfg.MaxParallel),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit registers a workflow for execution and returns an immutable
// snapshot. Execution proceeds in the background.
func (r *Runner) Submit(ctx context.Context, req SubmitRequest) (*RunSnapshot, error) {
	if r.draining.Load() {
		return nil, fmt.Errorf("runner is draining, not accepting new runs")
	}

	def := req.Definition
	if def == nil {
		if req.Workflow == "" {
			return nil, fmt.Errorf("either a definition or a workflow name is required")
		}
		if r.source == nil {
			return nil, fmt.Errorf("no workflow source configured")
		}
		var err error
		def, err = r.source.Get(req.Workflow)
		if err != nil {
			return nil, err
		}
	}

	runID := uuid.NewString()

	sink, logFile, err := r.logSink(runID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &Run{
		ID:          runID,
		Workflow:    def.Name,
		State:       workflow.RunPending,
		ChainedFrom: req.ChainedFrom,
		CreatedAt:   time.Now(),
		ctx:         runCtx,
		cancel:      cancel,
		def:         def,
		logFile:     logFile,
		ectx: workflow.NewExecutionContext(
			workflow.NewBindingSet(req.Vars, def.Sensitive),
			workflow.NewRunLog(sink),
			nil, // daemon runs are non-interactive
		),
	}

	r.mu.Lock()
	r.runs[runID] = run
	r.mu.Unlock()

	snapshot := run.snapshot()

	r.active.Add(1)
	go r.execute(run)

	return snapshot, nil
}

// Get returns an immutable snapshot of a run by ID.
func (r *Runner) Get(id string) (*RunSnapshot, error) {
	r.mu.RLock()
	run, ok := r.runs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &agenterrors.NotFoundError{Resource: "run", ID: id}
	}
	return run.snapshot(), nil
}

// List returns snapshots of all runs matching the filter, most recent
// first.
func (r *Runner) List(filter ListFilter) []*RunSnapshot {
	r.mu.RLock()
	snapshots := make([]*RunSnapshot, 0, len(r.runs))
	for _, run := range r.runs {
		snap := run.snapshot()
		if filter.State != "" && snap.State != filter.State {
			continue
		}
		if filter.Workflow != "" && snap.Workflow != filter.Workflow {
			continue
		}
		snapshots = append(snapshots, snap)
	}
	r.mu.RUnlock()

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	if filter.Limit > 0 && len(snapshots) > filter.Limit {
		snapshots = snapshots[:filter.Limit]
	}
	return snapshots
}

// Cancel requests cooperative cancellation of a run. The run stops at
// the next step boundary.
func (r *Runner) Cancel(id string) error {
	r.mu.RLock()
	run, ok := r.runs[id]
	r.mu.RUnlock()
	if !ok {
		return &agenterrors.NotFoundError{Resource: "run", ID: id}
	}

	run.cancelOnce.Do(func() {
		run.ectx.Cancel()
		run.cancel()
	})
	return nil
}

// Defaults returns the engine-level step policy defaults configured for
// runs submitted through this runner.
func (r *Runner) Defaults() workflow.DefinitionDefaults {
	return r.cfg.Defaults
}

// CancelAll requests cancellation of every pending or running run and
// returns how many were cancelled.
func (r *Runner) CancelAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, run := range r.runs {
		run.mu.RLock()
		state := run.State
		run.mu.RUnlock()
		if state != workflow.RunPending && state != workflow.RunRunning {
			continue
		}
		run.cancelOnce.Do(func() {
			run.ectx.Cancel()
			run.cancel()
		})
		n++
	}
	return n
}

// Subscribe returns a channel that receives run records for a run.
func (r *Runner) Subscribe(runID string) (<-chan workflow.RunRecord, func()) {
	return r.logs.Subscribe(runID)
}

// StartChained implements workflow.ChainNotifier. Failures are logged,
// not propagated; the completed run's outcome is already decided.
func (r *Runner) StartChained(workflowName string, from string, state workflow.RunState) {
	if r.source == nil {
		r.logger.Warn("chain target skipped, no workflow source configured",
			"workflow", workflowName, "from", from)
		return
	}

	_, err := r.Submit(context.Background(), SubmitRequest{
		Workflow:    workflowName,
		ChainedFrom: from,
	})
	if err != nil {
		r.logger.Error("failed to start chained workflow",
			"workflow", workflowName, "from", from, "error", err)
		return
	}
	r.logger.Info("started chained workflow",
		"workflow", workflowName, "from", from, "trigger_state", string(state))
}

// StartDraining stops the runner accepting new submissions.
func (r *Runner) StartDraining() {
	r.draining.Store(true)
}

// IsDraining reports whether the runner is draining.
func (r *Runner) IsDraining() bool {
	return r.draining.Load()
}

// ActiveRunCount returns the number of pending or running runs.
func (r *Runner) ActiveRunCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, run := range r.runs {
		run.mu.RLock()
		state := run.State
		run.mu.RUnlock()
		if state == workflow.RunPending || state == workflow.RunRunning {
			count++
		}
	}
	return count
}

// WaitForDrain waits for all active runs to finish or the timeout to
// elapse.
func (r *Runner) WaitForDrain(ctx context.Context, timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		r.active.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		remaining := r.ActiveRunCount()
		if remaining > 0 {
			return fmt.Errorf("drain timeout: %d run(s) still active", remaining)
		}
		return nil
	case <-done:
		return nil
	}
}

func (r *Runner) execute(run *Run) {
	defer r.active.Done()
	defer func() {
		if run.logFile != nil {
			run.logFile.Close()
		}
	}()

	// Respect cancellation while queued.
	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-run.ctx.Done():
		r.finish(run, &workflow.RunResult{State: workflow.RunCancelled})
		return
	}

	run.mu.Lock()
	run.State = workflow.RunRunning
	run.StartedAt = time.Now()
	run.mu.Unlock()

	controller := workflow.NewController(run.def, r.dispatcher,
		workflow.WithLogger(r.logger.With("run_id", run.ID, "workflow", run.def.Name)),
		workflow.WithChainNotifier(r),
		workflow.WithLoopSafetyBound(r.cfg.LoopSafetyBound),
	)

	result, _ := controller.Execute(run.ctx, run.ectx)
	r.finish(run, result)
}

func (r *Runner) finish(run *Run, result *workflow.RunResult) {
	run.mu.Lock()
	run.State = result.State
	run.Passes = result.Passes
	run.Warnings = result.Warnings
	run.Error = result.Error
	run.CompletedAt = time.Now()
	run.mu.Unlock()

	r.logger.Info("run finished",
		"run_id", run.ID, "workflow", run.Workflow,
		"state", string(result.State), "passes", result.Passes)

	// Closing subscriber channels ends follow-mode log streams. The
	// terminal state is visible before the close, so late subscribers can
	// detect that no more records will come.
	r.logs.DropRun(run.ID)

	if r.archiver != nil {
		snap := run.snapshot()
		archived := &store.ArchivedRun{
			ID:          snap.ID,
			Workflow:    snap.Workflow,
			State:       snap.State,
			Passes:      snap.Passes,
			Warnings:    snap.Warnings,
			Error:       snap.Error,
			StartedAt:   snap.StartedAt,
			CompletedAt: snap.CompletedAt,
			Records:     snap.Records,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.archiver.Archive(ctx, archived); err != nil {
			r.logger.Error("failed to archive run", "run_id", run.ID, "error", err)
		}
	}
}

// logSink builds the run log destination: the live subscriber tap,
// plus a JSONL file when RunLogDir is configured.
func (r *Runner) logSink(runID string) (io.Writer, *os.File, error) {
	tap := newRecordTap(r.logs, runID)
	if r.cfg.RunLogDir == "" {
		return tap, nil, nil
	}

	if err := os.MkdirAll(r.cfg.RunLogDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create run log dir: %w", err)
	}
	path := filepath.Join(r.cfg.RunLogDir, runID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run log: %w", err)
	}
	return io.MultiWriter(f, tap), f, nil
}

func (run *Run) snapshot() *RunSnapshot {
	run.mu.RLock()
	defer run.mu.RUnlock()

	snap := &RunSnapshot{
		ID:          run.ID,
		Workflow:    run.Workflow,
		State:       run.State,
		Error:       run.Error,
		Passes:      run.Passes,
		ChainedFrom: run.ChainedFrom,
		CreatedAt:   run.CreatedAt,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Records:     run.ectx.Log.Records(),
	}
	if len(run.Warnings) > 0 {
		snap.Warnings = append([]string(nil), run.Warnings...)
	}
	return snap
}
