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

// Package scheduler provides cron-based workflow scheduling.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CandanUmut/systematic-automation-agent/internal/daemon/runner"
	"github.com/CandanUmut/systematic-automation-agent/internal/log"
)

// Schedule defines a recurring workflow execution.
type Schedule struct {
	// Name is the unique identifier for this schedule.
	Name string `yaml:"name" json:"name"`

	// Cron is the standard 5-field cron expression.
	Cron string `yaml:"cron" json:"cron"`

	// Workflow names the workflow to run.
	Workflow string `yaml:"workflow" json:"workflow"`

	// Vars are the variable bindings passed to each run.
	Vars map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`

	// Enabled indicates if the schedule is active.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Timezone for cron evaluation. Defaults to UTC.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`

	expr       *Expression
	nextRun    time.Time
	lastRun    *time.Time
	runCount   int64
	errorCount int64
}

// Status is the externally visible state of a schedule.
type Status struct {
	Name       string     `json:"name"`
	Cron       string     `json:"cron"`
	Workflow   string     `json:"workflow"`
	Enabled    bool       `json:"enabled"`
	NextRun    time.Time  `json:"next_run"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	RunCount   int64      `json:"run_count"`
	ErrorCount int64      `json:"error_count"`
}

// Submitter starts workflow runs. Satisfied by runner.Runner.
type Submitter interface {
	Submit(ctx context.Context, req runner.SubmitRequest) (*runner.RunSnapshot, error)
	IsDraining() bool
}

// Scheduler triggers workflow runs on cron schedules.
type Scheduler struct {
	mu        sync.RWMutex
	schedules map[string]*Schedule
	submitter Submitter
	logger    *slog.Logger
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a scheduler with the given schedules.
func New(schedules []Schedule, submitter Submitter, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		schedules: make(map[string]*Schedule),
		submitter: submitter,
		logger:    logger.With("component", "scheduler"),
	}
	for _, sched := range schedules {
		if err := s.Add(sched); err != nil {
			return nil, fmt.Errorf("invalid schedule %s: %w", sched.Name, err)
		}
	}
	return s, nil
}

// Add registers a schedule, replacing any schedule with the same name.
func (s *Scheduler) Add(sched Schedule) error {
	if sched.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if sched.Workflow == "" {
		return fmt.Errorf("schedule workflow is required")
	}

	expr, err := Parse(sched.Cron)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	sched.expr = expr

	loc := time.UTC
	if sched.Timezone != "" {
		loc, err = time.LoadLocation(sched.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}
	sched.nextRun = expr.Next(time.Now().In(loc))

	s.mu.Lock()
	s.schedules[sched.Name] = &sched
	s.mu.Unlock()
	return nil
}

// Remove deletes a schedule by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, name)
}

// SetEnabled enables or disables a schedule.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[name]
	if !ok {
		return fmt.Errorf("schedule not found: %s", name)
	}
	sched.Enabled = enabled
	return nil
}

// GetStatus returns the status of all schedules.
func (s *Scheduler) GetStatus() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Status, 0, len(s.schedules))
	for _, sched := range s.schedules {
		result = append(result, Status{
			Name:       sched.Name,
			Cron:       sched.Cron,
			Workflow:   sched.Workflow,
			Enabled:    sched.Enabled,
			NextRun:    sched.nextRun,
			LastRun:    sched.lastRun,
			RunCount:   sched.runCount,
			ErrorCount: sched.errorCount,
		})
	}
	return result
}

// Start starts the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop stops the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick fires due schedules and advances their next-run times.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sched := range s.schedules {
		if !sched.Enabled || now.Before(sched.nextRun) {
			continue
		}

		go s.trigger(ctx, sched.Name, sched.Workflow, sched.Vars)

		loc := time.UTC
		if sched.Timezone != "" {
			if l, err := time.LoadLocation(sched.Timezone); err == nil {
				loc = l
			}
		}
		sched.nextRun = sched.expr.Next(now.In(loc))
		fired := now
		sched.lastRun = &fired
		sched.runCount++
	}
}

func (s *Scheduler) trigger(ctx context.Context, name, workflowName string, vars map[string]string) {
	schedLogger := s.logger.With("schedule", name, log.WorkflowKey, workflowName)

	if s.submitter.IsDraining() {
		schedLogger.Info("skipping scheduled run during shutdown")
		return
	}

	snap, err := s.submitter.Submit(ctx, runner.SubmitRequest{
		Workflow: workflowName,
		Vars:     vars,
	})
	if err != nil {
		schedLogger.Error("failed to submit scheduled workflow", "error", err)
		s.mu.Lock()
		if sched, ok := s.schedules[name]; ok {
			sched.errorCount++
		}
		s.mu.Unlock()
		return
	}

	schedLogger.Info("started scheduled run", log.RunIDKey, snap.ID)
}
