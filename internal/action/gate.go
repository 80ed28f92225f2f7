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

// Package action wires workflow dispatch to the concrete backends and
// enforces the configured capability allowlist.
package action

import (
	"context"
	"fmt"

	agenterrors "github.com/CandanUmut/systematic-automation-agent/pkg/errors"
	"github.com/CandanUmut/systematic-automation-agent/pkg/workflow"
)

// Gate wraps a dispatcher and rejects step kinds outside the allowlist.
// An empty allowlist permits every kind.
type Gate struct {
	next    workflow.Dispatcher
	allowed map[workflow.StepKind]bool
}

// NewGate creates a gated dispatcher. allowedKinds uses the step kind
// names from workflow definitions.
func NewGate(next workflow.Dispatcher, allowedKinds []string) *Gate {
	var allowed map[workflow.StepKind]bool
	if len(allowedKinds) > 0 {
		allowed = make(map[workflow.StepKind]bool, len(allowedKinds))
		for _, k := range allowedKinds {
			allowed[workflow.StepKind(k)] = true
		}
	}
	return &Gate{next: next, allowed: allowed}
}

func (g *Gate) check(kind workflow.StepKind) error {
	if g.allowed == nil || g.allowed[kind] {
		return nil
	}
	return &agenterrors.ActionError{
		Step:   string(kind),
		Detail: fmt.Sprintf("step kind %q is disabled by configuration", kind),
	}
}

func (g *Gate) Open(ctx context.Context, path string) error {
	if err := g.check(workflow.StepOpen); err != nil {
		return err
	}
	return g.next.Open(ctx, path)
}

func (g *Gate) Click(ctx context.Context, x, y int) error {
	if err := g.check(workflow.StepClick); err != nil {
		return err
	}
	return g.next.Click(ctx, x, y)
}

func (g *Gate) Type(ctx context.Context, text string) error {
	if err := g.check(workflow.StepType); err != nil {
		return err
	}
	return g.next.Type(ctx, text)
}

func (g *Gate) Run(ctx context.Context, command string) (string, error) {
	if err := g.check(workflow.StepRun); err != nil {
		return "", err
	}
	return g.next.Run(ctx, command)
}

func (g *Gate) Screenshot(ctx context.Context, filename string) error {
	if err := g.check(workflow.StepScreenshot); err != nil {
		return err
	}
	return g.next.Screenshot(ctx, filename)
}

func (g *Gate) Custom(ctx context.Context, name string, args map[string]string) error {
	if err := g.check(workflow.StepCustom); err != nil {
		return err
	}
	return g.next.Custom(ctx, name, args)
}
