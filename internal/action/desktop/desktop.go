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

// Package desktop implements the workflow dispatcher on top of standard
// desktop automation tools. Pointer and keyboard actions go through
// xdotool, files and URLs open via xdg-open, and screenshots use scrot.
package desktop

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/CandanUmut/systematic-automation-agent/internal/action/shell"
)

// CustomFunc handles a custom step by name.
type CustomFunc func(ctx context.Context, args map[string]string) error

// Config holds configuration for the desktop backend.
type Config struct {
	// ScreenshotDir is where screenshot files are written. Empty means
	// the filename is used as given.
	ScreenshotDir string

	// OpenTool overrides the opener binary. Default: xdg-open.
	OpenTool string

	// InputTool overrides the pointer/keyboard binary. Default: xdotool.
	InputTool string

	// CaptureTool overrides the screenshot binary. Default: scrot.
	CaptureTool string
}

// Backend drives the desktop and implements workflow.Dispatcher.
//
// The desktop is a single shared resource. All actions serialize on an
// internal mutex so concurrent runs cannot interleave pointer movement
// with typing.
type Backend struct {
	mu      sync.Mutex
	config  Config
	runner  *shell.Runner
	customs map[string]CustomFunc

	execCommand func(ctx context.Context, name string, args ...string) error
}

// New creates a desktop backend. Run steps are delegated to runner.
func New(config Config, runner *shell.Runner) *Backend {
	if config.OpenTool == "" {
		config.OpenTool = "xdg-open"
	}
	if config.InputTool == "" {
		config.InputTool = "xdotool"
	}
	if config.CaptureTool == "" {
		config.CaptureTool = "scrot"
	}
	return &Backend{
		config:      config,
		runner:      runner,
		customs:     make(map[string]CustomFunc),
		execCommand: runTool,
	}
}

// RegisterCustom installs a handler for custom steps with the given name.
func (b *Backend) RegisterCustom(name string, fn CustomFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.customs[name] = fn
}

// Open launches the file or URL with the desktop opener.
func (b *Backend) Open(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.execCommand(ctx, b.config.OpenTool, path)
}

// Click moves the pointer to (x, y) and presses the left button.
func (b *Backend) Click(ctx context.Context, x, y int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.execCommand(ctx, b.config.InputTool, "mousemove", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return err
	}
	return b.execCommand(ctx, b.config.InputTool, "click", "1")
}

// Type sends the text as keystrokes to the focused window.
func (b *Backend) Type(ctx context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.execCommand(ctx, b.config.InputTool, "type", "--delay", "20", "--", text)
}

// Run executes a shell command and returns its output.
func (b *Backend) Run(ctx context.Context, command string) (string, error) {
	return b.runner.Run(ctx, command)
}

// Screenshot captures the full screen to filename.
func (b *Backend) Screenshot(ctx context.Context, filename string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	target := filename
	if b.config.ScreenshotDir != "" && !filepath.IsAbs(filename) {
		target = filepath.Join(b.config.ScreenshotDir, filename)
	}
	return b.execCommand(ctx, b.config.CaptureTool, "--overwrite", target)
}

// Custom dispatches to a registered custom handler.
func (b *Backend) Custom(ctx context.Context, name string, args map[string]string) error {
	b.mu.Lock()
	fn, ok := b.customs[name]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no handler registered for custom action %q", name)
	}
	return fn(ctx, args)
}

func runTool(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s: %s", name, msg)
	}
	return nil
}
