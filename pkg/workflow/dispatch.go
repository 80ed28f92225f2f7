package workflow

import (
	"context"
)

// Dispatcher is the capability contract the engine calls per step kind.
//
// Concrete backends (OS automation tools, shell invocation, image capture)
// live outside the engine and satisfy this interface. A call may block for up
// to the step's timeout; the executor reports an attempt that outlives its
// timeout as a TimeoutError without assuming the backend is interruptible.
// Wait steps are handled inside the engine and never reach a dispatcher.
//
// Backends that share a physical resource (the one mouse cursor) across
// concurrent runs must serialize access themselves; the engine guarantees
// ordering only within a single run.
type Dispatcher interface {
	// Open opens a file or application by path.
	Open(ctx context.Context, path string) error

	// Click clicks at absolute screen coordinates.
	Click(ctx context.Context, x, y int) error

	// Type types literal text into the focused window.
	Type(ctx context.Context, text string) error

	// Run executes a shell command and returns its captured stdout.
	Run(ctx context.Context, command string) (string, error)

	// Screenshot captures the screen to the given file.
	Screenshot(ctx context.Context, filename string) error

	// Custom invokes a named backend-specific action.
	Custom(ctx context.Context, name string, args map[string]string) error
}
