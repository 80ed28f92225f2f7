// Package format provides CLI output formatting with TTY detection.
package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// IsTTY reports whether stdout should use terminal formatting. Piped
// output, NO_COLOR, and dumb terminals disable it.
func IsTTY() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if t := os.Getenv("TERM"); t == "dumb" || t == "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// FormatJSON pretty-prints a value as JSON, with syntax highlighting
// when stdout is a TTY.
func FormatJSON(v any, isTTY bool) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}

	if !isTTY {
		return string(data), nil
	}

	var buf bytes.Buffer
	if err := quick.Highlight(&buf, string(data), "json", "terminal256", "monokai"); err != nil {
		// Fall back to plain output when highlighting fails.
		return string(data), nil
	}
	return buf.String(), nil
}

// FormatMarkdown renders markdown with ANSI formatting if stdout is a
// TTY, falling back to the raw text otherwise.
func FormatMarkdown(content string, isTTY bool) (string, error) {
	if !isTTY {
		return content, nil
	}

	rendered, err := glamour.Render(content, "dark")
	if err != nil {
		return content, nil
	}
	return rendered, nil
}
