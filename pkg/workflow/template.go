package workflow

import (
	"context"
	"strings"

	"github.com/CandanUmut/systematic-automation-agent/pkg/errors"
)

// MissingVariableFunc supplies a value for a variable that has no binding.
//
// It is an injected capability rather than a global input function: production
// wires an interactive prompter or the remote dispatch parameters, tests wire
// a deterministic fake. The callback may block (interactive input suspends the
// whole run) and should honor ctx cancellation while doing so.
type MissingVariableFunc func(ctx context.Context, name string) (string, error)

// Resolve substitutes ${name} tokens in template against the binding set.
//
// Substitution is purely textual: a resolved value is never re-scanned for
// further placeholders, which rules out substitution-injection loops. A token
// whose name has no binding is resolved through onMissing; the obtained value
// is written back into the bindings so later steps reuse it without
// re-prompting. A nil or failing onMissing yields UnresolvedVariableError.
//
// An unterminated or empty ${...} token is a MalformedTemplateError, never
// silently ignored: passing the raw fragment through would hand a broken
// string (possibly a shell command) to an action backend.
func Resolve(ctx context.Context, template string, bindings *BindingSet, onMissing MissingVariableFunc) (string, error) {
	if !strings.Contains(template, "${") {
		return template, nil
	}

	var b strings.Builder
	b.Grow(len(template))

	for i := 0; i < len(template); {
		start := strings.Index(template[i:], "${")
		if start == -1 {
			b.WriteString(template[i:])
			break
		}
		start += i
		b.WriteString(template[i:start])

		name, rest, err := scanToken(template, start)
		if err != nil {
			return "", err
		}

		value, ok := bindings.Get(name)
		if !ok {
			if onMissing == nil {
				return "", &errors.UnresolvedVariableError{Name: name}
			}
			supplied, merr := onMissing(ctx, name)
			if merr != nil {
				return "", &errors.UnresolvedVariableError{Name: name, Cause: merr}
			}
			// First resolution wins; a concurrent write means the stored
			// value is the one every reference sees.
			value = bindings.Set(name, supplied)
		}

		b.WriteString(value)
		i = rest
	}

	return b.String(), nil
}

// CollectPlaceholders returns the distinct variable names referenced by
// ${name} tokens in template, in order of first appearance. Malformed tokens
// return a MalformedTemplateError; the validator uses this to reject broken
// definitions at load time.
func CollectPlaceholders(template string) ([]string, error) {
	var names []string
	seen := make(map[string]bool)

	for i := 0; i < len(template); {
		start := strings.Index(template[i:], "${")
		if start == -1 {
			break
		}
		start += i

		name, rest, err := scanToken(template, start)
		if err != nil {
			return nil, err
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		i = rest
	}

	return names, nil
}

// scanToken parses the ${identifier} token starting at offset start (which
// points at the dollar sign). It returns the identifier and the offset just
// past the closing brace.
func scanToken(template string, start int) (string, int, error) {
	// Skip "${"
	i := start + 2

	j := i
	for j < len(template) && isIdentifierByte(template[j]) {
		j++
	}

	if j >= len(template) || template[j] != '}' || j == i {
		return "", 0, &errors.MalformedTemplateError{Template: template, Position: start}
	}

	return template[i:j], j + 1, nil
}

func isIdentifierByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// isIdentifier reports whether name is a valid variable identifier.
func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isIdentifierByte(name[i]) {
			return false
		}
	}
	return true
}
