package workflow

import (
	"sort"
	"sync"
)

// RedactedPlaceholder replaces sensitive variable values in snapshots and
// run records.
const RedactedPlaceholder = "[REDACTED]"

// BindingSet maps variable names to resolved string values for one run.
//
// Writes are first-wins: once a variable has a value it keeps it for the rest
// of the run. Re-prompting is an explicit act (a fresh run with new initial
// bindings), never a silent overwrite. The set is safe for concurrent use so
// status endpoints can snapshot it while the run is in flight.
type BindingSet struct {
	mu        sync.RWMutex
	values    map[string]string
	sensitive map[string]bool
}

// NewBindingSet creates a binding set seeded with the given initial values.
// Names listed in sensitive are redacted by Snapshot.
func NewBindingSet(initial map[string]string, sensitive []string) *BindingSet {
	b := &BindingSet{
		values:    make(map[string]string, len(initial)),
		sensitive: make(map[string]bool, len(sensitive)),
	}
	for k, v := range initial {
		b.values[k] = v
	}
	for _, name := range sensitive {
		b.sensitive[name] = true
	}
	return b
}

// Get returns the value bound to name, if any.
func (b *BindingSet) Get(name string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[name]
	return v, ok
}

// Set binds name to value unless a binding already exists, and returns the
// value that is bound after the call. First resolution wins.
func (b *BindingSet) Set(name, value string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.values[name]; ok {
		return existing
	}
	b.values[name] = value
	return value
}

// Has reports whether name has a binding.
func (b *BindingSet) Has(name string) bool {
	_, ok := b.Get(name)
	return ok
}

// IsSensitive reports whether name is flagged for redaction.
func (b *BindingSet) IsSensitive(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sensitive[name]
}

// Names returns the bound variable names in sorted order.
func (b *BindingSet) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.values))
	for name := range b.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the current bindings with sensitive values
// replaced by RedactedPlaceholder. Run records and status responses use this;
// raw values never leave the binding set for logging purposes.
func (b *BindingSet) Snapshot() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := make(map[string]string, len(b.values))
	for name, value := range b.values {
		if b.sensitive[name] {
			snap[name] = RedactedPlaceholder
		} else {
			snap[name] = value
		}
	}
	return snap
}

// Values returns an unredacted copy of the bindings for predicate evaluation.
func (b *BindingSet) Values() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]string, len(b.values))
	for name, value := range b.values {
		out[name] = value
	}
	return out
}
