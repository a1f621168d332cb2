// Package directory defines the directory client the reconciliation engine
// consumes, together with the entry staging model and the search filter
// grammar.
package directory

import (
	"context"
	"sort"
	"strings"

	"github.com/agentstation/adsync/pkg/constants"
)

// Client searches a directory and persists staged entry changes.
type Client interface {
	// Search returns every entry matching filter with attrs loaded.
	Search(ctx context.Context, filter Filter, attrs []string) ([]*Entry, error)
	// Commit persists the changes staged on entry in one operation.
	Commit(ctx context.Context, entry *Entry) error
}

// ChangeOp is the kind of a staged change.
type ChangeOp int

const (
	// OpClear removes every value of an attribute.
	OpClear ChangeOp = iota
	// OpSet adds a single value to an attribute.
	OpSet
)

// String returns the string representation of a ChangeOp.
func (op ChangeOp) String() string {
	switch op {
	case OpClear:
		return "clear"
	case OpSet:
		return "set"
	default:
		return "unknown"
	}
}

// Change is one staged write on an entry.
type Change struct {
	Op        ChangeOp
	Attribute string
	Value     string
}

type attribute struct {
	name   string
	values []string
}

// Entry is a directory object as returned by a search. Attribute names are
// matched case-insensitively. Writes are staged with Set and Clear and only
// reach the directory through Client.Commit.
type Entry struct {
	DN      string
	attrs   map[string]attribute
	changes []Change
}

// NewEntry creates an entry from its DN and attribute values.
func NewEntry(dn string, attrs map[string][]string) *Entry {
	e := &Entry{DN: dn, attrs: make(map[string]attribute, len(attrs))}
	for name, values := range attrs {
		e.put(name, values)
	}
	return e
}

func (e *Entry) put(name string, values []string) {
	cp := make([]string, len(values))
	copy(cp, values)
	e.attrs[strings.ToLower(name)] = attribute{name: name, values: cp}
}

// Name returns the entry's common name, or its DN when it has none.
func (e *Entry) Name() string {
	if cn, ok := e.Value(constants.AttrCommonName); ok {
		return cn
	}
	return e.DN
}

// Value returns the first value of an attribute and whether it has any.
func (e *Entry) Value(name string) (string, bool) {
	a, ok := e.attrs[strings.ToLower(name)]
	if !ok || len(a.values) == 0 {
		return "", false
	}
	return a.values[0], true
}

// Values returns a copy of every value of an attribute.
func (e *Entry) Values(name string) []string {
	a, ok := e.attrs[strings.ToLower(name)]
	if !ok {
		return nil
	}
	out := make([]string, len(a.values))
	copy(out, a.values)
	return out
}

// Attributes returns the names of the loaded attributes, sorted.
func (e *Entry) Attributes() []string {
	names := make([]string, 0, len(e.attrs))
	for _, a := range e.attrs {
		names = append(names, a.name)
	}
	sort.Strings(names)
	return names
}

// Set stages a value for an attribute.
func (e *Entry) Set(name, value string) {
	e.changes = append(e.changes, Change{Op: OpSet, Attribute: name, Value: value})
}

// Clear stages the removal of every value of an attribute.
func (e *Entry) Clear(name string) {
	e.changes = append(e.changes, Change{Op: OpClear, Attribute: name})
}

// Changes returns the staged changes in the order they were made.
func (e *Entry) Changes() []Change {
	out := make([]Change, len(e.changes))
	copy(out, e.changes)
	return out
}

// Pending reports whether the entry has staged changes.
func (e *Entry) Pending() bool {
	return len(e.changes) > 0
}

// Apply folds the staged changes into the loaded attribute values and
// discards them. Clients call it after a successful commit.
func (e *Entry) Apply() {
	for _, c := range e.changes {
		key := strings.ToLower(c.Attribute)
		switch c.Op {
		case OpClear:
			delete(e.attrs, key)
		case OpSet:
			a, ok := e.attrs[key]
			if !ok {
				a = attribute{name: c.Attribute}
			}
			a.values = append(a.values, c.Value)
			e.attrs[key] = a
		}
	}
	e.changes = nil
}

// Discard drops every staged change.
func (e *Entry) Discard() {
	e.changes = nil
}

// Replacements collapses the staged changes into the final value set per
// attribute, keyed by the attribute name first used. An attribute mapped to
// an empty slice is to be deleted.
func (e *Entry) Replacements() ([]string, map[string][]string) {
	var order []string
	final := make(map[string][]string)
	names := make(map[string]string)
	for _, c := range e.changes {
		key := strings.ToLower(c.Attribute)
		name, seen := names[key]
		if !seen {
			name = c.Attribute
			names[key] = name
			order = append(order, name)
			final[name] = e.Values(name)
		}
		switch c.Op {
		case OpClear:
			final[name] = []string{}
		case OpSet:
			final[name] = append(final[name], c.Value)
		}
	}
	return order, final
}
