// Package reconciler computes per-attribute deltas between a source row and
// its matched directory entry, and stages the deltas that need writing.
//
// Reconcile has no side effects on the entry. Apply is the only function
// that stages writes, and it is only called in commit mode.
package reconciler

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/agentstation/adsync/pkg/constants"
	"github.com/agentstation/adsync/pkg/directory"
	"github.com/agentstation/adsync/pkg/logging"
	"github.com/agentstation/adsync/pkg/mapping"
	"github.com/agentstation/adsync/pkg/source"
)

// Delta is the comparison of one mapped attribute.
type Delta struct {
	Attribute   string `json:"attribute" yaml:"attribute"`
	Column      string `json:"column" yaml:"column"`
	SourceValue string `json:"source_value" yaml:"source_value"`
	OldValue    string `json:"old_value" yaml:"old_value"`
	// HadValue is false when the entry had no value for the attribute.
	HadValue bool   `json:"had_value" yaml:"had_value"`
	NewValue string `json:"new_value" yaml:"new_value"`
	Apply    bool   `json:"apply" yaml:"apply"`
	// Skipped marks a reference attribute that could not be resolved.
	Skipped bool   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// String returns a one-line description of the delta.
func (d Delta) String() string {
	switch {
	case d.Skipped:
		return fmt.Sprintf("%s: skipped (%s)", d.Attribute, d.Reason)
	case !d.HadValue:
		return fmt.Sprintf("%s: <unset> -> %q", d.Attribute, d.NewValue)
	case d.Apply:
		return fmt.Sprintf("%s: %q -> %q", d.Attribute, d.OldValue, d.NewValue)
	default:
		return fmt.Sprintf("%s: %q unchanged", d.Attribute, d.OldValue)
	}
}

// Pending returns the deltas that need writing.
func Pending(deltas []Delta) []Delta {
	var out []Delta
	for _, d := range deltas {
		if d.Apply {
			out = append(out, d)
		}
	}
	return out
}

// Reconciler compares rows with entries for one mapping.
type Reconciler struct {
	client     directory.Client
	mapping    *mapping.Mapping
	keyAttr    string
	includeKey bool
	references []string
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithKey controls whether the key attribute itself is reconciled.
// It is excluded by default.
func WithKey(include bool) Option {
	return func(r *Reconciler) {
		r.includeKey = include
	}
}

// WithReferenceAttributes replaces the set of attributes whose source value
// names another entry as "<given name> <surname>". The default is manager.
func WithReferenceAttributes(attrs ...string) Option {
	return func(r *Reconciler) {
		r.references = attrs
	}
}

// New creates a reconciler. client is used for reference lookups.
func New(client directory.Client, m *mapping.Mapping, keyField string, opts ...Option) (*Reconciler, error) {
	keyAttr, err := m.KeyAttribute(keyField)
	if err != nil {
		return nil, err
	}
	r := &Reconciler{
		client:     client,
		mapping:    m,
		keyAttr:    keyAttr,
		references: []string{constants.AttrManager},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// IsReference reports whether attr is resolved through a secondary lookup.
func (r *Reconciler) IsReference(attr string) bool {
	return slices.ContainsFunc(r.references, func(ref string) bool {
		return strings.EqualFold(ref, attr)
	})
}

// Reconcile returns one delta per mapped attribute, in mapping order. It
// only fails when ctx is done; lookup failures skip the attribute.
func (r *Reconciler) Reconcile(ctx context.Context, row source.Row, entry *directory.Entry) ([]Delta, error) {
	deltas := make([]Delta, 0, r.mapping.Len())
	for _, p := range r.mapping.Pairs() {
		if !r.includeKey && strings.EqualFold(p.Attribute, r.keyAttr) {
			continue
		}

		current, present := entry.Value(p.Attribute)
		d := Delta{
			Attribute:   p.Attribute,
			Column:      p.Source,
			SourceValue: row.Get(p.Source),
			OldValue:    current,
			HadValue:    present,
		}

		if r.IsReference(p.Attribute) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			resolved, reason := r.resolve(ctx, d.SourceValue)
			if reason != "" {
				d.Skipped = true
				d.Reason = reason
				deltas = append(deltas, d)
				continue
			}
			d.NewValue = resolved
		} else {
			d.NewValue = d.SourceValue
		}

		d.Apply = !present || current != d.NewValue
		deltas = append(deltas, d)
	}
	return deltas, nil
}

// resolve turns "<given name> <surname>" into the DN of the first entry
// with that given name and surname. A non-empty reason means the value
// could not be resolved.
func (r *Reconciler) resolve(ctx context.Context, value string) (string, string) {
	if value == "" {
		return "", "empty reference"
	}
	names := strings.Split(value, " ")
	if len(names) != 2 || names[0] == "" || names[1] == "" {
		return "", fmt.Sprintf("%q is not \"<first> <last>\"", value)
	}

	filter := directory.All(
		directory.Eq(constants.AttrGivenName, names[0]),
		directory.Eq(constants.AttrSurname, names[1]),
	)
	entries, err := r.client.Search(ctx, filter, []string{constants.AttrDistinguishedName})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("filter", filter.String()).Msg("Reference lookup failed")
		return "", fmt.Sprintf("lookup of %q failed", value)
	}
	if len(entries) == 0 {
		return "", fmt.Sprintf("no entry named %q", value)
	}
	if len(entries) > 1 {
		logging.Ctx(ctx).Warn().
			Str("filter", filter.String()).
			Int("count", len(entries)).
			Msg("Reference lookup matched several entries, using the first")
	}

	if dn, ok := entries[0].Value(constants.AttrDistinguishedName); ok {
		return dn, ""
	}
	return entries[0].DN, ""
}

// Apply stages every pending delta on entry: the attribute is cleared and
// the new value set. It returns the number of attributes staged.
func Apply(entry *directory.Entry, deltas []Delta) int {
	n := 0
	for _, d := range deltas {
		if !d.Apply {
			continue
		}
		entry.Clear(d.Attribute)
		if d.NewValue != "" {
			entry.Set(d.Attribute, d.NewValue)
		}
		n++
	}
	return n
}
