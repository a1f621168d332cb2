// Package matcher resolves a source row to at most one directory entry.
//
// The exact strategy searches by the key attribute and is authoritative.
// The loose strategy searches by full common name and is only used when the
// caller opts in after an exact search found nothing.
package matcher

import (
	"context"
	"slices"
	"strings"

	"github.com/agentstation/adsync/pkg/constants"
	"github.com/agentstation/adsync/pkg/directory"
	"github.com/agentstation/adsync/pkg/errors"
	"github.com/agentstation/adsync/pkg/mapping"
	"github.com/agentstation/adsync/pkg/source"
)

// Kind is the outcome of a match.
type Kind int

const (
	// None means no entry matched.
	None Kind = iota
	// Unique means exactly one entry matched.
	Unique
	// Ambiguous means more than one entry matched.
	Ambiguous
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Unique:
		return "unique"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// Result is the outcome of matching one row.
type Result struct {
	Kind Kind
	// Entry is set when Kind is Unique.
	Entry *directory.Entry
	// Count is the number of entries found.
	Count int
	// Filter is the rendered search filter.
	Filter string
}

// Matcher looks up directory entries for source rows.
type Matcher struct {
	client   directory.Client
	mapping  *mapping.Mapping
	keyField string
	keyAttr  string
	attrs    []string
}

// New creates a matcher. The key attribute is the directory attribute the
// key field is mapped to.
func New(client directory.Client, m *mapping.Mapping, keyField string) (*Matcher, error) {
	keyAttr, err := m.KeyAttribute(keyField)
	if err != nil {
		return nil, err
	}

	attrs := m.Attributes()
	for _, extra := range []string{constants.AttrCommonName, constants.AttrDistinguishedName} {
		if !slices.ContainsFunc(attrs, func(a string) bool { return strings.EqualFold(a, extra) }) {
			attrs = append(attrs, extra)
		}
	}

	return &Matcher{
		client:   client,
		mapping:  m,
		keyField: keyField,
		keyAttr:  keyAttr,
		attrs:    attrs,
	}, nil
}

// KeyAttribute returns the directory attribute used for exact matches.
func (m *Matcher) KeyAttribute() string {
	return m.keyAttr
}

// Attributes returns the attributes loaded for matched entries.
func (m *Matcher) Attributes() []string {
	out := make([]string, len(m.attrs))
	copy(out, m.attrs)
	return out
}

// Match finds the entry whose key attribute equals the row's key value.
// A row with an empty key matches nothing and is not searched.
func (m *Matcher) Match(ctx context.Context, row source.Row) (Result, error) {
	filter := directory.Eq(m.keyAttr, row.Get(m.keyField))
	if filter.Value == "" {
		return Result{Kind: None, Filter: filter.String()}, nil
	}
	return m.search(ctx, filter)
}

// Loose finds the entry whose common name equals "<given name> <surname>"
// taken from the row. It fails with a *errors.LooseMatchError when the
// mapping lacks either name attribute or the row leaves one empty; that
// error is a misconfiguration and must end the run.
func (m *Matcher) Loose(ctx context.Context, row source.Row) (Result, error) {
	first, firstOK := m.value(row, constants.AttrGivenName)
	last, lastOK := m.value(row, constants.AttrSurname)

	var missing []string
	if !firstOK {
		missing = append(missing, constants.AttrGivenName)
	}
	if !lastOK {
		missing = append(missing, constants.AttrSurname)
	}
	if len(missing) > 0 {
		return Result{}, &errors.LooseMatchError{Line: row.Line, Missing: missing}
	}

	return m.search(ctx, directory.Eq(constants.AttrCommonName, first+" "+last))
}

func (m *Matcher) search(ctx context.Context, filter directory.Filter) (Result, error) {
	res := Result{Filter: filter.String()}
	entries, err := m.client.Search(ctx, filter, m.attrs)
	if err != nil {
		return res, err
	}

	res.Count = len(entries)
	switch len(entries) {
	case 0:
		res.Kind = None
	case 1:
		res.Kind = Unique
		res.Entry = entries[0]
	default:
		res.Kind = Ambiguous
	}
	return res, nil
}

// value returns the row value mapped to attr, and false when the attribute
// is unmapped or the value is empty.
func (m *Matcher) value(row source.Row, attr string) (string, bool) {
	field, ok := m.mapping.Source(attr)
	if !ok {
		return "", false
	}
	v := row.Get(field)
	return v, v != ""
}
