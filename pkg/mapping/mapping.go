// Package mapping holds the field mapping table that ties source columns to
// directory attributes.
//
// A mapping is an ordered list of pairs. Source columns are unique; directory
// attribute names are compared case-insensitively, the way LDAP servers treat
// them.
package mapping

import (
	"fmt"
	"slices"
	"strings"

	"github.com/agentstation/adsync/pkg/errors"
)

// Pair maps one source column to one directory attribute.
type Pair struct {
	Source    string `json:"source" yaml:"source"`
	Attribute string `json:"attribute" yaml:"attribute"`
}

// Mapping is an ordered set of source-to-attribute pairs.
type Mapping struct {
	pairs    []Pair
	bySource map[string]int
}

// New creates a mapping from pairs. Pairs with an empty side or a source
// column already present are dropped.
func New(pairs ...Pair) *Mapping {
	m := &Mapping{bySource: make(map[string]int, len(pairs))}
	for _, p := range pairs {
		m.Add(p.Source, p.Attribute)
	}
	return m
}

// Add appends a pair and reports whether it was accepted.
func (m *Mapping) Add(source, attribute string) bool {
	if source == "" || attribute == "" {
		return false
	}
	if m.bySource == nil {
		m.bySource = make(map[string]int)
	}
	if _, exists := m.bySource[source]; exists {
		return false
	}
	m.bySource[source] = len(m.pairs)
	m.pairs = append(m.pairs, Pair{Source: source, Attribute: attribute})
	return true
}

// Pairs returns a copy of the pairs in file order.
func (m *Mapping) Pairs() []Pair {
	return slices.Clone(m.pairs)
}

// Len returns the number of pairs.
func (m *Mapping) Len() int {
	return len(m.pairs)
}

// Attribute returns the directory attribute mapped from a source column.
func (m *Mapping) Attribute(source string) (string, bool) {
	i, ok := m.bySource[source]
	if !ok {
		return "", false
	}
	return m.pairs[i].Attribute, true
}

// Source returns the first source column mapped to a directory attribute.
func (m *Mapping) Source(attribute string) (string, bool) {
	for _, p := range m.pairs {
		if strings.EqualFold(p.Attribute, attribute) {
			return p.Source, true
		}
	}
	return "", false
}

// Attributes returns the distinct mapped directory attributes in file order.
func (m *Mapping) Attributes() []string {
	attrs := make([]string, 0, len(m.pairs))
	for _, p := range m.pairs {
		if !slices.ContainsFunc(attrs, func(a string) bool { return strings.EqualFold(a, p.Attribute) }) {
			attrs = append(attrs, p.Attribute)
		}
	}
	return attrs
}

// KeyAttribute returns the directory attribute the key column maps to.
func (m *Mapping) KeyAttribute(keyField string) (string, error) {
	attr, ok := m.Attribute(keyField)
	if !ok {
		return "", &errors.ValidationError{
			Field:   "key",
			Value:   keyField,
			Message: fmt.Sprintf("unique key field %q is not mapped to a directory attribute", keyField),
		}
	}
	return attr, nil
}

// Validate checks the mapping against the source columns before a run. The
// key field has to be both mapped and present in the source schema.
func (m *Mapping) Validate(keyField string, columns []string) error {
	if m.Len() == 0 {
		return &errors.ValidationError{Field: "mapping", Message: "no field mappings defined"}
	}
	if keyField == "" {
		return &errors.ValidationError{Field: "key", Message: "unique key field is required"}
	}
	if !slices.Contains(columns, keyField) {
		return &errors.ValidationError{
			Field:   "key",
			Value:   keyField,
			Message: fmt.Sprintf("unique key field %q has not been found in the input file", keyField),
		}
	}
	_, err := m.KeyAttribute(keyField)
	return err
}
