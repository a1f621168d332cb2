package directory

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Filter is a search filter in the attribute-equality subset of RFC 4515.
type Filter interface {
	// String renders the filter with values escaped.
	String() string
	// Matches evaluates the filter against an entry.
	Matches(e *Entry) bool
}

// Equal matches entries whose attribute has the value, ignoring case.
type Equal struct {
	Attribute string
	Value     string
}

// Eq returns an equality filter.
func Eq(attribute, value string) Equal {
	return Equal{Attribute: attribute, Value: value}
}

// String implements Filter.
func (f Equal) String() string {
	return "(" + f.Attribute + "=" + ldap.EscapeFilter(f.Value) + ")"
}

// Matches implements Filter.
func (f Equal) Matches(e *Entry) bool {
	for _, v := range e.Values(f.Attribute) {
		if strings.EqualFold(v, f.Value) {
			return true
		}
	}
	return false
}

// And matches entries that satisfy every sub-filter.
type And []Filter

// All returns the conjunction of filters.
func All(filters ...Filter) And {
	return And(filters)
}

// String implements Filter.
func (f And) String() string {
	var b strings.Builder
	b.WriteString("(&")
	for _, sub := range f {
		b.WriteString(sub.String())
	}
	b.WriteString(")")
	return b.String()
}

// Matches implements Filter.
func (f And) Matches(e *Entry) bool {
	for _, sub := range f {
		if !sub.Matches(e) {
			return false
		}
	}
	return len(f) > 0
}
