// Package pattern matches row keys against glob and regex patterns. It backs
// the --select flag that restricts a run to a subset of the source rows.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Type is the syntax of a pattern.
type Type int

const (
	// Glob uses shell-style wildcards (*, ?, []).
	Glob Type = iota
	// Regex uses regular expressions.
	Regex
	// Auto detects the syntax from the pattern text.
	Auto
)

// String returns a string representation of the Type.
func (t Type) String() string {
	switch t {
	case Glob:
		return "glob"
	case Regex:
		return "regex"
	case Auto:
		return "auto"
	default:
		return "unknown"
	}
}

// Pattern is a compiled pattern.
type Pattern struct {
	text     string
	typ      Type
	compiled *regexp.Regexp
}

// Options configures compilation.
type Options struct {
	// CaseInsensitive ignores case when matching.
	CaseInsensitive bool
}

// New compiles text as a pattern of type t. Globs match the whole input;
// regexes match anywhere unless anchored.
func New(t Type, text string, opts ...Options) (*Pattern, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if t == Auto {
		t = Detect(text)
	}

	expr := text
	switch t {
	case Glob:
		expr = GlobToRegex(text)
	case Regex:
	default:
		return nil, fmt.Errorf("unsupported pattern type: %v", t)
	}
	if o.CaseInsensitive && !strings.HasPrefix(expr, "(?i)") {
		expr = "(?i)" + expr
	}

	compiled, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid %s pattern %q: %w", t, text, err)
	}
	return &Pattern{text: text, typ: t, compiled: compiled}, nil
}

// Match reports whether input matches.
func (p *Pattern) Match(input string) bool {
	return p.compiled.MatchString(input)
}

// String returns the original pattern text.
func (p *Pattern) String() string {
	return p.text
}

// Type returns the resolved pattern type.
func (p *Pattern) Type() Type {
	return p.typ
}

// Detect guesses whether text is a regex or a glob.
func Detect(text string) Type {
	for _, indicator := range []string{
		"^", "$", `\d`, `\w`, `\s`, `\D`, `\W`, `\S`,
		"(?:", "(?i)", "{", "}", "+", "|", "(", ")",
	} {
		if strings.Contains(text, indicator) {
			return Regex
		}
	}
	return Glob
}

// GlobToRegex converts a glob into an anchored regular expression.
func GlobToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")

	for i := 0; i < len(glob); i++ {
		switch glob[i] {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			j := i + 1
			if j < len(glob) && (glob[j] == '!' || glob[j] == '^') {
				b.WriteString("[^")
				j++
			} else {
				b.WriteString("[")
			}
			for ; j < len(glob) && glob[j] != ']'; j++ {
				if glob[j] == '\\' && j+1 < len(glob) {
					b.WriteByte(glob[j])
					j++
				}
				b.WriteByte(glob[j])
			}
			if j < len(glob) {
				b.WriteString("]")
				i = j
			}
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(glob[i])))
		}
	}

	b.WriteString("$")
	return b.String()
}

// Selector combines include and exclude patterns. A pattern prefixed with
// "!" excludes. An input is selected when it matches no exclude and either
// there are no includes or it matches one of them.
type Selector struct {
	include []*Pattern
	exclude []*Pattern
}

// NewSelector compiles every pattern with auto-detected syntax. Empty
// patterns are ignored.
func NewSelector(patterns []string, opts ...Options) (*Selector, error) {
	s := &Selector{}
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		exclude := strings.HasPrefix(raw, "!")
		raw = strings.TrimPrefix(raw, "!")
		if raw == "" {
			continue
		}
		p, err := New(Auto, raw, opts...)
		if err != nil {
			return nil, err
		}
		if exclude {
			s.exclude = append(s.exclude, p)
		} else {
			s.include = append(s.include, p)
		}
	}
	return s, nil
}

// Empty reports whether the selector selects everything.
func (s *Selector) Empty() bool {
	return s == nil || len(s.include)+len(s.exclude) == 0
}

// Match reports whether input is selected.
func (s *Selector) Match(input string) bool {
	if s == nil {
		return true
	}
	for _, p := range s.exclude {
		if p.Match(input) {
			return false
		}
	}
	if len(s.include) == 0 {
		return true
	}
	for _, p := range s.include {
		if p.Match(input) {
			return true
		}
	}
	return false
}

// String returns the patterns joined by commas.
func (s *Selector) String() string {
	if s == nil {
		return ""
	}
	parts := make([]string, 0, len(s.include)+len(s.exclude))
	for _, p := range s.include {
		parts = append(parts, p.String())
	}
	for _, p := range s.exclude {
		parts = append(parts, "!"+p.String())
	}
	return strings.Join(parts, ",")
}
