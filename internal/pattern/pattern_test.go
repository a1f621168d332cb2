package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		text    string
		want    Type
		wantErr bool
	}{
		{"glob", Glob, "10*", Glob, false},
		{"regex", Regex, `^10\d+$`, Regex, false},
		{"invalid regex", Regex, "[unclosed", Regex, true},
		{"auto glob", Auto, "E-??", Glob, false},
		{"auto regex", Auto, `^\d{3}$`, Regex, false},
		{"auto plain", Auto, "123", Glob, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.typ, tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Type())
			assert.Equal(t, tt.text, p.String())
		})
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name  string
		typ   Type
		text  string
		opts  Options
		input string
		want  bool
	}{
		{"glob exact", Glob, "123", Options{}, "123", true},
		{"glob is anchored", Glob, "123", Options{}, "01234", false},
		{"glob star", Glob, "10*", Options{}, "1042", true},
		{"glob star crosses slashes", Glob, "a*", Options{}, "a/b", true},
		{"glob question", Glob, "E-??", Options{}, "E-42", true},
		{"glob class", Glob, "[AB]1", Options{}, "B1", true},
		{"glob negated class", Glob, "[!AB]1", Options{}, "B1", false},
		{"glob dot is literal", Glob, "1.2", Options{}, "1x2", false},
		{"glob case", Glob, "emp*", Options{}, "EMP1", false},
		{"glob case insensitive", Glob, "emp*", Options{CaseInsensitive: true}, "EMP1", true},
		{"regex unanchored", Regex, `\d{3}`, Options{}, "ab123", true},
		{"regex anchored", Regex, `^\d{3}$`, Options{}, "1234", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.typ, tt.text, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.input))
		})
	}
}

func TestGlobToRegex(t *testing.T) {
	tests := map[string]string{
		"*.csv":  `^.*\.csv$`,
		"a?c":    `^a.c$`,
		"[!x]y":  `^[^x]y$`,
		`a\*b`:   `^a\*b$`,
		"plain":  `^plain$`,
	}
	for glob, want := range tests {
		t.Run(glob, func(t *testing.T) {
			assert.Equal(t, want, GlobToRegex(glob))
		})
	}
}

func TestSelector(t *testing.T) {
	t.Run("empty selects everything", func(t *testing.T) {
		s, err := NewSelector(nil)
		require.NoError(t, err)
		assert.True(t, s.Empty())
		assert.True(t, s.Match("anything"))

		var nilSel *Selector
		assert.True(t, nilSel.Match("x"))
		assert.True(t, nilSel.Empty())
	})

	t.Run("includes", func(t *testing.T) {
		s, err := NewSelector([]string{"10*", `^2\d$`})
		require.NoError(t, err)
		assert.False(t, s.Empty())
		assert.True(t, s.Match("105"))
		assert.True(t, s.Match("25"))
		assert.False(t, s.Match("250"))
	})

	t.Run("excludes", func(t *testing.T) {
		s, err := NewSelector([]string{"1*", "!13*", " "})
		require.NoError(t, err)
		assert.True(t, s.Match("12"))
		assert.False(t, s.Match("130"))
		assert.False(t, s.Match("2"))
		assert.Equal(t, "1*,!13*", s.String())
	})

	t.Run("exclude only", func(t *testing.T) {
		s, err := NewSelector([]string{"!TEMP*"})
		require.NoError(t, err)
		assert.True(t, s.Match("100"))
		assert.False(t, s.Match("TEMP1"))
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := NewSelector([]string{"^(unclosed"})
		assert.Error(t, err)
	})
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "glob", Glob.String())
	assert.Equal(t, "regex", Regex.String())
	assert.Equal(t, "auto", Auto.String())
	assert.Equal(t, "unknown", Type(99).String())
}
