package mapping

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/adsync/pkg/errors"
	"github.com/agentstation/adsync/pkg/logging"
)

// file is the YAML form of a mapping file.
type file struct {
	Mappings []Pair `yaml:"mappings"`
}

// LoadFile reads a mapping file. Files ending in .yaml or .yml are parsed as
// YAML, everything else as source=attribute lines.
func LoadFile(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		m, err := ParseYAML(data)
		if err != nil {
			return nil, errors.WrapParse("yaml", path, err)
		}
		return m, nil
	default:
		return Parse(bytes.NewReader(data))
	}
}

// Parse reads source=attribute lines. Lines that do not split into exactly
// two non-empty tokens are ignored.
func Parse(r io.Reader) (*Mapping, error) {
	m := New()
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		parts := strings.Split(strings.TrimRight(scanner.Text(), "\r"), "=")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		if !m.Add(parts[0], parts[1]) {
			logging.Warn().
				Int("line", line).
				Str("source", parts[0]).
				Msg("Duplicate source field in mapping ignored")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.NewParseError("mapping", "", err.Error(), err)
	}
	return m, nil
}

// ParseYAML reads a mapping document of the form
//
//	mappings:
//	  - source: EmpID
//	    attribute: employeeID
func ParseYAML(data []byte) (*Mapping, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	m := New()
	for _, p := range f.Mappings {
		if !m.Add(p.Source, p.Attribute) {
			logging.Warn().
				Str("source", p.Source).
				Str("attribute", p.Attribute).
				Msg("Invalid or duplicate mapping entry ignored")
		}
	}
	return m, nil
}
