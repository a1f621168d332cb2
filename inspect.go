package adsync

import (
	"slices"
	"strings"

	"github.com/agentstation/adsync/pkg/constants"
	"github.com/agentstation/adsync/pkg/mapping"
	"github.com/agentstation/adsync/pkg/source"
)

// Plan describes how an input file would be reconciled, without touching
// the directory.
type Plan struct {
	Input        string         `json:"input" yaml:"input"`
	Mapping      string         `json:"mapping" yaml:"mapping"`
	Delimiter    string         `json:"delimiter" yaml:"delimiter"`
	Rows         int            `json:"rows" yaml:"rows"`
	KeyField     string         `json:"key_field" yaml:"key_field"`
	KeyAttribute string         `json:"key_attribute" yaml:"key_attribute"`
	Columns      []ColumnPlan   `json:"columns" yaml:"columns"`
	Unused       []mapping.Pair `json:"unused,omitempty" yaml:"unused,omitempty"`
}

// ColumnPlan is the fate of one input column.
type ColumnPlan struct {
	Column    string `json:"column" yaml:"column"`
	Attribute string `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Key       bool   `json:"key,omitempty" yaml:"key,omitempty"`
}

// Display returns the attribute a column maps to, or a marker when the
// column is the key or is ignored.
func (c ColumnPlan) Display() string {
	switch {
	case c.Key:
		return c.Attribute + " " + constants.UniqueKeyMarker
	case c.Attribute == "":
		return constants.IgnoredColumn
	default:
		return c.Attribute
	}
}

// Inspect loads the mapping and the input file and checks them against the
// key field the same way Sync does before it connects.
func Inspect(input, mappingPath, keyField string) (*Plan, error) {
	m, err := mapping.LoadFile(mappingPath)
	if err != nil {
		return nil, err
	}
	batch, err := source.Load(input)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(keyField, batch.Schema.Columns); err != nil {
		return nil, err
	}
	keyAttr, err := m.KeyAttribute(keyField)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Input:        input,
		Mapping:      mappingPath,
		Delimiter:    delimiterName(batch.Schema.Delimiter),
		Rows:         batch.Len(),
		KeyField:     keyField,
		KeyAttribute: keyAttr,
	}
	for _, col := range batch.Schema.Columns {
		attr, _ := m.Attribute(col)
		plan.Columns = append(plan.Columns, ColumnPlan{
			Column:    col,
			Attribute: attr,
			Key:       col == keyField,
		})
	}
	for _, p := range m.Pairs() {
		if !slices.Contains(batch.Schema.Columns, p.Source) {
			plan.Unused = append(plan.Unused, p)
		}
	}
	return plan, nil
}

func delimiterName(r rune) string {
	switch r {
	case '\t':
		return "tab"
	case ' ':
		return "space"
	default:
		return strings.TrimSpace(string(r))
	}
}
