// Package source reads the delimited source-of-truth file into an ordered,
// fully materialized batch of rows.
package source

import (
	"bytes"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/agentstation/adsync/pkg/errors"
)

// Schema describes the layout of a delimited file.
type Schema struct {
	Delimiter rune     `json:"delimiter" yaml:"delimiter"`
	Columns   []string `json:"columns" yaml:"columns"`
	HasHeader bool     `json:"has_header" yaml:"has_header"`
}

// Row is one source record keyed by column name. Rows are never modified
// after they are read.
type Row struct {
	Line   int
	values map[string]string
}

// NewRow builds a row from column values.
func NewRow(line int, values map[string]string) Row {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return Row{Line: line, values: cp}
}

// Get returns the value of a column, or "" when the column is absent.
func (r Row) Get(column string) string {
	return r.values[column]
}

// Lookup returns the value of a column and whether the column exists.
func (r Row) Lookup(column string) (string, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Batch is the result of reading a source file.
type Batch struct {
	Path   string
	Schema Schema
	Rows   []Row
}

// Len returns the number of data rows, excluding the header.
func (b *Batch) Len() int {
	return len(b.Rows)
}

// Load detects the schema of the file at path and reads all rows.
func Load(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}

	schema, err := DetectSchema(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WrapParse("csv", path, err)
	}

	rows, err := Read(bytes.NewReader(data), schema)
	if err != nil {
		var pe *errors.ParseError
		if stderrors.As(err, &pe) {
			pe.File = path
			return nil, pe
		}
		return nil, errors.WrapParse("csv", path, err)
	}

	return &Batch{Path: path, Schema: schema, Rows: rows}, nil
}

// Read parses every record of r using schema. When the schema has a header
// the first record is skipped, and it also provides the column names if the
// schema does not list any.
func Read(r io.Reader, schema Schema) ([]Row, error) {
	reader := newReader(r, schema.Delimiter)

	columns := schema.Columns
	first := true
	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}
		line, _ := reader.FieldPos(0)

		if first && schema.HasHeader {
			first = false
			if len(columns) == 0 {
				columns = cleanColumns(record)
			}
			continue
		}
		first = false
		if len(columns) == 0 {
			return nil, &errors.ParseError{Format: "csv", Line: line, Message: "no column names available"}
		}

		if len(record) != len(columns) {
			return nil, &errors.ParseError{
				Format:  "csv",
				Line:    line,
				Message: fmt.Sprintf("expected %d fields, got %d", len(columns), len(record)),
			}
		}
		values := make(map[string]string, len(columns))
		for i, col := range columns {
			values[col] = record[i]
		}
		rows = append(rows, Row{Line: line, values: values})
	}
	return rows, nil
}

func csvError(err error) error {
	var ce *csv.ParseError
	if stderrors.As(err, &ce) {
		return &errors.ParseError{Format: "csv", Line: ce.Line, Message: ce.Err.Error(), Err: err}
	}
	return &errors.ParseError{Format: "csv", Message: err.Error(), Err: err}
}

func newReader(r io.Reader, delimiter rune) *csv.Reader {
	reader := csv.NewReader(r)
	if delimiter != 0 {
		reader.Comma = delimiter
	}
	reader.LazyQuotes = true
	reader.ReuseRecord = false
	return reader
}

// cleanColumns strips a UTF-8 BOM and surrounding spaces from header names.
func cleanColumns(record []string) []string {
	columns := make([]string, len(record))
	for i, c := range record {
		if i == 0 {
			c = strings.TrimPrefix(c, "\ufeff")
		}
		columns[i] = strings.TrimSpace(c)
	}
	return columns
}
