package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/agentstation/adsync"
	"github.com/agentstation/adsync/internal/cmd/emoji"
	"github.com/agentstation/adsync/pkg/constants"
	"github.com/agentstation/adsync/pkg/journal"
	"github.com/agentstation/adsync/pkg/sync"
)

// Result writes a run result. Tables list the rows that matter: updated,
// unmatched, ambiguous and failed rows, or every row when wide.
func Result(w io.Writer, format Format, result *adsync.Result) error {
	if !format.IsTable() {
		return NewFormatter(format).Format(w, result)
	}

	data := Data{
		Headers:   []string{"Line", "Key", "Outcome", "Entry", "Changes"},
		Alignment: []Align{AlignRight, AlignLeft, AlignLeft, AlignLeft, AlignLeft},
	}
	for _, row := range result.Rows {
		if format != FormatWide && (row.Outcome == sync.OutcomeUnchanged || row.Outcome == sync.OutcomeSkipped) {
			continue
		}
		data.Rows = append(data.Rows, []string{
			strconv.Itoa(row.Line),
			row.Key,
			outcome(row),
			row.Name,
			changes(row, format == FormatWide),
		})
	}
	if len(data.Rows) == 0 {
		return nil
	}
	return NewFormatter(format).Format(w, data)
}

// Summary writes the one-line summary of a run.
func Summary(w io.Writer, result *adsync.Result) {
	fmt.Fprintf(w, "%s %s\n", symbol(result), result.Summary())
}

// Plan writes how the columns of an input file map to attributes.
func Plan(w io.Writer, format Format, plan *adsync.Plan) error {
	if !format.IsTable() {
		return NewFormatter(format).Format(w, plan)
	}

	data := Data{Headers: []string{"Column", "Attribute"}}
	for _, col := range plan.Columns {
		data.Rows = append(data.Rows, []string{col.Column, col.Display()})
	}
	if err := NewFormatter(format).Format(w, data); err != nil {
		return err
	}

	fmt.Fprintf(w, "%d rows, delimiter %q, key %s -> %s\n",
		plan.Rows, plan.Delimiter, plan.KeyField, plan.KeyAttribute)
	for _, p := range plan.Unused {
		fmt.Fprintf(w, "%s mapping %s=%s has no column in the input file\n", emoji.Warning, p.Source, p.Attribute)
	}
	return nil
}

// Runs writes a list of journaled runs.
func Runs(w io.Writer, format Format, runs []journal.Run) error {
	if !format.IsTable() {
		return NewFormatter(format).Format(w, runs)
	}

	data := Data{
		Headers:   []string{"ID", "Started", "Mode", "Status", "Input", "Rows", "Updated", "Unmatched", "Failed"},
		Alignment: []Align{AlignLeft, AlignLeft, AlignLeft, AlignLeft, AlignLeft, AlignRight, AlignRight, AlignRight, AlignRight},
	}
	for _, r := range runs {
		data.Rows = append(data.Rows, []string{
			r.ID,
			r.Started.Local().Format(constants.TimeFormatHuman),
			r.Mode,
			r.Status,
			r.Input,
			strconv.Itoa(r.Stats.Processed),
			strconv.Itoa(r.Stats.Updated),
			strconv.Itoa(r.Stats.Unmatched),
			strconv.Itoa(r.Stats.Failed),
		})
	}
	return NewFormatter(format).Format(w, data)
}

// RunDetail is a run with its recorded deltas.
type RunDetail struct {
	journal.Run `yaml:",inline"`
	Deltas      []journal.Delta `json:"deltas" yaml:"deltas"`
}

// Run writes one journaled run and its deltas.
func Run(w io.Writer, format Format, detail RunDetail) error {
	if !format.IsTable() {
		return NewFormatter(format).Format(w, detail)
	}

	r := detail.Run
	fmt.Fprintf(w, "Run %s (%s, %s)\n", r.ID, r.Mode, r.Status)
	fmt.Fprintf(w, "  input:     %s\n", r.Input)
	fmt.Fprintf(w, "  mapping:   %s\n", r.Mapping)
	fmt.Fprintf(w, "  key:       %s\n", r.KeyField)
	fmt.Fprintf(w, "  directory: %s\n", r.Directory)
	fmt.Fprintf(w, "  started:   %s\n", r.Started.Local().Format(constants.TimeFormatHuman))
	if r.Finished != nil {
		fmt.Fprintf(w, "  finished:  %s\n", r.Finished.Local().Format(constants.TimeFormatHuman))
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  error:     %s\n", r.Error)
	}

	data := Data{
		Headers:   []string{"Line", "Key", "Attribute", "Old", "New", "Status"},
		Alignment: []Align{AlignRight},
	}
	for _, d := range detail.Deltas {
		if !d.Apply && !d.Skipped && format != FormatWide {
			continue
		}
		data.Rows = append(data.Rows, []string{
			strconv.Itoa(d.Line),
			d.Key,
			d.Attribute,
			oldValue(d.OldValue, d.HadValue),
			d.NewValue,
			deltaStatus(d),
		})
	}
	if len(data.Rows) == 0 {
		return nil
	}
	return NewFormatter(format).Format(w, data)
}

func outcome(row sync.RowResult) string {
	s := string(row.Outcome)
	if row.Loose {
		s += " (name)"
	}
	if row.Error != "" {
		s += ": " + row.Error
	}
	return s
}

func changes(row sync.RowResult, all bool) string {
	var parts []string
	for _, d := range row.Deltas {
		if d.Apply || d.Skipped || all {
			parts = append(parts, d.String())
		}
	}
	if row.Outcome == sync.OutcomeAmbiguous {
		return fmt.Sprintf("%d entries share this key", row.Count)
	}
	return strings.Join(parts, "\n")
}

func oldValue(v string, had bool) string {
	if !had {
		return "<unset>"
	}
	return v
}

func deltaStatus(d journal.Delta) string {
	switch {
	case d.Skipped:
		return "skipped: " + d.Reason
	case !d.Apply:
		return "unchanged"
	case d.Written:
		return "written"
	default:
		return "pending"
	}
}

func symbol(result *adsync.Result) string {
	switch {
	case result.Canceled:
		return emoji.Stop
	case result.Stats.Failed > 0:
		return emoji.Warning
	default:
		return emoji.Success
	}
}
