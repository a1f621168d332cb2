package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/agentstation/adsync/pkg/matcher"
	"github.com/agentstation/adsync/pkg/reconciler"
)

// Outcome is what happened to one row.
type Outcome string

// Row outcomes.
const (
	// OutcomeUpdated means the entry had pending changes. In WhatIf mode
	// they were reported but not written.
	OutcomeUpdated Outcome = "updated"
	// OutcomeUnchanged means the entry already matched the row.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeUnmatched means no entry was found.
	OutcomeUnmatched Outcome = "unmatched"
	// OutcomeAmbiguous means the key matched several entries.
	OutcomeAmbiguous Outcome = "ambiguous"
	// OutcomeLooseFailed means the full-name fallback did not find exactly
	// one entry.
	OutcomeLooseFailed Outcome = "loose_failed"
	// OutcomeFailed means a search or the commit failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the row was excluded by the selection.
	OutcomeSkipped Outcome = "skipped"
)

// RowResult records the processing of one row.
type RowResult struct {
	Line    int                `json:"line" yaml:"line"`
	Key     string             `json:"key" yaml:"key"`
	Outcome Outcome            `json:"outcome" yaml:"outcome"`
	Match   string             `json:"match,omitempty" yaml:"match,omitempty"`
	Count   int                `json:"count,omitempty" yaml:"count,omitempty"`
	Loose   bool               `json:"loose,omitempty" yaml:"loose,omitempty"`
	DN      string             `json:"dn,omitempty" yaml:"dn,omitempty"`
	Name    string             `json:"name,omitempty" yaml:"name,omitempty"`
	Deltas  []reconciler.Delta `json:"deltas,omitempty" yaml:"deltas,omitempty"`
	Written bool               `json:"written,omitempty" yaml:"written,omitempty"`
	Error   string             `json:"error,omitempty" yaml:"error,omitempty"`
	Err     error              `json:"-" yaml:"-"`
}

func (r *RowResult) fail(err error) {
	r.Outcome = OutcomeFailed
	r.Err = err
	r.Error = err.Error()
}

func (r *RowResult) matched(res matcher.Result) {
	r.Match = res.Kind.String()
	r.Count = res.Count
	if res.Entry != nil {
		r.DN = res.Entry.DN
		r.Name = res.Entry.Name()
	}
}

// Stats are the counters of a run.
type Stats struct {
	Total        int `json:"total" yaml:"total"`
	Processed    int `json:"processed" yaml:"processed"`
	Updated      int `json:"updated" yaml:"updated"`
	Unchanged    int `json:"unchanged" yaml:"unchanged"`
	Unmatched    int `json:"unmatched" yaml:"unmatched"`
	Ambiguous    int `json:"ambiguous" yaml:"ambiguous"`
	LooseMatched int `json:"loose_matched" yaml:"loose_matched"`
	LooseFailed  int `json:"loose_failed" yaml:"loose_failed"`
	Failed       int `json:"failed" yaml:"failed"`
	Skipped      int `json:"skipped" yaml:"skipped"`
	Attributes   int `json:"attributes" yaml:"attributes"`
}

// Result is the outcome of a run.
type Result struct {
	RunID    string      `json:"run_id" yaml:"run_id"`
	Mode     Mode        `json:"-" yaml:"-"`
	ModeName string      `json:"mode" yaml:"mode"`
	State    State       `json:"-" yaml:"-"`
	Started  time.Time   `json:"started" yaml:"started"`
	Finished time.Time   `json:"finished" yaml:"finished"`
	Canceled bool        `json:"canceled,omitempty" yaml:"canceled,omitempty"`
	Stats    Stats       `json:"stats" yaml:"stats"`
	Rows     []RowResult `json:"rows" yaml:"rows"`
}

// HasChanges returns true if any row had pending changes.
func (r *Result) HasChanges() bool {
	return r.Stats.Updated > 0
}

// Duration returns how long the run took.
func (r *Result) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Summary returns a human-readable summary of the run.
func (r *Result) Summary() string {
	s := r.Stats
	verb := "updated"
	if r.Mode == WhatIf {
		verb = "to update"
	}

	parts := []string{
		fmt.Sprintf("%d/%d rows processed", s.Processed, s.Total),
		fmt.Sprintf("%d %s", s.Updated, verb),
		fmt.Sprintf("%d unchanged", s.Unchanged),
		fmt.Sprintf("%d unmatched", s.Unmatched),
		fmt.Sprintf("%d ambiguous", s.Ambiguous),
	}
	if s.LooseMatched > 0 || s.LooseFailed > 0 {
		parts = append(parts, fmt.Sprintf("%d loose matched", s.LooseMatched))
	}
	if s.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.Failed))
	}
	if s.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", s.Skipped))
	}

	summary := strings.Join(parts, ", ")
	if r.Mode == WhatIf {
		summary += " (what if)"
	}
	if r.Canceled {
		summary += " (canceled)"
	}
	return summary
}
