// Package sync drives a reconciliation run: it validates the configuration,
// walks the source rows in order, matches and reconciles each one, and
// writes the resulting changes unless the run is a what-if run.
package sync

import (
	"time"

	"github.com/agentstation/adsync/pkg/errors"
)

// Mode selects whether a run writes to the directory.
type Mode int

const (
	// Commit writes pending changes.
	Commit Mode = iota
	// WhatIf only reports the changes that would be written.
	WhatIf
)

// String returns the string representation of a Mode.
func (m Mode) String() string {
	switch m {
	case Commit:
		return "commit"
	case WhatIf:
		return "whatif"
	default:
		return "unknown"
	}
}

// Options controls a run.
type Options struct {
	// KeyField is the source column identifying a row.
	KeyField string
	// Mode is fixed for the whole run.
	Mode Mode
	// LooseMatching falls back to a full-name search when no entry has the
	// row's key.
	LooseMatching bool
	// LooseIncludesKey reconciles the key attribute too on loosely matched
	// entries, so a found entry receives the source key.
	LooseIncludesKey bool
	// ReferenceAttributes are resolved from "<first> <last>" to a DN.
	// Empty means manager.
	ReferenceAttributes []string
	// Select restricts the run to rows whose key matches one of these
	// glob or regex patterns. A leading "!" excludes.
	Select []string
	// Timeout bounds the entire run. Zero means no limit.
	Timeout time.Duration
	// RunID identifies the run. Generated when empty.
	RunID string
}

// Option is a function that configures sync Options.
type Option func(*Options)

// Defaults returns the default sync options.
func Defaults() *Options {
	return &Options{
		Mode:             Commit,
		LooseMatching:    false,
		LooseIncludesKey: true,
	}
}

// Apply applies the given options to the sync options.
func (o *Options) Apply(opts ...Option) *Options {
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Validate checks if the sync options are valid.
func (o *Options) Validate() error {
	if o.KeyField == "" {
		return &errors.ValidationError{
			Field:   "KeyField",
			Message: "unique key field is required",
		}
	}
	if o.Mode != Commit && o.Mode != WhatIf {
		return &errors.ValidationError{
			Field:   "Mode",
			Value:   o.Mode,
			Message: "unknown run mode",
		}
	}
	if o.Timeout < 0 {
		return &errors.ValidationError{
			Field:   "Timeout",
			Value:   o.Timeout,
			Message: "timeout must be non-negative",
		}
	}
	return nil
}

// WithKeyField sets the source column used to match rows.
func WithKeyField(field string) Option {
	return func(o *Options) {
		o.KeyField = field
	}
}

// WithMode sets the run mode.
func WithMode(mode Mode) Option {
	return func(o *Options) {
		o.Mode = mode
	}
}

// WithWhatIf switches to WhatIf mode when enabled.
func WithWhatIf(enabled bool) Option {
	return func(o *Options) {
		if enabled {
			o.Mode = WhatIf
		} else {
			o.Mode = Commit
		}
	}
}

// WithLooseMatching enables the full-name fallback.
func WithLooseMatching(enabled bool) Option {
	return func(o *Options) {
		o.LooseMatching = enabled
	}
}

// WithLooseIncludesKey controls whether loose matches reconcile the key
// attribute.
func WithLooseIncludesKey(include bool) Option {
	return func(o *Options) {
		o.LooseIncludesKey = include
	}
}

// WithReferenceAttributes sets the attributes resolved by name lookup.
func WithReferenceAttributes(attrs ...string) Option {
	return func(o *Options) {
		o.ReferenceAttributes = attrs
	}
}

// WithSelect restricts the run to matching keys.
func WithSelect(patterns ...string) Option {
	return func(o *Options) {
		o.Select = patterns
	}
}

// WithTimeout bounds the entire run.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.Timeout = timeout
	}
}

// WithRunID sets the run identifier.
func WithRunID(id string) Option {
	return func(o *Options) {
		o.RunID = id
	}
}
