package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/adsync/internal/pattern"
	"github.com/agentstation/adsync/pkg/directory"
	"github.com/agentstation/adsync/pkg/errors"
	"github.com/agentstation/adsync/pkg/logging"
	"github.com/agentstation/adsync/pkg/mapping"
	"github.com/agentstation/adsync/pkg/matcher"
	"github.com/agentstation/adsync/pkg/reconciler"
	"github.com/agentstation/adsync/pkg/source"
)

// RowHook observes each row after it was processed. n is 1-based.
type RowHook func(ctx context.Context, n, total int, row RowResult)

// StateHook observes state transitions.
type StateHook func(ctx context.Context, state State)

// Controller runs one reconciliation over a batch of rows. It is not safe
// for concurrent use; rows are processed sequentially on the caller's
// goroutine.
type Controller struct {
	client  directory.Client
	mapping *mapping.Mapping
	options *Options

	state   State
	onRow   []RowHook
	onState []StateHook

	matcher  *matcher.Matcher
	exact    *reconciler.Reconciler
	loose    *reconciler.Reconciler
	selector *pattern.Selector
}

// NewController creates a controller.
func NewController(client directory.Client, m *mapping.Mapping, opts ...Option) *Controller {
	return &Controller{
		client:  client,
		mapping: m,
		options: Defaults().Apply(opts...),
		state:   Init,
	}
}

// OnRow registers a row hook.
func (c *Controller) OnRow(fn RowHook) {
	c.onRow = append(c.onRow, fn)
}

// OnState registers a state hook.
func (c *Controller) OnState(fn StateHook) {
	c.onState = append(c.onState, fn)
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// Options returns the effective options.
func (c *Controller) Options() Options {
	return *c.options
}

func (c *Controller) transition(ctx context.Context, s State) {
	c.state = s
	logging.Ctx(ctx).Debug().Str("state", s.String()).Msg("Run state changed")
	for _, fn := range c.onState {
		fn(ctx, s)
	}
}

// Validate checks the options and the key field against the mapping and
// the source columns, and prepares the matcher and reconcilers. Any error
// is a configuration error.
func (c *Controller) Validate(ctx context.Context, schema source.Schema) error {
	c.transition(ctx, Validating)

	if err := c.options.Validate(); err != nil {
		return err
	}
	if err := c.mapping.Validate(c.options.KeyField, schema.Columns); err != nil {
		return err
	}

	selector, err := pattern.NewSelector(c.options.Select)
	if err != nil {
		return &errors.ValidationError{Field: "select", Value: c.options.Select, Message: err.Error()}
	}
	c.selector = selector

	c.matcher, err = matcher.New(c.client, c.mapping, c.options.KeyField)
	if err != nil {
		return err
	}

	var refs []reconciler.Option
	if len(c.options.ReferenceAttributes) > 0 {
		refs = append(refs, reconciler.WithReferenceAttributes(c.options.ReferenceAttributes...))
	}
	c.exact, err = reconciler.New(c.client, c.mapping, c.options.KeyField,
		append(refs, reconciler.WithKey(false))...)
	if err != nil {
		return err
	}
	c.loose, err = reconciler.New(c.client, c.mapping, c.options.KeyField,
		append(refs, reconciler.WithKey(c.options.LooseIncludesKey))...)
	if err != nil {
		return err
	}

	for _, col := range schema.Columns {
		if _, ok := c.mapping.Attribute(col); !ok {
			logging.Ctx(ctx).Debug().Str("column", col).Msg("Column is not mapped and will be ignored")
		}
	}
	return nil
}

// Run validates and then processes every row of batch. A configuration
// error aborts before any row is processed and returns no result. A fatal
// error during processing, such as an unusable loose-match configuration or
// a lost connection, stops the run and is returned with the partial result.
// Canceling ctx stops the run between rows; the partial result is returned
// without error and marked canceled.
func (c *Controller) Run(ctx context.Context, batch *source.Batch) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.state != Init {
		return nil, &errors.ValidationError{Field: "state", Value: c.state.String(), Message: "a controller runs only once"}
	}

	if c.options.RunID == "" {
		c.options.RunID = uuid.NewString()
	}
	ctx = logging.WithRun(ctx, c.options.RunID)

	if c.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.Timeout)
		defer cancel()
	}

	result := &Result{
		RunID:    c.options.RunID,
		Mode:     c.options.Mode,
		ModeName: c.options.Mode.String(),
		Started:  time.Now(),
	}
	result.Stats.Total = batch.Len()

	if err := c.Validate(ctx, batch.Schema); err != nil {
		c.transition(ctx, Done)
		return nil, err
	}

	c.transition(ctx, Processing)
	logging.Ctx(ctx).Info().
		Str("mode", c.options.Mode.String()).
		Int("rows", batch.Len()).
		Bool("loose_matching", c.options.LooseMatching).
		Msg("Processing rows")

	var fatal error
	for i, row := range batch.Rows {
		if ctx.Err() != nil {
			result.Canceled = true
			break
		}

		rr, err := c.process(ctx, row)
		if errors.IsCanceled(err) || stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			result.Canceled = true
			break
		}

		c.count(&result.Stats, rr)
		result.Rows = append(result.Rows, rr)
		for _, fn := range c.onRow {
			fn(ctx, i+1, batch.Len(), rr)
		}

		if err != nil && errors.IsFatal(err) {
			fatal = err
			break
		}
	}

	result.State = Done
	result.Finished = time.Now()
	c.transition(ctx, Done)

	event := logging.Ctx(ctx).Info()
	if fatal != nil {
		event = logging.Ctx(ctx).Error().Err(fatal)
	}
	event.
		Int("processed", result.Stats.Processed).
		Int("updated", result.Stats.Updated).
		Int("unchanged", result.Stats.Unchanged).
		Int("unmatched", result.Stats.Unmatched).
		Int("ambiguous", result.Stats.Ambiguous).
		Int("failed", result.Stats.Failed).
		Bool("canceled", result.Canceled).
		Dur("duration", result.Duration()).
		Msg(result.Summary())

	return result, fatal
}

// process handles one row. The returned error is the row's failure, which
// is fatal, a cancellation, or already recorded on the RowResult.
func (c *Controller) process(ctx context.Context, row source.Row) (RowResult, error) {
	key := row.Get(c.options.KeyField)
	rr := RowResult{Line: row.Line, Key: key}
	ctx = logging.WithRow(ctx, row.Line, key)
	logger := logging.Ctx(ctx)

	if !c.selector.Match(key) {
		rr.Outcome = OutcomeSkipped
		logger.Debug().Msg("Row not selected")
		return rr, nil
	}

	res, err := c.matcher.Match(ctx, row)
	if err != nil {
		rr.fail(err)
		logger.Error().Err(err).Str("filter", res.Filter).Msg("Search failed")
		return rr, err
	}
	rr.matched(res)

	switch res.Kind {
	case matcher.Unique:
		return c.reconcile(ctx, c.exact, row, res.Entry, rr)

	case matcher.Ambiguous:
		rr.Outcome = OutcomeAmbiguous
		rr.Err = fmt.Errorf("%w: %d entries for %s", errors.ErrAmbiguous, res.Count, res.Filter)
		logger.Warn().Int("count", res.Count).Str("filter", res.Filter).Msg("Several entries share the key")
		return rr, nil
	}

	if !c.options.LooseMatching {
		rr.Outcome = OutcomeUnmatched
		logger.Warn().Str("filter", res.Filter).Msg("No entry found")
		return rr, nil
	}

	loose, err := c.matcher.Loose(ctx, row)
	if err != nil {
		rr.fail(err)
		logger.Error().Err(err).Msg("Loose match failed")
		return rr, err
	}
	rr.matched(loose)
	rr.Loose = true

	if loose.Kind != matcher.Unique {
		rr.Outcome = OutcomeLooseFailed
		logger.Warn().
			Int("count", loose.Count).
			Str("filter", loose.Filter).
			Msg("Loose match did not find exactly one entry")
		return rr, nil
	}
	logger.Info().Str("dn", loose.Entry.DN).Msg("Loosely matched by name")
	return c.reconcile(ctx, c.loose, row, loose.Entry, rr)
}

func (c *Controller) reconcile(ctx context.Context, rec *reconciler.Reconciler, row source.Row, entry *directory.Entry, rr RowResult) (RowResult, error) {
	ctx = logging.WithEntry(ctx, entry.DN)
	logger := logging.Ctx(ctx)

	deltas, err := rec.Reconcile(ctx, row, entry)
	if err != nil {
		return rr, err
	}
	rr.Deltas = deltas

	for _, d := range deltas {
		switch {
		case d.Skipped:
			logger.Warn().Str("attribute", d.Attribute).Str("reason", d.Reason).Msg("Attribute skipped")
		case d.Apply:
			logger.Info().
				Str("attribute", d.Attribute).
				Str("old", d.OldValue).
				Bool("was_set", d.HadValue).
				Str("new", d.NewValue).
				Msg("Attribute differs")
		default:
			logger.Debug().Str("attribute", d.Attribute).Msg("Attribute unchanged")
		}
	}

	if len(reconciler.Pending(deltas)) == 0 {
		rr.Outcome = OutcomeUnchanged
		return rr, nil
	}
	rr.Outcome = OutcomeUpdated
	if c.options.Mode == WhatIf {
		return rr, nil
	}

	reconciler.Apply(entry, deltas)
	if err := c.client.Commit(ctx, entry); err != nil {
		entry.Discard()
		rr.fail(err)
		logger.Error().Err(err).Msg("Commit failed")
		return rr, err
	}
	rr.Written = true
	logger.Info().Msg("Entry updated")
	return rr, nil
}

func (c *Controller) count(s *Stats, rr RowResult) {
	if rr.Outcome == OutcomeSkipped {
		s.Skipped++
		return
	}
	s.Processed++

	if rr.Loose && rr.DN != "" && rr.Match == matcher.Unique.String() {
		s.LooseMatched++
	}

	switch rr.Outcome {
	case OutcomeUpdated:
		s.Updated++
		s.Attributes += len(reconciler.Pending(rr.Deltas))
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeUnmatched:
		s.Unmatched++
	case OutcomeLooseFailed:
		s.LooseFailed++
		s.Unmatched++
	case OutcomeAmbiguous:
		s.Ambiguous++
	case OutcomeFailed:
		s.Failed++
	}
}
