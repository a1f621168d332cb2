package adsync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentstation/adsync/pkg/journal"
	"github.com/agentstation/adsync/pkg/logging"
	"github.com/agentstation/adsync/pkg/mapping"
	"github.com/agentstation/adsync/pkg/source"
	"github.com/agentstation/adsync/pkg/sync"
)

// Sync loads the mapping and the input file, checks them against each other
// and reconciles every row against the directory. The directory is only
// contacted once the configuration is known to be usable.
//
// A configuration error returns no result. A fatal error during the run
// returns the partial result along with the error.
func (c *client) Sync(ctx context.Context, input, mappingPath string, opts ...SyncOption) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	options := sync.Defaults().Apply(opts...)
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if options.RunID == "" {
		options.RunID = uuid.NewString()
	}
	ctx = logging.WithRun(ctx, options.RunID)
	logger := logging.Ctx(ctx)

	m, err := mapping.LoadFile(mappingPath)
	if err != nil {
		return nil, err
	}
	batch, err := source.Load(input)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(options.KeyField, batch.Schema.Columns); err != nil {
		return nil, err
	}
	logger.Debug().
		Str("input", input).
		Str("mapping", mappingPath).
		Int("rows", batch.Len()).
		Int("pairs", m.Len()).
		Msg("Inputs loaded")

	dir, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	controller := sync.NewController(dir, m, append(opts, sync.WithRunID(options.RunID))...)

	info := RunInfo{
		ID:       options.RunID,
		Mode:     options.Mode.String(),
		Input:    input,
		Mapping:  mappingPath,
		KeyField: options.KeyField,
		Rows:     batch.Len(),
	}
	started := false
	controller.OnState(func(ctx context.Context, state sync.State) {
		if state != sync.Processing {
			return
		}
		started = true
		c.startJournal(ctx, info)
		c.hooks.triggerRunStarted(info)
	})
	controller.OnRow(func(ctx context.Context, n, total int, row sync.RowResult) {
		c.recordRow(ctx, options.RunID, row)
		c.hooks.triggerRow(n, total, row)
	})

	result, runErr := controller.Run(ctx, batch)
	if started {
		c.finishJournal(context.WithoutCancel(ctx), result, runErr)
		c.hooks.triggerRunFinished(result, runErr)
	}
	return result, runErr
}

// Journal writes never fail a run; they are logged and skipped.

func (c *client) startJournal(ctx context.Context, info RunInfo) {
	if c.journal == nil {
		return
	}
	err := c.journal.StartRun(ctx, journal.RunInfo{
		ID:        info.ID,
		Mode:      info.Mode,
		Input:     info.Input,
		Mapping:   info.Mapping,
		KeyField:  info.KeyField,
		Directory: c.config.describe(),
		Started:   time.Now(),
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("journal", c.journal.Path()).Msg("Failed to record run start")
	}
}

func (c *client) recordRow(ctx context.Context, runID string, row sync.RowResult) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordRow(context.WithoutCancel(ctx), runID, row); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int("line", row.Line).Msg("Failed to record row")
	}
}

func (c *client) finishJournal(ctx context.Context, result *Result, runErr error) {
	if c.journal == nil || result == nil {
		return
	}
	if err := c.journal.FinishRun(ctx, result, runErr); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("run_id", result.RunID).Msg("Failed to record run result")
	}
}
