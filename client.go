// Package adsync reconciles a delimited source-of-truth file against an
// LDAP directory. It matches every row to a directory entry by a unique key,
// optionally falling back to the full name, compares the mapped attributes
// and writes the differences, or only reports them in what-if mode.
//
// The Client wires the pieces together: the mapping and source loaders,
// the directory connection with its timeout and rate limit, the run
// controller and the optional run journal.
//
// Example usage:
//
//	client, err := adsync.New(
//	    adsync.WithLDAP(ldap.Config{Domain: "example.com"}),
//	    adsync.WithJournal("~/.adsync/journal.db"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.OnRow(func(n, total int, row adsync.RowResult) {
//	    fmt.Printf("%d/%d: %s %s\n", n, total, row.Key, row.Outcome)
//	})
//
//	result, err := client.Sync(ctx, "users.csv", "mapping.txt",
//	    sync.WithKeyField("EmployeeNumber"),
//	    sync.WithWhatIf(true),
//	)
package adsync

import (
	"context"
	stderrors "errors"
	"fmt"
	gosync "sync"

	"github.com/agentstation/adsync/pkg/directory"
	"github.com/agentstation/adsync/pkg/directory/ldap"
	"github.com/agentstation/adsync/pkg/directory/memory"
	"github.com/agentstation/adsync/pkg/journal"
	"github.com/agentstation/adsync/pkg/logging"
	"github.com/agentstation/adsync/pkg/sync"
)

// Aliases for the run types exposed through the Client.
type (
	// Result is the outcome of a run.
	Result = sync.Result
	// RowResult is the outcome of one row.
	RowResult = sync.RowResult
	// SyncOption configures a run.
	SyncOption = sync.Option
)

// Client runs reconciliations against one directory.
type Client interface {
	// Sync reconciles the rows of the input file against the directory
	// using the mapping file.
	Sync(ctx context.Context, input, mappingPath string, opts ...SyncOption) (*Result, error)

	// Journal returns the run journal, or nil when none is configured.
	Journal() *journal.Journal

	// OnRow registers a callback invoked after each row.
	OnRow(RowHook)

	// OnRunStarted registers a callback invoked once a run is validated.
	OnRunStarted(RunStartedHook)

	// OnRunFinished registers a callback invoked when a run ends.
	OnRunFinished(RunFinishedHook)

	// Close releases the directory connection and the journal.
	Close() error
}

var _ Client = (*client)(nil)

type client struct {
	mu        gosync.Mutex
	config    *config
	directory *directory.Limited
	journal   *journal.Journal
	hooks     *hooks
}

// New creates a Client. The directory is connected on the first Sync.
func New(opts ...Option) (Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}

	c := &client{
		config: cfg,
		hooks:  newHooks(),
	}

	if cfg.journalPath != "" {
		j, err := journal.Open(cfg.journalPath)
		if err != nil {
			return nil, err
		}
		c.journal = j
	}

	return c, nil
}

// Journal implements Client.
func (c *client) Journal() *journal.Journal {
	return c.journal
}

// OnRow implements Client.
func (c *client) OnRow(fn RowHook) {
	c.hooks.OnRow(fn)
}

// OnRunStarted implements Client.
func (c *client) OnRunStarted(fn RunStartedHook) {
	c.hooks.OnRunStarted(fn)
}

// OnRunFinished implements Client.
func (c *client) OnRunFinished(fn RunFinishedHook) {
	c.hooks.OnRunFinished(fn)
}

// Close implements Client.
func (c *client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.directory != nil {
		errs = append(errs, c.directory.Close())
		c.directory = nil
	}
	if c.journal != nil {
		errs = append(errs, c.journal.Close())
		c.journal = nil
	}
	return stderrors.Join(errs...)
}

// connect returns the directory client, dialing it on first use.
func (c *client) connect(ctx context.Context) (directory.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.directory != nil {
		return c.directory, nil
	}

	var (
		next directory.Client
		err  error
	)
	switch {
	case c.config.directory != nil:
		next = c.config.directory
	case c.config.fixturePath != "":
		next, err = memory.LoadFile(c.config.fixturePath)
	default:
		next, err = ldap.Dial(ctx, c.config.ldap)
	}
	if err != nil {
		return nil, err
	}

	c.directory = directory.NewLimited(next, c.config.limits...)
	logging.Ctx(ctx).Debug().Str("directory", c.config.describe()).Msg("Directory ready")
	return c.directory, nil
}
