package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/adsync/pkg/errors"
	"github.com/agentstation/adsync/pkg/reconciler"
	"github.com/agentstation/adsync/pkg/sync"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, j.Path())
	require.NoError(t, j.Close())

	// reopening skips applied migrations
	j, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = Open("")
	assert.True(t, errors.IsFatal(err))
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	started := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	require.NoError(t, j.StartRun(ctx, RunInfo{
		ID: "run-1", Mode: "commit", Input: "users.csv", Mapping: "map.txt",
		KeyField: "EmpID", Directory: "ldap://example.com", Started: started,
	}))

	run, err := j.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, started, run.Started)
	assert.Nil(t, run.Finished)

	row := sync.RowResult{
		Line: 2, Key: "123", Outcome: sync.OutcomeUpdated, DN: "CN=Jane", Written: true,
		Deltas: []reconciler.Delta{
			{Attribute: "givenName", OldValue: "jane", HadValue: true, NewValue: "Jane", Apply: true},
			{Attribute: "manager", Skipped: true, Reason: "empty reference"},
		},
	}
	require.NoError(t, j.RecordRow(ctx, "run-1", row))
	require.NoError(t, j.RecordRow(ctx, "run-1", sync.RowResult{Line: 3, Key: "999", Outcome: sync.OutcomeUnmatched}))

	deltas, err := j.Deltas(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.Equal(t, Delta{
		Line: 2, Key: "123", DN: "CN=Jane", Attribute: "givenName", OldValue: "jane",
		HadValue: true, NewValue: "Jane", Apply: true, Written: true,
	}, deltas[0])
	assert.True(t, deltas[1].Skipped)
	assert.Equal(t, "empty reference", deltas[1].Reason)

	result := &sync.Result{
		RunID:    "run-1",
		Finished: started.Add(time.Minute),
		Stats:    sync.Stats{Total: 2, Processed: 2, Updated: 1, Unmatched: 1, Attributes: 1},
	}
	require.NoError(t, j.FinishRun(ctx, result, nil))

	run, err = j.Run(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	require.NotNil(t, run.Finished)
	assert.Equal(t, started.Add(time.Minute), *run.Finished)
	assert.Equal(t, result.Stats, run.Stats)
}

func TestFinishRunStatus(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	require.NoError(t, j.StartRun(ctx, RunInfo{ID: "failed", Mode: "commit"}))
	require.NoError(t, j.FinishRun(ctx, &sync.Result{RunID: "failed"}, errors.New("bind failed")))
	run, err := j.Run(ctx, "failed")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "bind failed", run.Error)

	require.NoError(t, j.StartRun(ctx, RunInfo{ID: "stopped", Mode: "whatif"}))
	require.NoError(t, j.FinishRun(ctx, &sync.Result{RunID: "stopped", Canceled: true}, nil))
	run, err = j.Run(ctx, "stopped")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, run.Status)

	err = j.FinishRun(ctx, &sync.Result{RunID: "missing"}, nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, j.StartRun(ctx, RunInfo{ID: id, Mode: "commit", Started: base.Add(time.Duration(i) * time.Hour)}))
	}

	runs, err := j.Runs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	runs, err = j.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	_, err = j.Run(ctx, "zzz")
	assert.True(t, errors.IsNotFound(err))

	assert.Error(t, j.StartRun(ctx, RunInfo{}))
	assert.Error(t, j.StartRun(ctx, RunInfo{ID: "a", Mode: "commit"}), "duplicate run id")
}

func TestRecordRowUnknownRun(t *testing.T) {
	j := openJournal(t)
	err := j.RecordRow(context.Background(), "nope", sync.RowResult{Line: 2, Key: "1", Outcome: sync.OutcomeUnchanged})
	assert.Error(t, err, "foreign key rejects rows of unknown runs")
}
