package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/adsync"
	"github.com/agentstation/adsync/pkg/directory/memory"
	"github.com/agentstation/adsync/pkg/errors"
	"github.com/agentstation/adsync/pkg/sync"
)

const (
	aliceDN = "CN=Alice Wong,OU=Staff,DC=example,DC=com"
	bobDN   = "CN=Bob Stone,OU=Staff,DC=example,DC=com"
	carolDN = "CN=Carol King,OU=Staff,DC=example,DC=com"
)

const mappingYAML = `mappings:
  - source: Badge
    attribute: employeeID
  - source: GivenName
    attribute: givenName
  - source: FamilyName
    attribute: sn
  - source: Department
    attribute: department
  - source: Boss
    attribute: manager
`

// Alice is matched by key, Bob only by name and Carol is her manager.
const staffPSV = "Badge|GivenName|FamilyName|Department|Boss\n" +
	"A1|Alice|Wong|Research|Carol King\n" +
	"B2|Bob|Stone|Sales|Alice Wong\n" +
	"C3|Carol|King||\n"

func newDirectory(t *testing.T) *memory.Directory {
	t.Helper()
	dir, err := memory.New(
		memory.WithEntry(aliceDN, map[string][]string{
			"cn": {"Alice Wong"}, "employeeID": {"A1"}, "givenName": {"Alice"}, "sn": {"Wong"},
			"department": {"Lab"},
		}),
		memory.WithEntry(bobDN, map[string][]string{
			"cn": {"Bob Stone"}, "givenName": {"Bob"}, "sn": {"Stone"}, "department": {"Sales"},
		}),
		memory.WithEntry(carolDN, map[string][]string{
			"cn": {"Carol King"}, "employeeID": {"C3"}, "givenName": {"Carol"}, "sn": {"King"},
			"department": {"Board"},
		}),
	)
	require.NoError(t, err)
	return dir
}

func writeInputs(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "staff.psv")
	mapping := filepath.Join(dir, "mapping.yaml")
	require.NoError(t, os.WriteFile(input, []byte(staffPSV), 0o600))
	require.NoError(t, os.WriteFile(mapping, []byte(mappingYAML), 0o600))
	return input, mapping
}

func value(t *testing.T, dir *memory.Directory, dn, attr string) (string, bool) {
	t.Helper()
	e, ok := dir.Entry(dn)
	require.True(t, ok)
	return e.Value(attr)
}

func TestLooseMatchingEndToEnd(t *testing.T) {
	dir := newDirectory(t)
	input, mapping := writeInputs(t)
	journalPath := filepath.Join(t.TempDir(), "journal.db")

	client, err := adsync.New(adsync.WithDirectory(dir), adsync.WithJournal(journalPath))
	require.NoError(t, err)
	defer client.Close()

	result, err := client.Sync(context.Background(), input, mapping,
		sync.WithKeyField("Badge"),
		sync.WithLooseMatching(true),
	)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Stats.Processed)
	assert.Equal(t, 1, result.Stats.LooseMatched)
	assert.Equal(t, 0, result.Stats.Failed)

	dept, _ := value(t, dir, aliceDN, "department")
	assert.Equal(t, "Research", dept)
	manager, _ := value(t, dir, aliceDN, "manager")
	assert.Equal(t, carolDN, manager)

	// The name match also writes the key so the next run matches exactly.
	badge, _ := value(t, dir, bobDN, "employeeID")
	assert.Equal(t, "B2", badge)
	manager, _ = value(t, dir, bobDN, "manager")
	assert.Equal(t, aliceDN, manager)

	// An empty source value clears the attribute.
	_, ok := value(t, dir, carolDN, "department")
	assert.False(t, ok)

	runs, err := client.Journal().Runs(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.Stats, runs[0].Stats)
}

// An attribute without a value always counts as a pending set, so Carol's
// cleared department is written again on every run.
func TestSecondRunOnlyRewritesUnsetAttributes(t *testing.T) {
	dir := newDirectory(t)
	input, mapping := writeInputs(t)

	client, err := adsync.New(adsync.WithDirectory(dir))
	require.NoError(t, err)
	defer client.Close()

	opts := []adsync.SyncOption{sync.WithKeyField("Badge"), sync.WithLooseMatching(true)}
	_, err = client.Sync(context.Background(), input, mapping, opts...)
	require.NoError(t, err)

	dir.Reset()
	result, err := client.Sync(context.Background(), input, mapping, opts...)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stats.Unchanged)
	assert.Equal(t, 1, result.Stats.Updated)
	assert.Equal(t, 0, result.Stats.LooseMatched)

	commits := dir.CallsTo(memory.MethodCommit)
	require.Len(t, commits, 1)
	assert.Equal(t, carolDN, commits[0].DN)
}

func TestCanceledRun(t *testing.T) {
	dir := newDirectory(t)
	input, mapping := writeInputs(t)

	client, err := adsync.New(adsync.WithDirectory(dir))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client.OnRow(func(n, _ int, _ adsync.RowResult) {
		if n == 1 {
			cancel()
		}
	})

	result, err := client.Sync(ctx, input, mapping, sync.WithKeyField("Badge"))
	require.NoError(t, err)
	assert.True(t, result.Canceled)
	assert.Equal(t, 1, result.Stats.Processed)
}

func TestMissingKeyColumnNeverSearches(t *testing.T) {
	dir := newDirectory(t)
	input, mapping := writeInputs(t)

	client, err := adsync.New(adsync.WithDirectory(dir))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Sync(context.Background(), input, mapping, sync.WithKeyField("EmployeeNumber"))
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
	assert.Empty(t, dir.Calls())
}
