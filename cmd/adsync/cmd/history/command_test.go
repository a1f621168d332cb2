package history

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/adsync"
	"github.com/agentstation/adsync/internal/cmd/application"
	"github.com/agentstation/adsync/pkg/directory/memory"
	"github.com/agentstation/adsync/pkg/sync"
)

func record(t *testing.T, journalPath string) string {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "users.csv")
	mapping := filepath.Join(dir, "mapping.txt")
	require.NoError(t, os.WriteFile(input, []byte("EmpID,Title\n123,Lead\n"), 0o600))
	require.NoError(t, os.WriteFile(mapping, []byte("EmpID=employeeID\nTitle=title\n"), 0o600))

	directory, err := memory.New(memory.WithEntry("CN=Jane Doe,DC=example,DC=com", map[string][]string{
		"cn": {"Jane Doe"}, "employeeID": {"123"}, "title": {"Engineer"},
	}))
	require.NoError(t, err)

	client, err := adsync.New(adsync.WithDirectory(directory), adsync.WithJournal(journalPath))
	require.NoError(t, err)
	defer client.Close()

	result, err := client.Sync(context.Background(), input, mapping, sync.WithKeyField("EmpID"))
	require.NoError(t, err)
	return result.RunID
}

func execute(t *testing.T, app application.Application, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewCommand(app)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestHistoryCommand(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	runID := record(t, journalPath)
	app := &application.Mock{
		SettingsFunc: func() application.Settings {
			return application.Settings{JournalPath: journalPath}
		},
	}

	t.Run("lists runs", func(t *testing.T) {
		stdout, _, err := execute(t, app)
		require.NoError(t, err)
		assert.Contains(t, stdout, runID)
		assert.Contains(t, stdout, "completed")
	})

	t.Run("shows one run", func(t *testing.T) {
		stdout, _, err := execute(t, app, runID)
		require.NoError(t, err)
		assert.Contains(t, stdout, "Run "+runID)
		assert.Contains(t, stdout, "Lead")
		assert.Contains(t, stdout, "written")
	})

	t.Run("unknown run", func(t *testing.T) {
		_, _, err := execute(t, app, "nope")
		assert.Error(t, err)
	})
}

func TestHistoryCommandEmptyJournal(t *testing.T) {
	app := &application.Mock{}
	_, stderr, err := execute(t, app, "--journal", filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	assert.Contains(t, stderr, "No runs recorded")
}

func TestHistoryCommandWithoutJournal(t *testing.T) {
	_, _, err := execute(t, &application.Mock{})
	assert.Error(t, err)
}
