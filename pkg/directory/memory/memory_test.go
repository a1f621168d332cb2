package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/adsync/pkg/directory"
	"github.com/agentstation/adsync/pkg/errors"
)

const fixture = `
entries:
  - dn: CN=Jane Doe,OU=Staff,DC=example,DC=com
    attributes:
      cn: [Jane Doe]
      employeeID: ["123"]
      givenName: [Jane]
      sn: [Doe]
  - dn: CN=John Smith,OU=Staff,DC=example,DC=com
    attributes:
      cn: [John Smith]
      givenName: [John]
      sn: [Smith]
`

func TestPreload(t *testing.T) {
	dir, err := New(WithPreload([]byte(fixture)))
	require.NoError(t, err)
	assert.Equal(t, 2, dir.Len())

	entries, err := dir.Search(context.Background(), directory.Eq("employeeID", "123"), []string{"givenName", "distinguishedName"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "CN=Jane Doe,OU=Staff,DC=example,DC=com", e.DN)
	v, _ := e.Value("givenName")
	assert.Equal(t, "Jane", v)
	v, _ = e.Value("distinguishedName")
	assert.Equal(t, e.DN, v)
	_, ok := e.Value("sn")
	assert.False(t, ok, "unrequested attributes are not loaded")
}

func TestPreloadErrors(t *testing.T) {
	_, err := New(WithPreload(nil))
	assert.Error(t, err)

	_, err = New(WithPreload([]byte("entries: [")))
	assert.Error(t, err)

	_, err = New(
		WithEntry("CN=a", nil),
		WithEntry("cn=A", nil),
	)
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dir.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o644))

	dir, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, dir.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsFatal(err))
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	dir, err := New(WithPreload([]byte(fixture)))
	require.NoError(t, err)

	entries, err := dir.Search(ctx, directory.Eq("cn", "jane doe"), nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	e.Clear("Manager")
	e.Set("Manager", "CN=John Smith,OU=Staff,DC=example,DC=com")
	e.Clear("sn")
	require.NoError(t, dir.Commit(ctx, e))
	assert.False(t, e.Pending())

	stored, ok := dir.Entry("cn=jane doe,ou=staff,dc=example,dc=com")
	require.True(t, ok)
	v, _ := stored.Value("manager")
	assert.Equal(t, "CN=John Smith,OU=Staff,DC=example,DC=com", v)
	_, ok = stored.Value("sn")
	assert.False(t, ok)

	commits := dir.CallsTo(MethodCommit)
	require.Len(t, commits, 1)
	assert.Len(t, commits[0].Changes, 3)
	assert.Len(t, dir.CallsTo(MethodSearch), 1)

	dir.Reset()
	assert.Empty(t, dir.Calls())
}

func TestCommitFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("injected", func(t *testing.T) {
		dir, err := New(WithEntry("CN=a", map[string][]string{"cn": {"a"}}))
		require.NoError(t, err)
		dir.FailCommit("CN=a", errors.New("insufficient access"))

		e := directory.NewEntry("CN=a", nil)
		e.Set("title", "x")
		err = dir.Commit(ctx, e)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insufficient access")
		assert.True(t, e.Pending(), "failed commit keeps staged changes")

		dir.FailCommit("CN=a", nil)
		assert.NoError(t, dir.Commit(ctx, e))
	})

	t.Run("read only", func(t *testing.T) {
		dir, err := New(WithReadOnly(true), WithEntry("CN=a", nil))
		require.NoError(t, err)
		assert.Error(t, dir.Commit(ctx, directory.NewEntry("CN=a", nil)))
	})

	t.Run("unknown entry", func(t *testing.T) {
		dir, err := New()
		require.NoError(t, err)
		err = dir.Commit(ctx, directory.NewEntry("CN=missing", nil))
		assert.True(t, errors.IsNotFound(err))
	})
}
