package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/adsync/pkg/directory/memory"
	"github.com/agentstation/adsync/pkg/errors"
	"github.com/agentstation/adsync/pkg/mapping"
	"github.com/agentstation/adsync/pkg/source"
)

const (
	janeDN  = "CN=Jane Doe,OU=Staff,DC=example,DC=com"
	johnDN  = "CN=John Smith,OU=Staff,DC=example,DC=com"
	aliceDN = "CN=Alice Wong,OU=Staff,DC=example,DC=com"
)

var columns = []string{"EmpID", "First", "Last", "Mgr"}

func testMapping() *mapping.Mapping {
	return mapping.New(
		mapping.Pair{Source: "EmpID", Attribute: "employeeID"},
		mapping.Pair{Source: "First", Attribute: "givenName"},
		mapping.Pair{Source: "Last", Attribute: "sn"},
		mapping.Pair{Source: "Mgr", Attribute: "manager"},
	)
}

func batch(rows ...map[string]string) *source.Batch {
	b := &source.Batch{Schema: source.Schema{Delimiter: ',', Columns: columns, HasHeader: true}}
	for i, values := range rows {
		b.Rows = append(b.Rows, source.NewRow(i+2, values))
	}
	return b
}

func janeRow(mgr string) map[string]string {
	return map[string]string{"EmpID": "123", "First": "Jane", "Last": "Doe", "Mgr": mgr}
}

func newDirectory(t *testing.T, opts ...memory.Option) *memory.Directory {
	t.Helper()
	base := []memory.Option{
		memory.WithEntry(janeDN, map[string][]string{
			"cn": {"Jane Doe"}, "employeeID": {"123"}, "givenName": {"Jane"}, "sn": {"Doe"},
		}),
		memory.WithEntry(johnDN, map[string][]string{
			"cn": {"John Smith"}, "employeeID": {"456"}, "givenName": {"John"}, "sn": {"Smith"},
		}),
	}
	dir, err := memory.New(append(base, opts...)...)
	require.NoError(t, err)
	return dir
}

func stored(t *testing.T, dir *memory.Directory, dn, attr string) (string, bool) {
	t.Helper()
	e, ok := dir.Entry(dn)
	require.True(t, ok)
	return e.Value(attr)
}

func TestRunManagerReference(t *testing.T) {
	dir := newDirectory(t)
	c := NewController(dir, testMapping(), WithKeyField("EmpID"))

	result, err := c.Run(context.Background(), batch(janeRow("John Smith")))
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)

	row := result.Rows[0]
	assert.Equal(t, OutcomeUpdated, row.Outcome)
	assert.True(t, row.Written)
	assert.Equal(t, janeDN, row.DN)

	var found bool
	for _, d := range row.Deltas {
		if d.Attribute == "manager" {
			found = true
			assert.True(t, d.Apply)
			assert.Equal(t, johnDN, d.NewValue)
		}
	}
	assert.True(t, found)

	commits := dir.CallsTo(memory.MethodCommit)
	require.Len(t, commits, 1, "entry committed once")
	assert.Equal(t, janeDN, commits[0].DN)

	mgr, ok := stored(t, dir, janeDN, "manager")
	assert.True(t, ok)
	assert.Equal(t, johnDN, mgr)

	assert.Equal(t, Stats{Total: 1, Processed: 1, Updated: 1, Attributes: 1}, result.Stats)
	assert.Equal(t, Done, c.State())
	assert.NotEmpty(t, result.RunID)
}

func TestRunUnchangedDoesNotCommit(t *testing.T) {
	dir := newDirectory(t)
	c := NewController(dir, testMapping(), WithKeyField("EmpID"))

	_, err := c.Run(context.Background(), batch(janeRow("John Smith")))
	require.NoError(t, err)
	dir.Reset()

	c = NewController(dir, testMapping(), WithKeyField("EmpID"))
	result, err := c.Run(context.Background(), batch(janeRow("John Smith")))
	require.NoError(t, err)

	assert.Equal(t, OutcomeUnchanged, result.Rows[0].Outcome)
	for _, d := range result.Rows[0].Deltas {
		assert.False(t, d.Apply, d.Attribute)
	}
	assert.Empty(t, dir.CallsTo(memory.MethodCommit))
	assert.Equal(t, 1, result.Stats.Unchanged)
}

func TestRunWhatIfNeverWrites(t *testing.T) {
	dir := newDirectory(t)
	c := NewController(dir, testMapping(), WithKeyField("EmpID"), WithWhatIf(true))

	result, err := c.Run(context.Background(), batch(
		janeRow("John Smith"),
		map[string]string{"EmpID": "456", "First": "Johnny", "Last": "Smith"},
	))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Stats.Updated)
	assert.False(t, result.Rows[0].Written)
	assert.Empty(t, dir.CallsTo(memory.MethodCommit))
	for _, call := range dir.Calls() {
		assert.Empty(t, call.Changes)
	}

	_, ok := stored(t, dir, janeDN, "manager")
	assert.False(t, ok)
	first, _ := stored(t, dir, johnDN, "givenName")
	assert.Equal(t, "John", first)
	assert.Contains(t, result.Summary(), "what if")
}

func TestRunAmbiguousNeverLooseOrWrites(t *testing.T) {
	dir := newDirectory(t,
		memory.WithEntry("CN=Jane Doe 2,DC=example,DC=com", map[string][]string{
			"cn": {"Jane Doe"}, "employeeID": {"123"},
		}),
	)
	c := NewController(dir, testMapping(), WithKeyField("EmpID"), WithLooseMatching(true))

	result, err := c.Run(context.Background(), batch(janeRow("John Smith")))
	require.NoError(t, err)

	assert.Equal(t, OutcomeAmbiguous, result.Rows[0].Outcome)
	assert.Equal(t, 2, result.Rows[0].Count)
	assert.ErrorIs(t, result.Rows[0].Err, errors.ErrAmbiguous)
	assert.Empty(t, result.Rows[0].Error)
	assert.Equal(t, 1, result.Stats.Ambiguous)

	searches := dir.CallsTo(memory.MethodSearch)
	require.Len(t, searches, 1)
	assert.Equal(t, "(employeeID=123)", searches[0].Filter)
	assert.Empty(t, dir.CallsTo(memory.MethodCommit))
}

func TestRunUnmatched(t *testing.T) {
	dir := newDirectory(t)
	c := NewController(dir, testMapping(), WithKeyField("EmpID"))

	result, err := c.Run(context.Background(), batch(
		map[string]string{"EmpID": "999", "First": "Alice", "Last": "Wong"},
	))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, result.Rows[0].Outcome)
	assert.Equal(t, 1, result.Stats.Unmatched)
	assert.Len(t, dir.CallsTo(memory.MethodSearch), 1, "no loose search unless enabled")
}

func TestRunLooseMatch(t *testing.T) {
	alice := map[string]string{"EmpID": "999", "First": "Alice", "Last": "Wong"}
	aliceAttrs := map[string][]string{"cn": {"Alice Wong"}, "givenName": {"Alice"}, "sn": {"Wong"}}

	t.Run("single entry is updated", func(t *testing.T) {
		dir := newDirectory(t, memory.WithEntry(aliceDN, aliceAttrs))
		c := NewController(dir, testMapping(), WithKeyField("EmpID"), WithLooseMatching(true))

		result, err := c.Run(context.Background(), batch(alice))
		require.NoError(t, err)

		row := result.Rows[0]
		assert.Equal(t, OutcomeUpdated, row.Outcome)
		assert.True(t, row.Loose)
		assert.Equal(t, aliceDN, row.DN)
		assert.Equal(t, 1, result.Stats.LooseMatched)

		searches := dir.CallsTo(memory.MethodSearch)
		require.Len(t, searches, 2)
		assert.Equal(t, "(cn=Alice Wong)", searches[1].Filter)

		commits := dir.CallsTo(memory.MethodCommit)
		require.Len(t, commits, 1)
		assert.Equal(t, aliceDN, commits[0].DN)

		id, ok := stored(t, dir, aliceDN, "employeeID")
		assert.True(t, ok, "loose path reconciles the key attribute")
		assert.Equal(t, "999", id)
	})

	t.Run("key excluded on request", func(t *testing.T) {
		dir := newDirectory(t, memory.WithEntry(aliceDN, aliceAttrs))
		c := NewController(dir, testMapping(),
			WithKeyField("EmpID"), WithLooseMatching(true), WithLooseIncludesKey(false))

		result, err := c.Run(context.Background(), batch(alice))
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnchanged, result.Rows[0].Outcome)
		_, ok := stored(t, dir, aliceDN, "employeeID")
		assert.False(t, ok)
	})

	t.Run("shared name is unmatched", func(t *testing.T) {
		dir := newDirectory(t,
			memory.WithEntry(aliceDN, aliceAttrs),
			memory.WithEntry("CN=Alice Wong,OU=Contractors,DC=example,DC=com", aliceAttrs),
		)
		c := NewController(dir, testMapping(), WithKeyField("EmpID"), WithLooseMatching(true))

		result, err := c.Run(context.Background(), batch(alice))
		require.NoError(t, err)

		assert.Equal(t, OutcomeLooseFailed, result.Rows[0].Outcome)
		assert.Equal(t, 1, result.Stats.Unmatched)
		assert.Equal(t, 1, result.Stats.LooseFailed)
		assert.Empty(t, dir.CallsTo(memory.MethodCommit))
	})

	t.Run("missing name aborts the run", func(t *testing.T) {
		dir := newDirectory(t)
		c := NewController(dir, testMapping(), WithKeyField("EmpID"), WithLooseMatching(true))

		result, err := c.Run(context.Background(), batch(
			map[string]string{"EmpID": "999", "First": "Alice"},
			janeRow("John Smith"),
		))
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))

		var le *errors.LooseMatchError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, 2, le.Line)

		require.NotNil(t, result)
		assert.Len(t, result.Rows, 1, "rows after the failure are not processed")
		assert.Empty(t, dir.CallsTo(memory.MethodCommit))
	})
}

func TestRunValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		m    *mapping.Mapping
	}{
		{"key not in schema", "Badge", mapping.New(mapping.Pair{Source: "Badge", Attribute: "employeeID"})},
		{"key not mapped", "First", mapping.New(mapping.Pair{Source: "EmpID", Attribute: "employeeID"})},
		{"empty mapping", "EmpID", mapping.New()},
		{"no key", "", testMapping()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newDirectory(t)
			c := NewController(dir, tt.m, WithKeyField(tt.key))

			result, err := c.Run(context.Background(), batch(janeRow("")))
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
			assert.Nil(t, result)
			assert.Empty(t, dir.Calls(), "no row processed")
		})
	}

	t.Run("invalid select", func(t *testing.T) {
		c := NewController(newDirectory(t), testMapping(), WithKeyField("EmpID"), WithSelect("^(bad"))
		_, err := c.Run(context.Background(), batch(janeRow("")))
		assert.True(t, errors.IsValidationError(err))
	})
}

func TestRunCommitFailureContinues(t *testing.T) {
	dir := newDirectory(t)
	dir.FailCommit(janeDN, errors.New("insufficient access"))
	c := NewController(dir, testMapping(), WithKeyField("EmpID"))

	result, err := c.Run(context.Background(), batch(
		janeRow("John Smith"),
		map[string]string{"EmpID": "456", "First": "Johnny", "Last": "Smith"},
	))
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, result.Rows[0].Outcome)
	assert.Contains(t, result.Rows[0].Error, "insufficient access")
	assert.Equal(t, OutcomeUpdated, result.Rows[1].Outcome)
	assert.Equal(t, 1, result.Stats.Failed)
	assert.Equal(t, 1, result.Stats.Updated)
}

func TestRunSearchFailureContinues(t *testing.T) {
	dir := newDirectory(t)
	dir.FailSearch(errors.New("busy"))
	c := NewController(dir, testMapping(), WithKeyField("EmpID"))

	result, err := c.Run(context.Background(), batch(janeRow(""), janeRow("")))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.Failed)
}

func TestRunStopsWhenDirectoryUnavailable(t *testing.T) {
	dir := newDirectory(t)
	dir.FailSearch(errors.NewDirectoryError("dial", "(employeeID=123)", errors.New("connection reset")))
	c := NewController(dir, testMapping(), WithKeyField("EmpID"))

	result, err := c.Run(context.Background(), batch(janeRow(""), janeRow("")))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDirectoryUnavailable)
	require.NotNil(t, result)
	assert.Len(t, result.Rows, 1)
	assert.Equal(t, 1, result.Stats.Failed)
	assert.Len(t, dir.CallsTo(memory.MethodSearch), 1)
}

func TestRunSelect(t *testing.T) {
	dir := newDirectory(t)
	c := NewController(dir, testMapping(), WithKeyField("EmpID"), WithSelect("4*"))

	result, err := c.Run(context.Background(), batch(
		janeRow("John Smith"),
		map[string]string{"EmpID": "456", "First": "John", "Last": "Smith"},
	))
	require.NoError(t, err)

	assert.Equal(t, OutcomeSkipped, result.Rows[0].Outcome)
	assert.Equal(t, OutcomeUnchanged, result.Rows[1].Outcome)
	assert.Equal(t, 1, result.Stats.Skipped)
	assert.Equal(t, 1, result.Stats.Processed)
	assert.Len(t, dir.CallsTo(memory.MethodSearch), 1)
}

func TestRunCanceled(t *testing.T) {
	dir := newDirectory(t)
	c := NewController(dir, testMapping(), WithKeyField("EmpID"))

	ctx, cancel := context.WithCancel(context.Background())
	c.OnRow(func(context.Context, int, int, RowResult) { cancel() })

	result, err := c.Run(ctx, batch(janeRow(""), janeRow(""), janeRow("")))
	require.NoError(t, err)
	assert.True(t, result.Canceled)
	assert.Len(t, result.Rows, 1)
	assert.Contains(t, result.Summary(), "canceled")
}

func TestRunTimeout(t *testing.T) {
	dir := newDirectory(t, memory.WithDelay(time.Second))
	c := NewController(dir, testMapping(), WithKeyField("EmpID"), WithTimeout(10*time.Millisecond))

	result, err := c.Run(context.Background(), batch(janeRow("")))
	require.NoError(t, err)
	assert.True(t, result.Canceled)
	assert.Empty(t, result.Rows)
}

func TestRunHooks(t *testing.T) {
	dir := newDirectory(t)
	c := NewController(dir, testMapping(), WithKeyField("EmpID"), WithRunID("run-1"))

	var states []State
	var progress [][2]int
	c.OnState(func(_ context.Context, s State) { states = append(states, s) })
	c.OnRow(func(_ context.Context, n, total int, _ RowResult) { progress = append(progress, [2]int{n, total}) })

	result, err := c.Run(context.Background(), batch(janeRow(""), janeRow("")))
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, []State{Validating, Processing, Done}, states)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, progress)

	_, err = c.Run(context.Background(), batch(janeRow("")))
	assert.Error(t, err, "a controller runs only once")
}
