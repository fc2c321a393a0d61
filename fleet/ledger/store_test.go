package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramherd/gramherd/fleet/definitions"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func record(account, target string, t definitions.ActionType, outcome definitions.RecordOutcome) definitions.ActionRecord {
	return definitions.ActionRecord{
		Account: account,
		Device:  "dev-1",
		Type:    t,
		Target:  target,
		Outcome: outcome,
	}
}

func TestAppendAndCountToday(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()

	require.NoError(t, store.Append(record("acct-a", "bob", definitions.ActionFollow, definitions.OutcomeSuccess)))
	require.NoError(t, store.Append(record("acct-a", "carol", definitions.ActionFollow, definitions.OutcomeSuccess)))
	// Non-success outcomes never count toward quotas.
	require.NoError(t, store.Append(record("acct-a", "dave", definitions.ActionFollow, definitions.OutcomeFailed)))
	require.NoError(t, store.Append(record("acct-a", "erin", definitions.ActionFollow, definitions.OutcomeSkipped)))
	// Other types and accounts are counted separately.
	require.NoError(t, store.Append(record("acct-a", "bob", definitions.ActionLike, definitions.OutcomeSuccess)))
	require.NoError(t, store.Append(record("acct-b", "bob", definitions.ActionFollow, definitions.OutcomeSuccess)))

	count, err := store.CountToday("acct-a", definitions.ActionFollow, now)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	counts, err := store.TodayCounts("acct-a", now)
	require.NoError(t, err)
	assert.Equal(t, map[definitions.ActionType]int{
		definitions.ActionFollow: 2,
		definitions.ActionLike:   1,
	}, counts)
}

func TestCountTodayIgnoresYesterday(t *testing.T) {
	store := openTestStore(t)

	old := record("acct-a", "bob", definitions.ActionFollow, definitions.OutcomeSuccess)
	old.Timestamp = time.Now().AddDate(0, 0, -1)
	require.NoError(t, store.Append(old))

	count, err := store.CountToday("acct-a", definitions.ActionFollow, time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAppendIfBelowQuota(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 2; i++ {
		ok, err := store.AppendIfBelowQuota(record("acct-a", "bob", definitions.ActionFollow, definitions.OutcomeSuccess), 2)
		require.NoError(t, err)
		assert.True(t, ok, "append %d should be below quota", i)
	}

	// N+1 must be refused and must not write a record.
	ok, err := store.AppendIfBelowQuota(record("acct-a", "frank", definitions.ActionFollow, definitions.OutcomeSuccess), 2)
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := store.CountToday("acct-a", definitions.ActionFollow, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestAppendIfBelowQuotaZeroMeansUnlimited(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 5; i++ {
		ok, err := store.AppendIfBelowQuota(record("acct-a", "bob", definitions.ActionFollow, definitions.OutcomeSuccess), 0)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestActedSet(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Append(record("acct-a", "bob", definitions.ActionFollow, definitions.OutcomeSuccess)))
	require.NoError(t, store.Append(record("acct-b", "carol", definitions.ActionFollow, definitions.OutcomeSuccess)))
	// Failed and skipped attempts do not make a target "acted on".
	require.NoError(t, store.Append(record("acct-a", "dave", definitions.ActionFollow, definitions.OutcomeFailed)))
	// A success of a different type does not either.
	require.NoError(t, store.Append(record("acct-a", "erin", definitions.ActionLike, definitions.OutcomeSuccess)))

	set, err := store.ActedSet([]string{"acct-a", "acct-b"}, definitions.ActionFollow)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"bob": {}, "carol": {}}, set)

	set, err = store.ActedSet(nil, definitions.ActionFollow)
	require.NoError(t, err)
	assert.Empty(t, set)
}

func TestHasActed(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Append(record("acct-a", "bob", definitions.ActionFollow, definitions.OutcomeSuccess)))

	acted, err := store.HasActed([]string{"acct-a"}, "bob", definitions.ActionFollow)
	require.NoError(t, err)
	assert.True(t, acted)

	acted, err = store.HasActed([]string{"acct-b"}, "bob", definitions.ActionFollow)
	require.NoError(t, err)
	assert.False(t, acted)

	acted, err = store.HasActed(nil, "bob", definitions.ActionFollow)
	require.NoError(t, err)
	assert.False(t, acted)
}

func TestLastRun(t *testing.T) {
	store := openTestStore(t)

	ts, err := store.LastRun("acct-a")
	require.NoError(t, err)
	assert.True(t, ts.IsZero(), "never-run account must report zero time")

	rec := record("acct-a", "bob", definitions.ActionFollow, definitions.OutcomeSuccess)
	rec.Timestamp = time.Now().Add(-time.Hour)
	require.NoError(t, store.Append(rec))

	ts, err = store.LastRun("acct-a")
	require.NoError(t, err)
	assert.WithinDuration(t, rec.Timestamp, ts, time.Second)
}
