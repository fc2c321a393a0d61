package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramherd/gramherd/fleet/definitions"
)

var testAccounts = []definitions.Account{
	{ID: "acct-a", Tags: []string{"niche-fitness", "tier-1"}},
	{ID: "acct-b", Tags: []string{"niche-fitness"}},
	{ID: "acct-c", Tags: []string{"niche-food"}},
	{ID: "acct-d", Tags: []string{"tier-1", "niche-food"}},
	{ID: "acct-e"},
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(openTestStore(t), testAccounts)
}

func TestPeers(t *testing.T) {
	led := newTestLedger(t)

	// Peers share at least one tag; the account itself is excluded.
	assert.ElementsMatch(t, []string{"acct-b", "acct-d"}, led.Peers("acct-a"))
	assert.ElementsMatch(t, []string{"acct-a"}, led.Peers("acct-b"))
	assert.ElementsMatch(t, []string{"acct-d"}, led.Peers("acct-c"))

	// No tags means no peer group.
	assert.Empty(t, led.Peers("acct-e"))
	// Unknown accounts have no peers either.
	assert.Empty(t, led.Peers("acct-z"))
}

func TestHasPeerActed(t *testing.T) {
	led := newTestLedger(t)

	require.NoError(t, led.Store().Append(record("acct-b", "bob", definitions.ActionFollow, definitions.OutcomeSuccess)))

	// acct-b is a peer of acct-a, so bob is a duplicate for acct-a.
	acted, err := led.HasPeerActed("acct-a", "bob", definitions.ActionFollow)
	require.NoError(t, err)
	assert.True(t, acted)

	// acct-c shares no tags with acct-b.
	acted, err = led.HasPeerActed("acct-c", "bob", definitions.ActionFollow)
	require.NoError(t, err)
	assert.False(t, acted)

	// An account's own actions do not make it its own peer.
	require.NoError(t, led.Store().Append(record("acct-c", "carol", definitions.ActionFollow, definitions.OutcomeSuccess)))
	acted, err = led.HasPeerActed("acct-c", "carol", definitions.ActionFollow)
	require.NoError(t, err)
	assert.False(t, acted)
}

func TestPreloadActedSet(t *testing.T) {
	led := newTestLedger(t)

	require.NoError(t, led.Store().Append(record("acct-b", "bob", definitions.ActionFollow, definitions.OutcomeSuccess)))
	require.NoError(t, led.Store().Append(record("acct-d", "dave", definitions.ActionFollow, definitions.OutcomeSuccess)))
	require.NoError(t, led.Store().Append(record("acct-c", "carol", definitions.ActionFollow, definitions.OutcomeSuccess)))
	// acct-a's own history is not part of its peer set.
	require.NoError(t, led.Store().Append(record("acct-a", "alice", definitions.ActionFollow, definitions.OutcomeSuccess)))

	set, err := led.PreloadActedSet("acct-a", definitions.ActionFollow)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"bob": {}, "dave": {}}, set)
}
