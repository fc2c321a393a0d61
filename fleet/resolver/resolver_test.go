package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gramherd/gramherd/fleet/definitions"
	"github.com/gramherd/gramherd/fleet/hierarchy"
)

const profileDump = `<?xml version="1.0"?>
<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" bounds="[0,0][1080,2400]">
    <node class="android.widget.Button" resource-id="com.instagram.android:id/profile_header_follow_button"
          text="Follow" bounds="[48,520][280,600]"/>
    <node class="android.widget.TextView" text="Follow" bounds="[500,520][700,600]"/>
    <node class="android.widget.ImageView" content-desc="Photo by alice" bounds="[0,980][360,1340]"/>
  </node>
</hierarchy>`

func parseDump(t *testing.T) *hierarchy.Snapshot {
	t.Helper()
	snap, err := hierarchy.Parse([]byte(profileDump))
	require.NoError(t, err)
	return snap
}

func TestResolveStrategyOrder(t *testing.T) {
	snap := parseDump(t)

	// Both the id and the text selector match a node; the id is declared
	// first so its node must win.
	spec := definitions.ID("com.instagram.android:id/profile_header_follow_button").
		Then(definitions.Text("Follow"))
	bounds, err := Resolve(snap, spec)
	require.NoError(t, err)
	assert.Equal(t, 48, bounds.X)

	// Reversed declaration order picks the text node instead.
	spec = definitions.Text("Follow").
		Then(definitions.ID("com.instagram.android:id/profile_header_follow_button"))
	bounds, err = Resolve(snap, spec)
	require.NoError(t, err)
	assert.Equal(t, 500, bounds.X)
}

func TestResolveFallsThroughMissingStrategies(t *testing.T) {
	snap := parseDump(t)

	spec := definitions.ID("com.instagram.android:id/does_not_exist").
		Then(definitions.DescContains("Photo by"))
	bounds, err := Resolve(snap, spec)
	require.NoError(t, err)
	assert.Equal(t, 980, bounds.Y)
}

func TestResolveCoordinateIsTerminal(t *testing.T) {
	snap := parseDump(t)

	spec := definitions.ID("nope").Then(definitions.Point(180, 990))
	bounds, err := Resolve(snap, spec)
	require.NoError(t, err)

	x, y := bounds.Center()
	assert.Equal(t, 180, x)
	assert.Equal(t, 990, y)
}

func TestResolveNotFound(t *testing.T) {
	snap := parseDump(t)

	_, err := Resolve(snap, definitions.ID("nope").Then(definitions.Text("nope")))
	assert.ErrorIs(t, err, definitions.ErrElementNotFound)

	_, err = Resolve(snap, definitions.SelectorSpec{})
	assert.ErrorIs(t, err, definitions.ErrElementNotFound)
}

func TestLookupReturnsNodeAttributes(t *testing.T) {
	snap := parseDump(t)

	node, err := Lookup(snap, definitions.DescContains("Photo by"))
	require.NoError(t, err)
	assert.Equal(t, "Photo by alice", node.Desc)

	// Coordinates resolve to a point but have no backing node.
	_, err = Lookup(snap, definitions.Point(1, 1))
	assert.ErrorIs(t, err, definitions.ErrElementNotFound)
}

func TestExists(t *testing.T) {
	snap := parseDump(t)

	assert.True(t, Exists(snap, definitions.Text("Follow")))
	assert.False(t, Exists(snap, definitions.Text("Following")))
	assert.True(t, Exists(snap, definitions.Text("Following").Then(definitions.Point(1, 1))))
}
