// Package screen turns a hierarchy snapshot into one discrete screen state.
package screen

import (
	"strings"

	"github.com/gramherd/gramherd/constants"
	"github.com/gramherd/gramherd/fleet/definitions"
	"github.com/gramherd/gramherd/fleet/hierarchy"
	"github.com/gramherd/gramherd/fleet/resolver"
)

// State is what the automated app currently displays.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	HomeFeed     State = "home_feed"
	Search       State = "search"
	Profile      State = "profile"
	Reels        State = "reels"
	EditProfile  State = "edit_profile"
	Challenge    State = "challenge"
	Unknown      State = "unknown"
)

type entry struct {
	state State
	spec  definitions.SelectorSpec
}

// Classifier maps snapshots to states through a priority-ordered spec table;
// the first spec that resolves wins. The table is ordered most-specific
// first so overlapping screens (a profile also shows the tab bar) cannot tie.
type Classifier struct {
	table    []entry
	keywords []string
}

// New builds a classifier for the target app's current layout.
func New() *Classifier {
	id := constants.TargetPackage + ":id/"
	return &Classifier{
		table: []entry{
			// EditProfile before Profile: the edit form renders inside the
			// profile chrome.
			{EditProfile, definitions.ID(id + "username_edit_field").
				Then(definitions.Text("Edit profile"))},
			{Profile, definitions.ID(id + "profile_header_container").
				Then(definitions.ID(id + "row_profile_header"))},
			{Search, definitions.ID(id + "action_bar_search_edit_text").
				Then(definitions.Desc("Search and explore"))},
			{Reels, definitions.ID(id + "clips_viewer_view_pager").
				Then(definitions.Desc("Reels"))},
			// HomeFeed last: the feed anchors exist on most screens, so it
			// only wins when nothing more specific resolved.
			{HomeFeed, definitions.ID(id + "feed_timeline").
				Then(definitions.ID(id + "row_feed_photo_profile_name")).
				Then(definitions.Desc("Home"))},
		},
		keywords: constants.ChallengeKeywords,
	}
}

// Classify returns exactly one state for the snapshot. The same snapshot
// always yields the same state and no snapshot ever raises an error.
func (c *Classifier) Classify(snap *hierarchy.Snapshot) State {
	if snap == nil || snap.Empty() {
		return Disconnected
	}

	// A single pass over the pre-lowered text blob instead of one element
	// query per keyword. Per-keyword queries cost seconds per check at
	// hierarchy sizes the app produces; this is the difference between a
	// challenge gate on every action and one that is effectively free.
	if state, ok := c.scanChallenge(snap); ok {
		return state
	}

	for _, e := range c.table {
		if resolver.Exists(snap, e.spec) {
			return e.state
		}
	}
	return Unknown
}

func (c *Classifier) scanChallenge(snap *hierarchy.Snapshot) (State, bool) {
	text := snap.LowerText()
	if text == "" {
		return Unknown, false
	}
	for _, kw := range c.keywords {
		if strings.Contains(text, kw) {
			return Challenge, true
		}
	}
	return Unknown, false
}
