package executor

import (
	"strings"
	"time"

	"github.com/gramherd/gramherd/constants"
	"github.com/gramherd/gramherd/fleet/definitions"
	"github.com/gramherd/gramherd/fleet/hierarchy"
	"github.com/gramherd/gramherd/fleet/resolver"
	"github.com/gramherd/gramherd/fleet/screen"
)

// Action is one logical in-app operation. The executor drives it through
// precondition navigation, element resolution, the primitive command, and
// postcondition verification.
type Action struct {
	Type   definitions.ActionType
	Target string // target identity; opened via profile deep link when set

	Pre screen.State // required screen state before touching anything

	Opener  definitions.SelectorSpec // optional: tapped once after navigation (e.g. open first post)
	Element definitions.SelectorSpec // the element the primitive operates on
	Confirm definitions.SelectorSpec // optional: tapped after Element (dialogs, Done buttons)

	Input     string // typed into Element after tapping it, when non-empty
	LongPress bool

	// AlreadyDone makes the action idempotent: when it reports true before
	// the primitive, the executor returns AlreadyDone without issuing it.
	AlreadyDone func(*hierarchy.Snapshot) bool

	// Verify is the postcondition checked against a fresh snapshot. A nil
	// Verify accepts the primitive outcome as-is.
	Verify func(*hierarchy.Snapshot) bool

	// SettleWait delays the verification snapshot. Used where the app is
	// known to silently revert an apparently-accepted change; the bound is a
	// heuristic, not a guarantee.
	SettleWait time.Duration
}

func appID(suffix string) string {
	return constants.TargetPackage + ":id/" + suffix
}

// Follow follows the target account from its profile page.
func Follow(target string) Action {
	return Action{
		Type:   definitions.ActionFollow,
		Target: target,
		Pre:    screen.Profile,
		Element: definitions.ID(appID("profile_header_follow_button")).
			Then(definitions.Text("Follow")).
			Then(definitions.Desc("Follow")),
		AlreadyDone: func(snap *hierarchy.Snapshot) bool {
			return resolver.Exists(snap, definitions.Text("Following").
				Then(definitions.Text("Requested")))
		},
		Verify: func(snap *hierarchy.Snapshot) bool {
			return resolver.Exists(snap, definitions.Text("Following").
				Then(definitions.Text("Requested")))
		},
	}
}

// Unfollow unfollows the target, confirming the dialog the app raises.
func Unfollow(target string) Action {
	return Action{
		Type:   definitions.ActionUnfollow,
		Target: target,
		Pre:    screen.Profile,
		Element: definitions.Text("Following").
			Then(definitions.ID(appID("profile_header_follow_button"))),
		Confirm: definitions.Text("Unfollow"),
		AlreadyDone: func(snap *hierarchy.Snapshot) bool {
			return resolver.Exists(snap, definitions.Text("Follow"))
		},
		Verify: func(snap *hierarchy.Snapshot) bool {
			return resolver.Exists(snap, definitions.Text("Follow"))
		},
	}
}

// Like opens the target's most recent post and toggles the like control. The
// coordinate fallback in the opener covers grid layouts whose cells carry no
// stable identifiers.
func Like(target string) Action {
	return Action{
		Type:   definitions.ActionLike,
		Target: target,
		Pre:    screen.Profile,
		Opener: definitions.DescContains("Photo by").
			Then(definitions.DescContains("Reel by")).
			Then(definitions.Point(180, 980)),
		Element: definitions.ID(appID("row_feed_button_like")).
			Then(definitions.Desc("Like")),
		AlreadyDone: func(snap *hierarchy.Snapshot) bool {
			return resolver.Exists(snap, definitions.Desc("Liked"))
		},
		Verify: func(snap *hierarchy.Snapshot) bool {
			return resolver.Exists(snap, definitions.Desc("Liked"))
		},
	}
}

// Comment opens the target's most recent post and leaves a comment.
func Comment(target, text string) Action {
	return Action{
		Type:   definitions.ActionComment,
		Target: target,
		Pre:    screen.Profile,
		Opener: definitions.DescContains("Photo by").
			Then(definitions.DescContains("Reel by")).
			Then(definitions.Point(180, 980)),
		Element: definitions.ID(appID("row_feed_button_comment")).
			Then(definitions.Desc("Comment")),
		Input:   text,
		Confirm: definitions.ID(appID("layout_comment_thread_post_button")).Then(definitions.Desc("Post")),
		Verify: func(snap *hierarchy.Snapshot) bool {
			return strings.Contains(snap.LowerText(), strings.ToLower(text))
		},
	}
}

// StoryView opens the target's story ring.
func StoryView(target string) Action {
	return Action{
		Type:   definitions.ActionStoryView,
		Target: target,
		Pre:    screen.Profile,
		Element: definitions.ID(appID("reel_ring")).
			Then(definitions.DescContains("Story by")),
		Verify: func(snap *hierarchy.Snapshot) bool {
			return resolver.Exists(snap, definitions.ID(appID("reel_viewer_root")).
				Then(definitions.DescContains("Story by")))
		},
	}
}

// Rename edits the profile display name. The settle wait before verification
// catches the silent-rejection case where the edit appears to save and the
// app reverts it moments later.
func Rename(newName string) Action {
	return Action{
		Type: definitions.ActionRename,
		Pre:  screen.EditProfile,
		Element: definitions.ID(appID("full_name")).
			Then(definitions.Text("Name")),
		Input: newName,
		Confirm: definitions.ID(appID("action_bar_button_done")).
			Then(definitions.Desc("Done")),
		SettleWait: 3 * time.Second,
		Verify: func(snap *hierarchy.Snapshot) bool {
			return strings.Contains(snap.LowerText(), strings.ToLower(newName))
		},
	}
}

// ForPlan builds the action for one plan entry and target.
func ForPlan(plan definitions.ActionPlan, target string) Action {
	switch plan.Type {
	case definitions.ActionFollow:
		return Follow(target)
	case definitions.ActionUnfollow:
		return Unfollow(target)
	case definitions.ActionLike:
		return Like(target)
	case definitions.ActionComment:
		return Comment(target, plan.Text)
	case definitions.ActionStoryView:
		return StoryView(target)
	case definitions.ActionRename:
		return Rename(plan.Text)
	default:
		return Action{Type: plan.Type, Target: target}
	}
}
