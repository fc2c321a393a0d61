package executor

import (
	"math/rand"
	"time"

	"github.com/gramherd/gramherd/fleet/definitions"
)

// DelayPolicy returns the pause to insert after an action of the given type.
// Policies are pure functions of (action type, seed) so tests can run them at
// zero and replays stay reproducible.
type DelayPolicy func(t definitions.ActionType) time.Duration

// DelayBounds is the min/max pause for one action type.
type DelayBounds struct {
	Min time.Duration
	Max time.Duration
}

// DefaultBounds keeps per-type pacing inside ranges a human plausibly hits.
// Reads (story views) are quick, writes that the app scrutinizes harder
// (follow, comment) pause longer.
var DefaultBounds = map[definitions.ActionType]DelayBounds{
	definitions.ActionLike:      {Min: 2 * time.Second, Max: 6 * time.Second},
	definitions.ActionFollow:    {Min: 8 * time.Second, Max: 25 * time.Second},
	definitions.ActionUnfollow:  {Min: 8 * time.Second, Max: 20 * time.Second},
	definitions.ActionComment:   {Min: 15 * time.Second, Max: 40 * time.Second},
	definitions.ActionStoryView: {Min: 1 * time.Second, Max: 4 * time.Second},
	definitions.ActionRename:    {Min: 5 * time.Second, Max: 10 * time.Second},
}

var fallbackBounds = DelayBounds{Min: 2 * time.Second, Max: 5 * time.Second}

// NewJitterPolicy builds a deterministic randomized policy. The same seed
// always produces the same delay sequence. Policies are owned by a single
// device goroutine and are not safe for concurrent use.
func NewJitterPolicy(seed int64, bounds map[definitions.ActionType]DelayBounds) DelayPolicy {
	if bounds == nil {
		bounds = DefaultBounds
	}
	rng := rand.New(rand.NewSource(seed))

	return func(t definitions.ActionType) time.Duration {
		b, ok := bounds[t]
		if !ok {
			b = fallbackBounds
		}
		if b.Max <= b.Min {
			return b.Min
		}
		return b.Min + time.Duration(rng.Int63n(int64(b.Max-b.Min)))
	}
}

// Zero disables inter-action pacing. Test use only.
func Zero() DelayPolicy {
	return func(definitions.ActionType) time.Duration { return 0 }
}
