// Package executor performs logical actions on one device with precondition
// navigation, postcondition verification, and bounded retries. Every action
// is idempotent by contract: targets already in the desired state report
// AlreadyDone without a single primitive command.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gramherd/gramherd/constants"
	"github.com/gramherd/gramherd/fleet"
	"github.com/gramherd/gramherd/fleet/definitions"
	"github.com/gramherd/gramherd/fleet/hierarchy"
	"github.com/gramherd/gramherd/fleet/resolver"
	"github.com/gramherd/gramherd/fleet/screen"
)

// Status is the terminal outcome of one Execute call.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusAlreadyDone Status = "already_done"
	StatusFailed      Status = "failed"
)

// Result reports what Execute did. Failed results carry the last reason seen
// before the retry budget ran out.
type Result struct {
	Status   Status
	Reason   string
	Attempts int
}

// Config bounds the executor's retry behavior.
type Config struct {
	MaxAttempts  int           // primitive+verify attempts per action
	NavAttempts  int           // navigation attempts per precondition
	RetryBackoff time.Duration // pause between attempts
	UISettle     time.Duration // pause after app start / screen transitions
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.NavAttempts <= 0 {
		c.NavAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.UISettle <= 0 {
		c.UISettle = 1500 * time.Millisecond
	}
}

// Executor drives one device. All calls are strictly sequential; the device
// channel cannot service interleaved commands.
type Executor struct {
	serial string
	ch     fleet.DeviceChannel
	cls    *screen.Classifier
	delay  DelayPolicy
	cfg    Config
	log    zerolog.Logger
}

func New(serial string, ch fleet.DeviceChannel, cls *screen.Classifier, delay DelayPolicy, cfg Config) *Executor {
	cfg.applyDefaults()
	if delay == nil {
		delay = Zero()
	}
	return &Executor{
		serial: serial,
		ch:     ch,
		cls:    cls,
		delay:  delay,
		cfg:    cfg,
		log:    log.With().Str("device", serial).Logger(),
	}
}

// Execute runs one action to a terminal result. The returned error is nil
// for ordinary failures (those are the Result's business); it is non-nil
// only for ErrChallengeDetected and channel-level failures, both of which
// end the session rather than the single action.
func (e *Executor) Execute(ctx context.Context, a Action) (Result, error) {
	snap, state, err := e.observe(ctx)
	if err != nil {
		return Result{Status: StatusFailed, Reason: err.Error()}, err
	}

	if a.Pre != "" && state != a.Pre {
		snap, err = e.Navigate(ctx, a.Pre, a.Target)
		if err != nil {
			if errors.Is(err, definitions.ErrChallengeDetected) || errors.Is(err, definitions.ErrDeviceUnreachable) {
				return Result{Status: StatusFailed, Reason: err.Error()}, err
			}
			return Result{Status: StatusFailed, Reason: err.Error()}, nil
		}
	}

	if len(a.Opener) > 0 {
		snap, err = e.tapThrough(ctx, snap, a.Opener)
		if err != nil {
			if errors.Is(err, definitions.ErrElementNotFound) {
				return Result{Status: StatusFailed, Reason: err.Error()}, nil
			}
			return Result{Status: StatusFailed, Reason: err.Error()}, err
		}
	}

	if a.AlreadyDone != nil && a.AlreadyDone(snap) {
		e.log.Debug().Str("action", string(a.Type)).Str("target", a.Target).Msg("already in desired state")
		return Result{Status: StatusAlreadyDone}, nil
	}

	lastReason := "retries exhausted"
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		res, retry, err := e.attempt(ctx, snap, a, attempt)
		if err != nil {
			return Result{Status: StatusFailed, Reason: err.Error(), Attempts: attempt}, err
		}
		if !retry {
			return res, nil
		}
		lastReason = res.Reason

		if err := sleepCtx(ctx, e.cfg.RetryBackoff); err != nil {
			return Result{Status: StatusFailed, Reason: "cancelled", Attempts: attempt}, err
		}
		snap, _, err = e.observe(ctx)
		if err != nil {
			return Result{Status: StatusFailed, Reason: err.Error(), Attempts: attempt}, err
		}
		// Toggle controls can apply slowly: the primitive landed but the
		// verification snapshot missed it. Tapping again would flip the state
		// back off, so a fresh snapshot in the desired state ends the action.
		if a.Verify != nil && a.Verify(snap) {
			return Result{Status: StatusSuccess, Attempts: attempt}, nil
		}
		if a.AlreadyDone != nil && a.AlreadyDone(snap) {
			return Result{Status: StatusAlreadyDone, Attempts: attempt}, nil
		}
	}

	e.log.Warn().Str("action", string(a.Type)).Str("target", a.Target).Str("reason", lastReason).Msg("action failed")
	return Result{Status: StatusFailed, Reason: lastReason, Attempts: e.cfg.MaxAttempts}, nil
}

// attempt performs one primitive+verify round. retry=true means the caller
// may spend another attempt on it.
func (e *Executor) attempt(ctx context.Context, snap *hierarchy.Snapshot, a Action, attempt int) (Result, bool, error) {
	bounds, err := resolver.Resolve(snap, a.Element)
	if err != nil {
		return Result{Status: StatusFailed, Reason: err.Error(), Attempts: attempt}, true, nil
	}

	x, y := bounds.Center()
	if a.LongPress {
		err = e.ch.LongPress(ctx, e.serial, x, y)
	} else {
		err = e.ch.Tap(ctx, e.serial, x, y)
	}
	if err != nil {
		return Result{}, false, err
	}

	if a.Input != "" {
		if err := e.ch.ClearText(ctx, e.serial); err != nil {
			return Result{}, false, err
		}
		if err := e.ch.TypeText(ctx, e.serial, a.Input); err != nil {
			return Result{}, false, err
		}
	}

	if len(a.Confirm) > 0 {
		if err := sleepCtx(ctx, e.cfg.UISettle); err != nil {
			return Result{}, false, err
		}
		fresh, _, err := e.observe(ctx)
		if err != nil {
			return Result{}, false, err
		}
		if _, err := e.tapThrough(ctx, fresh, a.Confirm); err != nil {
			if errors.Is(err, definitions.ErrElementNotFound) {
				return Result{Status: StatusFailed, Reason: err.Error(), Attempts: attempt}, true, nil
			}
			return Result{}, false, err
		}
	}

	if err := sleepCtx(ctx, e.delay(a.Type)); err != nil {
		return Result{}, false, err
	}
	if a.SettleWait > 0 {
		if err := sleepCtx(ctx, a.SettleWait); err != nil {
			return Result{}, false, err
		}
	}

	fresh, _, err := e.observe(ctx)
	if err != nil {
		return Result{}, false, err
	}
	if a.Verify == nil || a.Verify(fresh) {
		return Result{Status: StatusSuccess, Attempts: attempt}, false, nil
	}
	return Result{Status: StatusFailed, Reason: "postcondition not met", Attempts: attempt}, true, nil
}

// Navigate drives the UI to the target state and reclassifies after every
// step. It escalates a state mismatch once the retry bound is spent instead
// of looping on a screen it does not understand.
func (e *Executor) Navigate(ctx context.Context, target screen.State, identity string) (*hierarchy.Snapshot, error) {
	var state screen.State
	var snap *hierarchy.Snapshot

	for attempt := 1; attempt <= e.cfg.NavAttempts; attempt++ {
		pkg, err := e.ch.ForegroundApp(ctx, e.serial)
		if err != nil {
			return nil, err
		}
		if pkg != constants.TargetPackage {
			if err := e.ch.StartApp(ctx, e.serial, constants.TargetPackage); err != nil {
				return nil, err
			}
			if err := sleepCtx(ctx, e.cfg.UISettle); err != nil {
				return nil, err
			}
		}

		snap, state, err = e.observe(ctx)
		if err != nil {
			return nil, err
		}
		if state == target {
			return snap, nil
		}

		if err := e.navStep(ctx, snap, state, target, identity); err != nil {
			return nil, err
		}
		if err := sleepCtx(ctx, e.cfg.UISettle); err != nil {
			return nil, err
		}

		snap, state, err = e.observe(ctx)
		if err != nil {
			return nil, err
		}
		if state == target {
			return snap, nil
		}
		e.log.Debug().Str("want", string(target)).Str("got", string(state)).Int("attempt", attempt).Msg("navigation landed elsewhere")
	}

	return nil, fmt.Errorf("navigate to %s ended on %s: %w", target, state, definitions.ErrStateMismatch)
}

// navStep issues the single UI command that moves toward the target state.
func (e *Executor) navStep(ctx context.Context, snap *hierarchy.Snapshot, current, target screen.State, identity string) error {
	appid := func(s string) string { return constants.TargetPackage + ":id/" + s }

	// A foreign profile is reachable only through its deep link.
	if target == screen.Profile && identity != "" {
		return e.ch.OpenLink(ctx, e.serial, constants.ProfileURI(identity))
	}

	// The edit form hangs off the own-profile screen.
	if target == screen.EditProfile && current != screen.Profile {
		target = screen.Profile
	}

	var anchor definitions.SelectorSpec
	switch target {
	case screen.HomeFeed:
		anchor = definitions.Desc("Home").Then(definitions.ID(appid("feed_tab")))
	case screen.Search:
		anchor = definitions.Desc("Search and explore").Then(definitions.ID(appid("search_tab")))
	case screen.Reels:
		anchor = definitions.Desc("Reels").Then(definitions.ID(appid("clips_tab")))
	case screen.Profile:
		anchor = definitions.Desc("Profile").Then(definitions.ID(appid("profile_tab")))
	case screen.EditProfile:
		anchor = definitions.Text("Edit profile").Then(definitions.ID(appid("button_text")))
	default:
		return fmt.Errorf("no route to state %s: %w", target, definitions.ErrStateMismatch)
	}

	bounds, err := resolver.Resolve(snap, anchor)
	if err != nil {
		// The anchor may be hidden behind a transient surface; back out once
		// and let the next attempt retry from wherever that lands.
		return e.ch.PressKey(ctx, e.serial, constants.KeycodeBack)
	}
	x, y := bounds.Center()
	return e.ch.Tap(ctx, e.serial, x, y)
}

// tapThrough resolves and taps one spec, then returns a fresh snapshot.
func (e *Executor) tapThrough(ctx context.Context, snap *hierarchy.Snapshot, spec definitions.SelectorSpec) (*hierarchy.Snapshot, error) {
	bounds, err := resolver.Resolve(snap, spec)
	if err != nil {
		return nil, err
	}
	x, y := bounds.Center()
	if err := e.ch.Tap(ctx, e.serial, x, y); err != nil {
		return nil, err
	}
	if err := sleepCtx(ctx, e.cfg.UISettle); err != nil {
		return nil, err
	}
	fresh, _, err := e.observe(ctx)
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

// observe captures one snapshot and classifies it. A Challenge classification
// is fatal for the session and surfaces as ErrChallengeDetected.
func (e *Executor) observe(ctx context.Context) (*hierarchy.Snapshot, screen.State, error) {
	snap, err := e.ch.CaptureHierarchy(ctx, e.serial)
	if err != nil {
		return nil, screen.Disconnected, err
	}
	state := e.cls.Classify(snap)
	if state == screen.Challenge {
		e.log.Warn().Msg("challenge screen detected")
		return snap, state, definitions.ErrChallengeDetected
	}
	return snap, state, nil
}

// Classify exposes classification of a fresh snapshot for callers that only
// need the state.
func (e *Executor) Classify(ctx context.Context) (screen.State, error) {
	_, state, err := e.observe(ctx)
	return state, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
