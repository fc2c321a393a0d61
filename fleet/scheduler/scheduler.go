// Package scheduler owns one device: it selects the active account by time
// window, sequences that account's action plans through the executor, and
// enforces quotas, dedup, and the failure policy.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/gramherd/gramherd/fleet/definitions"
	"github.com/gramherd/gramherd/fleet/executor"
	"github.com/gramherd/gramherd/fleet/ledger"
)

// ActionExecutor is the slice of the executor the scheduler drives. Narrow
// on purpose so tests can substitute a recording fake.
type ActionExecutor interface {
	Execute(ctx context.Context, a executor.Action) (executor.Result, error)
}

// Config tunes one scheduler.
type Config struct {
	FailureThreshold int           // consecutive Failed outcomes before faulting
	SessionPause     time.Duration // pause between complete sessions
	Seed             int64         // op-count randomization
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SessionPause <= 0 {
		c.SessionPause = 2 * time.Minute
	}
}

// SessionStatus is the externally visible state of the device's session.
type SessionStatus struct {
	Account   string                   `json:"account,omitempty"`
	State     definitions.SessionState `json:"state"`
	Reason    string                   `json:"reason,omitempty"`
	StartedAt time.Time                `json:"started_at,omitempty"`
}

// Scheduler runs sessions for one device. All device interaction is strictly
// sequential; only the status snapshot is read from other goroutines.
type Scheduler struct {
	serial   string
	accounts []definitions.Account
	exec     ActionExecutor
	ledger   *ledger.Ledger
	cfg      Config
	now      func() time.Time
	rng      *rand.Rand
	log      zerolog.Logger

	mu       sync.Mutex
	status   SessionStatus
	failures int
}

func New(serial string, accounts []definitions.Account, exec ActionExecutor, led *ledger.Ledger, cfg Config) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		serial:   serial,
		accounts: accounts,
		exec:     exec,
		ledger:   led,
		cfg:      cfg,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		log:      log.With().Str("device", serial).Logger(),
		status:   SessionStatus{State: definitions.SessionIdle},
	}
}

// SetClock replaces the scheduler's time source. Test use only.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Status returns a copy of the current session status.
func (s *Scheduler) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) setStatus(st SessionStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// SelectAccount picks the account whose time window contains the given
// instant's local hour. Ties go to the least-recently-run account, then to
// the higher declared priority.
func (s *Scheduler) SelectAccount(now time.Time) (*definitions.Account, error) {
	hour := now.Local().Hour()
	eligible := lo.Filter(s.accounts, func(a definitions.Account, _ int) bool {
		return a.ActiveAt(hour)
	})
	if len(eligible) == 0 {
		return nil, definitions.ErrNoEligibleAccount
	}

	lastRun := make(map[string]time.Time, len(eligible))
	for _, a := range eligible {
		ts, err := s.ledger.Store().LastRun(a.ID)
		if err != nil {
			return nil, err
		}
		lastRun[a.ID] = ts
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		li, lj := lastRun[eligible[i].ID], lastRun[eligible[j].ID]
		if !li.Equal(lj) {
			return li.Before(lj)
		}
		return eligible[i].Priority > eligible[j].Priority
	})
	return &eligible[0], nil
}

// NextEligible returns the next hour boundary at which any account becomes
// active. Falls back to one hour out when no window ever matches.
func (s *Scheduler) NextEligible(now time.Time) time.Time {
	// Built on the wall clock, not Truncate: truncation works off the UTC
	// epoch and misses the local hour boundary in half-hour-offset zones.
	top := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	for h := 1; h <= 24; h++ {
		candidate := top.Add(time.Duration(h) * time.Hour)
		for _, a := range s.accounts {
			if a.ActiveAt(candidate.Hour()) {
				return candidate
			}
		}
	}
	return now.Add(time.Hour)
}

// Run loops sessions until the context is cancelled or the session faults.
// Cancellation is checked between actions only; an in-flight primitive is
// always allowed to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			s.setStatus(SessionStatus{State: definitions.SessionIdle})
			return err
		}

		acct, err := s.SelectAccount(s.now())
		if errors.Is(err, definitions.ErrNoEligibleAccount) {
			next := s.NextEligible(s.now())
			s.log.Info().Time("until", next).Msg("no eligible account, idling")
			s.setStatus(SessionStatus{State: definitions.SessionPaused, Reason: "outside time windows"})
			if err := sleepUntil(ctx, s.now(), next); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}

		if err := s.runSession(ctx, *acct); err != nil {
			return err
		}

		if err := sleepFor(ctx, s.cfg.SessionPause); err != nil {
			s.setStatus(SessionStatus{State: definitions.SessionIdle})
			return err
		}
	}
}

func (s *Scheduler) runSession(ctx context.Context, acct definitions.Account) error {
	s.log.Info().Str("account", acct.ID).Msg("session starting")
	s.setStatus(SessionStatus{Account: acct.ID, State: definitions.SessionRunning, StartedAt: s.now()})
	s.failures = 0

	for _, plan := range acct.Plans {
		if !plan.Enabled {
			continue
		}
		if err := s.runPlan(ctx, acct, plan); err != nil {
			var fault *definitions.FaultError
			if errors.As(err, &fault) {
				s.setStatus(SessionStatus{Account: acct.ID, State: definitions.SessionFaulted, Reason: fault.Reason})
			}
			return err
		}
	}

	s.log.Info().Str("account", acct.ID).Msg("session complete")
	s.setStatus(SessionStatus{Account: acct.ID, State: definitions.SessionIdle})
	return nil
}

func (s *Scheduler) runPlan(ctx context.Context, acct definitions.Account, plan definitions.ActionPlan) error {
	ops := s.opCount(plan)
	if ops == 0 || len(plan.Targets) == 0 && plan.Type != definitions.ActionRename {
		return nil
	}

	var acted map[string]struct{}
	if plan.Dedup {
		var err error
		acted, err = s.ledger.PreloadActedSet(acct.ID, plan.Type)
		if err != nil {
			return fmt.Errorf("preloading acted set: %w", err)
		}
	}

	targets := plan.Targets
	if len(targets) == 0 {
		// Self-directed actions (rename) have no external target.
		targets = []string{acct.ID}
	}

	done := 0
	for _, target := range targets {
		if done >= ops {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		// Quota first: an exhausted type must not cost a device round trip.
		count, err := s.ledger.Store().CountToday(acct.ID, plan.Type, s.now())
		if err != nil {
			return err
		}
		if plan.DailyQuota > 0 && count >= plan.DailyQuota {
			s.log.Info().Str("account", acct.ID).Str("type", string(plan.Type)).Msg("daily quota reached, skipping type")
			s.appendRecord(acct.ID, plan.Type, target, definitions.OutcomeSkipped, definitions.SkipQuota)
			break
		}

		if _, dup := acted[target]; dup {
			s.log.Debug().Str("account", acct.ID).Str("target", target).Str("type", string(plan.Type)).Msg("peer already acted, skipping")
			s.appendRecord(acct.ID, plan.Type, target, definitions.OutcomeSkipped, definitions.SkipDuplicate)
			continue
		}

		res, err := s.exec.Execute(ctx, executor.ForPlan(plan, target))
		if err != nil {
			if errors.Is(err, definitions.ErrChallengeDetected) {
				// Fatal for the session, routed to manual review. Never retried.
				s.appendRecord(acct.ID, plan.Type, target, definitions.OutcomeFailed, "challenge_detected")
				return &definitions.FaultError{Device: s.serial, Account: acct.ID, Reason: "challenge_detected", Err: err}
			}
			return err
		}

		switch res.Status {
		case executor.StatusSuccess:
			ok, err := s.ledger.Store().AppendIfBelowQuota(definitions.ActionRecord{
				Account: acct.ID,
				Device:  s.serial,
				Type:    plan.Type,
				Target:  target,
				Outcome: definitions.OutcomeSuccess,
			}, plan.DailyQuota)
			if err != nil {
				return err
			}
			if !ok {
				// Lost the race against our own earlier writes; the action
				// happened, so stop the type rather than overrun the quota.
				s.log.Warn().Str("account", acct.ID).Str("type", string(plan.Type)).Msg("quota reached during append")
				return nil
			}
			s.failures = 0
			done++

		case executor.StatusAlreadyDone:
			s.appendRecord(acct.ID, plan.Type, target, definitions.OutcomeSkipped, definitions.SkipAlreadyDone)
			s.failures = 0

		case executor.StatusFailed:
			s.appendRecord(acct.ID, plan.Type, target, definitions.OutcomeFailed, res.Reason)
			s.failures++
			if s.failures >= s.cfg.FailureThreshold {
				return &definitions.FaultError{
					Device:  s.serial,
					Account: acct.ID,
					Reason:  fmt.Sprintf("%d consecutive failures, last: %s", s.failures, res.Reason),
				}
			}
		}
	}
	return nil
}

func (s *Scheduler) appendRecord(account string, t definitions.ActionType, target string, outcome definitions.RecordOutcome, reason string) {
	err := s.ledger.Store().Append(definitions.ActionRecord{
		Account: account,
		Device:  s.serial,
		Type:    t,
		Target:  target,
		Outcome: outcome,
		Reason:  reason,
	})
	if err != nil {
		// Ledger writes must never silently vanish, but a failed append is
		// not worth killing the session over.
		s.log.Error().Err(err).Str("account", account).Str("target", target).Msg("appending action record failed")
	}
}

func (s *Scheduler) opCount(plan definitions.ActionPlan) int {
	min, max := plan.MinOps, plan.MaxOps
	if max < min {
		max = min
	}
	if max <= 0 {
		return 0
	}
	if max == min {
		return min
	}
	return min + s.rng.Intn(max-min+1)
}

func sleepFor(ctx context.Context, d time.Duration) error {
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

func sleepUntil(ctx context.Context, now, until time.Time) error {
	return sleepFor(ctx, until.Sub(now))
}
