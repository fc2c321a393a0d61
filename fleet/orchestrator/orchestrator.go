// Package orchestrator owns the device fleet: one scheduler goroutine per
// device, connection lifecycle with capped backoff, and the aggregate status
// surface the dashboard layer polls.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/gramherd/gramherd/fleet"
	"github.com/gramherd/gramherd/fleet/definitions"
	"github.com/gramherd/gramherd/fleet/executor"
	"github.com/gramherd/gramherd/fleet/ledger"
	"github.com/gramherd/gramherd/fleet/scheduler"
	"github.com/gramherd/gramherd/fleet/screen"
)

// DeviceAssignment binds one device serial to the accounts that may run on it.
type DeviceAssignment struct {
	Serial   string
	Address  string // optional tcp endpoint for adb connect
	Accounts []definitions.Account
}

// Config wires the orchestrator's collaborators and tuning.
type Config struct {
	Channel   fleet.DeviceChannel
	Ledger    *ledger.Ledger
	Devices   []DeviceAssignment
	Scheduler scheduler.Config
	Executor  executor.Config
	Seed      int64

	MaxReconnectRetries int           // retry budget before a device goes offline
	ReconnectBase       time.Duration // initial backoff interval
	ReconnectCap        time.Duration // backoff ceiling
}

func (c *Config) applyDefaults() {
	if c.MaxReconnectRetries <= 0 {
		c.MaxReconnectRetries = 8
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 2 * time.Second
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = 2 * time.Minute
	}
}

// DeviceStatus is one row of the aggregate status snapshot.
type DeviceStatus struct {
	Serial        string                         `json:"serial"`
	State         definitions.ConnectionState    `json:"state"`
	Session       scheduler.SessionStatus        `json:"session"`
	TodayCounts   map[definitions.ActionType]int `json:"today_counts,omitempty"`
	LastError     string                         `json:"last_error,omitempty"`
	LastHeartbeat time.Time                      `json:"last_heartbeat,omitempty"`
}

// AccountPreview answers the dry-run question: which account would run now.
type AccountPreview struct {
	Serial  string `json:"serial"`
	Account string `json:"account,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type deviceSlot struct {
	assignment DeviceAssignment
	cancel     context.CancelFunc
	sched      *scheduler.Scheduler

	state         definitions.ConnectionState
	lastError     string
	lastHeartbeat time.Time
}

// Orchestrator maintains one live scheduler per online device. Each device
// slot is mutated only by its own goroutine; the mutex guards the status map
// for readers.
type Orchestrator struct {
	cfg Config
	cls *screen.Classifier

	mu    sync.Mutex
	slots map[string]*deviceSlot
}

func New(cfg Config) (*Orchestrator, error) {
	cfg.applyDefaults()
	if cfg.Channel == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("no devices configured")
	}

	o := &Orchestrator{
		cfg:   cfg,
		cls:   screen.New(),
		slots: make(map[string]*deviceSlot, len(cfg.Devices)),
	}
	for _, d := range cfg.Devices {
		o.slots[d.Serial] = &deviceSlot{assignment: d, state: definitions.Offline}
	}
	return o, nil
}

// Run starts every configured device and blocks until all device tasks end.
// A fault on one device never takes down its siblings.
func (o *Orchestrator) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	for _, d := range o.cfg.Devices {
		g.Go(o.deviceTask(ctx, d.Serial))
	}
	return g.Wait()
}

// RunDevice starts a single device task and blocks until it ends.
func (o *Orchestrator) RunDevice(ctx context.Context, serial string) error {
	o.mu.Lock()
	_, ok := o.slots[serial]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", definitions.ErrDeviceNotFound, serial)
	}
	return o.deviceTask(ctx, serial)()
}

// StopDevice cancels the device's task. The in-flight primitive, if any,
// completes first; cancellation is only observed between actions.
func (o *Orchestrator) StopDevice(serial string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	slot, ok := o.slots[serial]
	if !ok {
		return fmt.Errorf("%w: %s", definitions.ErrDeviceNotFound, serial)
	}
	if slot.cancel != nil {
		slot.cancel()
	}
	return nil
}

// StopAll cancels every device task.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, slot := range o.slots {
		if slot.cancel != nil {
			slot.cancel()
		}
	}
}

func (o *Orchestrator) deviceTask(parent context.Context, serial string) func() error {
	return func() error {
		ctx, cancel := context.WithCancel(parent)
		defer cancel()

		o.mu.Lock()
		slot := o.slots[serial]
		slot.cancel = cancel
		o.mu.Unlock()

		return o.runDevice(ctx, slot)
	}
}

// runDevice is a device's whole life: connect with backoff, run a fresh
// scheduler, reconnect on channel loss, stop on fault or cancellation.
func (o *Orchestrator) runDevice(ctx context.Context, slot *deviceSlot) error {
	serial := slot.assignment.Serial
	logger := log.With().Str("device", serial).Logger()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.ReconnectBase
	bo.MaxInterval = o.cfg.ReconnectCap
	bo.MaxElapsedTime = 0
	retries := 0

	for {
		if err := ctx.Err(); err != nil {
			o.setConn(slot, definitions.Offline, "")
			return nil
		}

		if err := o.checkOnline(ctx, slot); err != nil {
			retries++
			if retries > o.cfg.MaxReconnectRetries {
				logger.Error().Err(err).Int("retries", retries-1).Msg("reconnect budget exhausted, marking offline")
				o.setConn(slot, definitions.Offline, err.Error())
				return nil
			}
			o.setConn(slot, definitions.Degraded, err.Error())

			wait := bo.NextBackOff()
			logger.Warn().Err(err).Dur("backoff", wait).Int("attempt", retries).Msg("device not reachable, retrying")
			if err := sleepFor(ctx, wait); err != nil {
				return nil
			}
			continue
		}

		retries = 0
		bo.Reset()
		o.setConn(slot, definitions.Online, "")
		logger.Info().Msg("device online")

		// A fresh scheduler per connection: in-memory scheduling state is
		// discarded on purpose, quotas and dedup state come back out of the
		// persisted record store.
		exec := executor.New(serial, o.cfg.Channel, o.cls, o.delayFor(serial), o.cfg.Executor)
		sched := scheduler.New(serial, slot.assignment.Accounts, exec, o.cfg.Ledger, o.schedConfig(serial))

		o.mu.Lock()
		slot.sched = sched
		o.mu.Unlock()

		err := sched.Run(ctx)
		switch {
		case err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			o.setConn(slot, definitions.Offline, "")
			return nil

		case isFault(err):
			// Faulted sessions wait for an explicit restart; silently
			// resuming is how challenge screens turn into bans.
			logger.Error().Err(err).Msg("session faulted, awaiting manual restart")
			o.setConn(slot, definitions.Online, err.Error())
			return nil

		case errors.Is(err, definitions.ErrDeviceUnreachable):
			logger.Warn().Err(err).Msg("lost device mid-session, reconnecting")
			o.setConn(slot, definitions.Degraded, err.Error())

		default:
			logger.Error().Err(err).Msg("scheduler stopped unexpectedly, reconnecting")
			o.setConn(slot, definitions.Degraded, err.Error())
		}
	}
}

// checkOnline performs one heartbeat, connecting over tcp first when the
// device is addressed remotely.
func (o *Orchestrator) checkOnline(ctx context.Context, slot *deviceSlot) error {
	if addr := slot.assignment.Address; addr != "" {
		if err := o.cfg.Channel.Connect(ctx, addr); err != nil {
			return err
		}
	}
	state, err := o.cfg.Channel.GetState(ctx, slot.assignment.Serial)
	if err != nil {
		return err
	}
	if state != definitions.Online {
		return fmt.Errorf("device state %s: %w", state, definitions.ErrDeviceUnreachable)
	}
	return nil
}

func (o *Orchestrator) setConn(slot *deviceSlot, state definitions.ConnectionState, lastErr string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	slot.state = state
	slot.lastError = lastErr
	if state == definitions.Online {
		slot.lastHeartbeat = time.Now()
	}
}

// Status assembles the aggregate snapshot: per device the connection state,
// active account, today's counts, and the last error.
func (o *Orchestrator) Status() []DeviceStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]DeviceStatus, 0, len(o.cfg.Devices))
	for _, d := range o.cfg.Devices {
		slot := o.slots[d.Serial]
		st := DeviceStatus{
			Serial:        d.Serial,
			State:         slot.state,
			LastError:     slot.lastError,
			LastHeartbeat: slot.lastHeartbeat,
		}
		if slot.sched != nil {
			st.Session = slot.sched.Status()
			if acct := st.Session.Account; acct != "" {
				counts, err := o.cfg.Ledger.Store().TodayCounts(acct, time.Now())
				if err == nil {
					st.TodayCounts = counts
				}
			}
		} else {
			st.Session = scheduler.SessionStatus{State: definitions.SessionIdle}
		}
		out = append(out, st)
	}
	return out
}

// Preview reports which account each device would activate at the given
// instant, without touching any device.
func (o *Orchestrator) Preview(now time.Time) []AccountPreview {
	out := make([]AccountPreview, 0, len(o.cfg.Devices))
	for _, d := range o.cfg.Devices {
		sched := scheduler.New(d.Serial, d.Accounts, nil, o.cfg.Ledger, o.schedConfig(d.Serial))
		acct, err := sched.SelectAccount(now)
		if err != nil {
			out = append(out, AccountPreview{Serial: d.Serial, Reason: err.Error()})
			continue
		}
		out = append(out, AccountPreview{Serial: d.Serial, Account: acct.ID})
	}
	return out
}

func (o *Orchestrator) schedConfig(serial string) scheduler.Config {
	cfg := o.cfg.Scheduler
	cfg.Seed = o.cfg.Seed ^ int64(hashSerial(serial))
	return cfg
}

func (o *Orchestrator) delayFor(serial string) executor.DelayPolicy {
	return executor.NewJitterPolicy(o.cfg.Seed^int64(hashSerial(serial)), nil)
}

func hashSerial(serial string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(serial))
	return h.Sum32()
}

func isFault(err error) bool {
	var fault *definitions.FaultError
	return errors.As(err, &fault)
}

func sleepFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
