package definitions

import (
	"errors"
	"fmt"
)

// Error taxonomy. Transient errors are retried by their owning component and
// only surface when retries are exhausted; fatal errors fault the session and
// are never reported as success.
var (
	// ErrDeviceUnreachable covers every failure to talk to the device over
	// the control channel. The orchestrator retries it with backoff.
	ErrDeviceUnreachable = errors.New("device unreachable")

	// ErrElementNotFound means the resolver exhausted every strategy of a
	// selector spec against the current snapshot.
	ErrElementNotFound = errors.New("element not found")

	// ErrStateMismatch means a navigation or postcondition check landed on
	// an unexpected screen state after the retry bound.
	ErrStateMismatch = errors.New("screen state mismatch")

	// ErrChallengeDetected is fatal for the session: the app is showing a
	// verification or rate-limit screen that needs a human.
	ErrChallengeDetected = errors.New("challenge detected")

	// ErrNoEligibleAccount means no account window contains the current hour.
	ErrNoEligibleAccount = errors.New("no eligible account for current time")

	// ErrDeviceNotFound means the requested serial is not configured.
	ErrDeviceNotFound = errors.New("device not found")
)

// FaultError carries the reason a session was marked faulted.
type FaultError struct {
	Device  string
	Account string
	Reason  string
	Err     error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("session faulted on %s (account %s): %s", e.Device, e.Account, e.Reason)
}

func (e *FaultError) Unwrap() error { return e.Err }
