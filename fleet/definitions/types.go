package definitions

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConnectionState tracks the lifecycle of a device's control channel.
type ConnectionState string

const (
	Offline    ConnectionState = "offline"
	Connecting ConnectionState = "connecting"
	Online     ConnectionState = "online"
	Degraded   ConnectionState = "degraded"
)

// DeviceInfo describes one Android device as reported by the control channel.
type DeviceInfo struct {
	Serial         string          `json:"serial"`
	State          ConnectionState `json:"state"`
	Model          string          `json:"model,omitempty"`
	ForegroundApp  string          `json:"foreground_app,omitempty"`
	LastHeartbeat  time.Time       `json:"last_heartbeat"`
	AndroidVersion string          `json:"android_version,omitempty"`
}

// ActionType is one kind of in-app action an account can perform.
type ActionType string

const (
	ActionFollow    ActionType = "follow"
	ActionUnfollow  ActionType = "unfollow"
	ActionLike      ActionType = "like"
	ActionComment   ActionType = "comment"
	ActionStoryView ActionType = "story_view"
	ActionRename    ActionType = "rename"
)

// RecordOutcome is the terminal outcome stored for an attempted action.
type RecordOutcome string

const (
	OutcomeSuccess RecordOutcome = "success"
	OutcomeSkipped RecordOutcome = "skipped"
	OutcomeFailed  RecordOutcome = "failed"
)

// Skip reasons stored alongside OutcomeSkipped.
const (
	SkipDuplicate   = "duplicate"
	SkipQuota       = "quota_exceeded"
	SkipAlreadyDone = "already_done"
)

// ActionRecord is one row of the append-only action history. Records are
// written exactly once with a terminal outcome and never mutated.
type ActionRecord struct {
	ID        string        `json:"id"`
	Account   string        `json:"account"`
	Device    string        `json:"device"`
	Type      ActionType    `json:"action_type"`
	Target    string        `json:"target"`
	Outcome   RecordOutcome `json:"outcome"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// TimeWindow is an hour range during which an account may run. A window with
// Start == End is always active; End < Start wraps past midnight.
type TimeWindow struct {
	Start int `yaml:"start" json:"start"`
	End   int `yaml:"end" json:"end"`
}

// Contains reports whether the given local hour falls inside the window.
func (w TimeWindow) Contains(hour int) bool {
	if w.Start == w.End {
		return true
	}
	if w.End < w.Start {
		return hour >= w.Start || hour < w.End
	}
	return hour >= w.Start && hour < w.End
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("%d-%d", w.Start, w.End)
}

// UnmarshalYAML allows a TimeWindow to be written as the scalar "22-4" as
// well as the {start, end} mapping form.
func (w *TimeWindow) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		parsed, err := ParseWindow(node.Value)
		if err != nil {
			return err
		}
		*w = parsed
		return nil
	}

	type plain TimeWindow
	var raw plain
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*w = TimeWindow(raw)
	return w.validate()
}

// ParseWindow parses the "start-end" scalar form, e.g. "22-4".
func ParseWindow(s string) (TimeWindow, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return TimeWindow{}, fmt.Errorf("invalid time window %q, expected \"start-end\"", s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return TimeWindow{}, fmt.Errorf("invalid window start in %q: %w", s, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return TimeWindow{}, fmt.Errorf("invalid window end in %q: %w", s, err)
	}
	w := TimeWindow{Start: start, End: end}
	return w, w.validate()
}

func (w TimeWindow) validate() error {
	if w.Start < 0 || w.Start > 23 || w.End < 0 || w.End > 23 {
		return fmt.Errorf("time window %s out of range, hours must be 0-23", w)
	}
	return nil
}

// ActionPlan configures one action type for an account. Each type is toggled
// independently and carries its own per-run op counts and daily quota.
type ActionPlan struct {
	Type       ActionType `yaml:"type" json:"type"`
	Enabled    bool       `yaml:"enabled" json:"enabled"`
	MinOps     int        `yaml:"min_ops" json:"min_ops"`
	MaxOps     int        `yaml:"max_ops" json:"max_ops"`
	DailyQuota int        `yaml:"daily_quota" json:"daily_quota"`
	Dedup      bool       `yaml:"dedup" json:"dedup"`
	Targets    []string   `yaml:"targets" json:"targets,omitempty"`
	Text       string     `yaml:"text" json:"text,omitempty"`
}

// Account is one login handle assigned to a device. The registry is external
// configuration and read-only to the core; only daily counters (derived from
// the action history) move at runtime.
type Account struct {
	ID            string       `yaml:"id" json:"id"`
	CredentialRef string       `yaml:"credential_ref" json:"credential_ref,omitempty"`
	Tags          []string     `yaml:"tags" json:"tags"`
	Windows       []TimeWindow `yaml:"windows" json:"windows"`
	Priority      int          `yaml:"priority" json:"priority"`
	Plans         []ActionPlan `yaml:"plans" json:"plans"`
}

// ActiveAt reports whether any of the account's windows contains the hour.
// An account with no windows is treated as always active.
func (a Account) ActiveAt(hour int) bool {
	if len(a.Windows) == 0 {
		return true
	}
	for _, w := range a.Windows {
		if w.Contains(hour) {
			return true
		}
	}
	return false
}

// SessionState is the lifecycle state of a (device, account) pairing.
type SessionState string

const (
	SessionIdle    SessionState = "idle"
	SessionRunning SessionState = "running"
	SessionPaused  SessionState = "paused"
	SessionFaulted SessionState = "faulted"
)
