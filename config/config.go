// Package config loads runtime settings from flags/env/file via viper and
// the fleet registry (devices, accounts, plans) from a YAML document.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gramherd/gramherd/constants"
	"github.com/gramherd/gramherd/fleet/definitions"
	"github.com/gramherd/gramherd/fleet/orchestrator"
)

// Settings are process-level knobs, distinct from the fleet registry.
type Settings struct {
	Registry        string        `mapstructure:"registry"`
	DBPath          string        `mapstructure:"db_path"`
	Channel         string        `mapstructure:"channel"`
	Seed            int64         `mapstructure:"seed"`
	Debug           bool          `mapstructure:"debug"`
	SessionPause    time.Duration `mapstructure:"session_pause"`
	FailureLimit    int           `mapstructure:"failure_limit"`
	ReconnectBudget int           `mapstructure:"reconnect_budget"`
}

// Load reads settings with precedence env > config file > defaults.
// The config file is optional; a missing file is not an error.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetDefault("registry", "registry.yaml")
	v.SetDefault("db_path", "gramherd.db")
	v.SetDefault("channel", constants.ADB)
	v.SetDefault("seed", time.Now().UnixNano())
	v.SetDefault("debug", false)
	v.SetDefault("session_pause", 2*time.Minute)
	v.SetDefault("failure_limit", 3)
	v.SetDefault("reconnect_budget", 8)

	v.SetEnvPrefix("GRAMHERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("gramherd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	return &s, nil
}

// DeviceSpec binds a serial to account IDs in the registry document.
type DeviceSpec struct {
	Serial   string   `yaml:"serial"`
	Address  string   `yaml:"address"`
	Accounts []string `yaml:"accounts"`
}

// Registry is the operator-authored fleet document.
type Registry struct {
	Accounts []definitions.Account `yaml:"accounts"`
	Devices  []DeviceSpec          `yaml:"devices"`
}

// LoadRegistry parses and validates the registry YAML.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", path, err)
	}
	if err := reg.validate(); err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	return &reg, nil
}

func (r *Registry) validate() error {
	if len(r.Devices) == 0 {
		return fmt.Errorf("no devices declared")
	}
	seen := make(map[string]bool, len(r.Accounts))
	for _, a := range r.Accounts {
		if a.ID == "" {
			return fmt.Errorf("account with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate account id %q", a.ID)
		}
		seen[a.ID] = true
		for _, p := range a.Plans {
			if !validPlanType(p.Type) {
				return fmt.Errorf("account %s: unknown action type %q", a.ID, p.Type)
			}
			if p.MaxOps < p.MinOps {
				return fmt.Errorf("account %s: plan %s has max_ops below min_ops", a.ID, p.Type)
			}
		}
	}
	serials := make(map[string]bool, len(r.Devices))
	for _, d := range r.Devices {
		if d.Serial == "" {
			return fmt.Errorf("device with empty serial")
		}
		if serials[d.Serial] {
			return fmt.Errorf("duplicate device serial %q", d.Serial)
		}
		serials[d.Serial] = true
		for _, id := range d.Accounts {
			if !seen[id] {
				return fmt.Errorf("device %s references unknown account %q", d.Serial, id)
			}
		}
	}
	return nil
}

func validPlanType(t definitions.ActionType) bool {
	switch t {
	case definitions.ActionFollow, definitions.ActionUnfollow, definitions.ActionLike,
		definitions.ActionComment, definitions.ActionStoryView, definitions.ActionRename:
		return true
	}
	return false
}

// Assignments resolves device specs into orchestrator assignments with the
// referenced accounts materialized.
func (r *Registry) Assignments() []orchestrator.DeviceAssignment {
	byID := lo.KeyBy(r.Accounts, func(a definitions.Account) string { return a.ID })
	return lo.Map(r.Devices, func(d DeviceSpec, _ int) orchestrator.DeviceAssignment {
		return orchestrator.DeviceAssignment{
			Serial:  d.Serial,
			Address: d.Address,
			Accounts: lo.FilterMap(d.Accounts, func(id string, _ int) (definitions.Account, bool) {
				a, ok := byID[id]
				return a, ok
			}),
		}
	})
}

// Device returns the spec for one serial.
func (r *Registry) Device(serial string) (DeviceSpec, bool) {
	return lo.Find(r.Devices, func(d DeviceSpec) bool { return d.Serial == serial })
}
