package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/gramherd/gramherd/config"
	"github.com/gramherd/gramherd/fleet"
	"github.com/gramherd/gramherd/fleet/definitions"
	"github.com/gramherd/gramherd/fleet/executor"
	"github.com/gramherd/gramherd/fleet/ledger"
	"github.com/gramherd/gramherd/fleet/orchestrator"
	"github.com/gramherd/gramherd/fleet/scheduler"
	"github.com/gramherd/gramherd/utils"
)

// Exit codes for single-shot invocations.
const (
	exitOK        = 0
	exitDevice    = 1 // device not found or unreachable
	exitNoAccount = 2 // no account eligible right now
	exitFault     = 3 // challenge or classifier fault
)

// Options are the command-line overrides on top of config.Settings.
type Options struct {
	ConfigFile string `json:"config_file"`
	Registry   string `json:"registry"`
	DBPath     string `json:"db_path"`
	DeviceID   string `json:"device_id"`
	Seed       int64  `json:"seed"`
	Debug      bool   `json:"debug"`
}

var opts = &Options{}

var rootCmd = &cobra.Command{
	Use:   "gramherd",
	Short: "Gramherd - fleet automation for Android devices",
	Long: `Gramherd drives a fleet of Android devices over ADB, running scripted
per-account sessions with quotas, time windows and cross-account dedup.`,
	Example: `  # Run the whole fleet from registry.yaml
  gramherd run

  # Run a single device
  gramherd run --device-id emulator-5554

  # List connected devices
  gramherd devices

  # Show which account each device would activate right now
  gramherd dryrun

  # Aggregate fleet status as JSON
  gramherd status`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run sessions on all configured devices (or one with --device-id)",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runFleet())
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices visible to adb",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(listDevices())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the aggregate fleet snapshot as JSON",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(fleetStatus())
	},
}

var dryrunCmd = &cobra.Command{
	Use:   "dryrun",
	Short: "Preview account selection without touching any device",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(dryRun())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigFile, "config", "f", "", "Config file (default: ./gramherd.yaml if present)")
	pf.StringVar(&opts.Registry, "registry", "", "Fleet registry YAML (overrides config)")
	pf.StringVar(&opts.DBPath, "db", "", "Record store path (overrides config)")
	pf.StringVarP(&opts.DeviceID, "device-id", "d", "", "Restrict to a single device serial")
	pf.Int64Var(&opts.Seed, "seed", 0, "Deterministic jitter seed (0 = from config)")
	pf.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd, devicesCmd, statusCmd, dryrunCmd)
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}

// bootstrap loads settings+registry and opens the shared collaborators.
func bootstrap() (*config.Settings, *config.Registry, fleet.DeviceChannel, *ledger.Ledger, error) {
	settings, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if opts.Registry != "" {
		settings.Registry = opts.Registry
	}
	if opts.DBPath != "" {
		settings.DBPath = opts.DBPath
	}
	if opts.Seed != 0 {
		settings.Seed = opts.Seed
	}
	if opts.Debug {
		settings.Debug = true
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if settings.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Debug().Str("settings", utils.JsonString(settings)).Msg("effective settings")

	reg, err := config.LoadRegistry(settings.Registry)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	channel, err := fleet.CreateChannel(settings.Channel)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	store, err := ledger.Open(settings.DBPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return settings, reg, channel, ledger.New(store, reg.Accounts), nil
}

func newOrchestrator(settings *config.Settings, reg *config.Registry, channel fleet.DeviceChannel, led *ledger.Ledger) (*orchestrator.Orchestrator, error) {
	return orchestrator.New(orchestrator.Config{
		Channel: channel,
		Ledger:  led,
		Devices: reg.Assignments(),
		Scheduler: scheduler.Config{
			FailureThreshold: settings.FailureLimit,
			SessionPause:     settings.SessionPause,
		},
		Executor:            executor.Config{},
		Seed:                settings.Seed,
		MaxReconnectRetries: settings.ReconnectBudget,
	})
}

func runFleet() int {
	settings, reg, channel, led, err := bootstrap()
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return exitDevice
	}
	defer led.Store().Close()

	if !checkSystemRequirements(context.Background()) {
		log.Error().Msg("❌ System check failed. Please fix the issues above.")
		return exitDevice
	}

	orch, err := newOrchestrator(settings, reg, channel, led)
	if err != nil {
		log.Error().Err(err).Msg("orchestrator init failed")
		return exitDevice
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Msg(strings.Repeat("=", 50))
	log.Info().Msg("Gramherd - fleet automation for Android devices")
	log.Info().Msg(strings.Repeat("=", 50))
	log.Info().Int("devices", len(reg.Devices)).Int("accounts", len(reg.Accounts)).Msg("fleet loaded")
	log.Info().Str("db", settings.DBPath).Int64("seed", settings.Seed).Msg("runtime")

	if opts.DeviceID != "" {
		err = orch.RunDevice(ctx, opts.DeviceID)
	} else {
		err = orch.Run(ctx)
	}
	if err != nil {
		log.Error().Err(err).Msg("run ended with error")
		if errors.Is(err, definitions.ErrDeviceNotFound) || errors.Is(err, definitions.ErrDeviceUnreachable) {
			return exitDevice
		}
	}
	return exitFromStatus(orch.Status())
}

// exitFromStatus maps the final snapshot to a single-shot exit code.
func exitFromStatus(statuses []orchestrator.DeviceStatus) int {
	for _, st := range statuses {
		if st.State == definitions.Offline && st.LastError != "" {
			return exitDevice
		}
	}
	for _, st := range statuses {
		if st.Session.State == definitions.SessionFaulted {
			return exitFault
		}
	}
	return exitOK
}

func listDevices() int {
	_, _, channel, led, err := bootstrap()
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return exitDevice
	}
	defer led.Store().Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	devices, err := channel.ListDevices(ctx)
	if err != nil {
		log.Error().Err(err).Msg("listing devices failed")
		return exitDevice
	}
	if len(devices) == 0 {
		log.Info().Msg("No devices connected.")
		return exitOK
	}
	log.Info().Msg("Connected devices:")
	log.Info().Msg(strings.Repeat("-", 60))
	for _, d := range devices {
		statusIcon := "✅"
		if d.State != definitions.Online {
			statusIcon = "❌"
		}
		modelInfo := ""
		if d.Model != "" {
			modelInfo = fmt.Sprintf(" (%s)", d.Model)
		}
		log.Info().Str("device", fmt.Sprintf("  %s %-30s [%s]%s", statusIcon, d.Serial, d.State, modelInfo)).Msg("")
	}
	return exitOK
}

// statusRow is one device in the `status` output.
type statusRow struct {
	Serial      string                         `json:"serial"`
	State       definitions.ConnectionState    `json:"state"`
	Account     string                         `json:"account,omitempty"`
	TodayCounts map[definitions.ActionType]int `json:"today_counts,omitempty"`
	Reason      string                         `json:"reason,omitempty"`
}

func fleetStatus() int {
	_, reg, channel, led, err := bootstrap()
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return exitDevice
	}
	defer led.Store().Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now()
	assignments := reg.Assignments()
	rows := lo.Map(assignments, func(d orchestrator.DeviceAssignment, _ int) statusRow {
		row := statusRow{Serial: d.Serial}
		state, err := channel.GetState(ctx, d.Serial)
		if err != nil {
			row.State = definitions.Offline
			row.Reason = err.Error()
		} else {
			row.State = state
		}
		sched := scheduler.New(d.Serial, d.Accounts, nil, led, scheduler.Config{})
		acct, err := sched.SelectAccount(now)
		if err != nil {
			if row.Reason == "" {
				row.Reason = err.Error()
			}
			return row
		}
		row.Account = acct.ID
		if counts, err := led.Store().TodayCounts(acct.ID, now); err == nil && len(counts) > 0 {
			row.TodayCounts = counts
		}
		return row
	})

	fmt.Println(utils.JsonIndent(rows))
	return exitOK
}

func dryRun() int {
	settings, reg, channel, led, err := bootstrap()
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return exitDevice
	}
	defer led.Store().Close()

	orch, err := newOrchestrator(settings, reg, channel, led)
	if err != nil {
		log.Error().Err(err).Msg("orchestrator init failed")
		return exitDevice
	}

	previews := orch.Preview(time.Now())
	fmt.Println(utils.JsonIndent(previews))

	eligible := lo.SomeBy(previews, func(p orchestrator.AccountPreview) bool { return p.Account != "" })
	if !eligible {
		return exitNoAccount
	}
	return exitOK
}

// checkSystemRequirements verifies adb and the ADB Keyboard IME are usable.
func checkSystemRequirements(ctx context.Context) bool {
	log.Info().Msg("🔍 Checking system requirements...")
	log.Info().Msg(strings.Repeat("-", 50))

	log.Info().Msg("1. Checking ADB installation... ")
	if _, err := exec.LookPath("adb"); err != nil {
		log.Error().Msg("❌ FAILED")
		log.Info().Msg("   Error: adb is not installed or not in PATH.")
		log.Info().Msg("   Solution: install android platform tools:")
		log.Info().Msg("     - macOS: brew install android-platform-tools")
		log.Info().Msg("     - Linux: sudo apt install android-tools-adb")
		return false
	}
	out, err := exec.CommandContext(ctx, "adb", "version").Output()
	if err != nil {
		log.Error().Msg("❌ FAILED")
		log.Info().Msgf("   Error: adb failed to run: %v", err)
		return false
	}
	versionLine := "installed"
	if lines := strings.Split(string(out), "\n"); len(lines) > 0 && strings.TrimSpace(lines[0]) != "" {
		versionLine = strings.TrimSpace(lines[0])
	}
	log.Info().Msgf("✅ OK (%s)", versionLine)

	log.Info().Msg("2. Checking ADB Keyboard... ")
	imeOut, err := exec.CommandContext(ctx, "adb", "shell", "ime", "list", "-s").CombinedOutput()
	if err != nil {
		log.Error().Msg("❌ FAILED")
		log.Info().Msgf("   Error: adb command failed: %v", err)
		return false
	}
	if !strings.Contains(string(imeOut), "com.android.adbkeyboard/.AdbIME") {
		log.Error().Msg("❌ FAILED")
		log.Info().Msg("   Error: ADB Keyboard is not installed on the device.")
		log.Info().Msg("   Solution:")
		log.Info().Msg("     1. Download ADB Keyboard APK from:")
		log.Info().Msg("        https://github.com/senzhk/ADBKeyBoard/blob/master/ADBKeyboard.apk")
		log.Info().Msg("     2. Install it: adb install ADBKeyboard.apk")
		log.Info().Msg("     3. Enable it in Settings > System > Languages & Input > Virtual Keyboard")
		return false
	}
	log.Info().Msg("✅ OK")

	log.Info().Msg(strings.Repeat("-", 50))
	log.Info().Msg("✅ All system checks passed!")
	return true
}
