package android

import (
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gramherd/gramherd/fleet/definitions"
	"github.com/gramherd/gramherd/fleet/hierarchy"
	"github.com/gramherd/gramherd/utils"
)

const (
	adbPath        = "adb"
	commandTimeout = 15 * time.Second
	dumpRemotePath = "/sdcard/window_dump.xml"
)

// ADBChannel drives devices through the adb binary. A shared rate limiter
// caps command throughput so a runaway retry loop cannot flood the adb
// server, which starts dropping connections around 30 commands per second.
type ADBChannel struct {
	limiter *rate.Limiter
}

func NewChannel() *ADBChannel {
	return &ADBChannel{
		limiter: rate.NewLimiter(rate.Limit(20), 5),
	}
}

// run executes one adb command with the standard timeout. Any failure to run
// the command is mapped to ErrDeviceUnreachable: the caller cannot tell a
// dead cable from a dead adb server and treats both as transient.
func (r *ADBChannel) run(ctx context.Context, serial string, args ...string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmdArgs := make([]string, 0, len(args)+2)
	if serial != "" {
		cmdArgs = append(cmdArgs, "-s", serial)
	}
	cmdArgs = append(cmdArgs, args...)

	log.Trace().Str("cmd", fmt.Sprintf("%s %s", adbPath, strings.Join(cmdArgs, " "))).Msg("adb")

	output, err := exec.CommandContext(ctx, adbPath, cmdArgs...).CombinedOutput()
	if err != nil {
		log.Debug().Err(err).Str("serial", serial).Str("output", string(output)).Msg("adb command failed")
		return output, fmt.Errorf("adb %s: %v: %w", strings.Join(args, " "), err, definitions.ErrDeviceUnreachable)
	}
	return output, nil
}

func (r *ADBChannel) CaptureHierarchy(ctx context.Context, serial string) (*hierarchy.Snapshot, error) {
	output, err := r.run(ctx, serial, "shell", "uiautomator", "dump", dumpRemotePath)
	if err != nil {
		return nil, err
	}
	if strings.Contains(string(output), "ERROR") {
		return nil, fmt.Errorf("uiautomator dump failed: %s: %w", strings.TrimSpace(string(output)), definitions.ErrDeviceUnreachable)
	}

	data, err := r.run(ctx, serial, "shell", "cat", dumpRemotePath)
	if err != nil {
		return nil, err
	}

	snap, err := hierarchy.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", serial, err)
	}
	return snap, nil
}

func (r *ADBChannel) Tap(ctx context.Context, serial string, x, y int) error {
	_, err := r.run(ctx, serial, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

func (r *ADBChannel) LongPress(ctx context.Context, serial string, x, y int) error {
	// input has no long-press primitive; a zero-distance swipe does it.
	_, err := r.run(ctx, serial, "shell", "input", "swipe",
		strconv.Itoa(x), strconv.Itoa(y), strconv.Itoa(x), strconv.Itoa(y), "800")
	return err
}

func (r *ADBChannel) Swipe(ctx context.Context, serial string, x1, y1, x2, y2, durationMs int) error {
	durationMs = utils.ClampInt(durationMs, 100, 2000)
	_, err := r.run(ctx, serial, "shell", "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.Itoa(durationMs))
	return err
}

// TypeText delivers text through the ADB Keyboard broadcast. Base64 keeps
// arbitrary unicode and shell metacharacters intact on the way through. The
// previous IME is restored after typing so the device stays usable by hand.
func (r *ADBChannel) TypeText(ctx context.Context, serial, text string) error {
	previous, err := r.EnsureADBKeyboard(ctx, serial)
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	_, typeErr := r.run(ctx, serial, "shell", "am", "broadcast",
		"-a", "ADB_INPUT_B64", "--es", "msg", encoded)

	if previous != "" && !strings.Contains(previous, adbIME) {
		if err := r.RestoreKeyboard(ctx, serial, previous); err != nil {
			log.Debug().Str("serial", serial).Err(err).Msg("restoring keyboard failed")
		}
	}
	return typeErr
}

// ClearText empties the focused field via the ADB Keyboard.
func (r *ADBChannel) ClearText(ctx context.Context, serial string) error {
	_, err := r.run(ctx, serial, "shell", "am", "broadcast", "-a", "ADB_CLEAR_TEXT")
	return err
}

func (r *ADBChannel) PressKey(ctx context.Context, serial string, code int) error {
	_, err := r.run(ctx, serial, "shell", "input", "keyevent", strconv.Itoa(code))
	return err
}

func (r *ADBChannel) StartApp(ctx context.Context, serial, packageID string) error {
	output, err := r.run(ctx, serial, "shell", "monkey", "-p", packageID,
		"-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return err
	}
	if strings.Contains(string(output), "No activities found") {
		return fmt.Errorf("package %s not installed on %s", packageID, serial)
	}
	return nil
}

func (r *ADBChannel) OpenLink(ctx context.Context, serial, uri string) error {
	_, err := r.run(ctx, serial, "shell", "am", "start",
		"-a", "android.intent.action.VIEW", "-d", uri)
	return err
}

func (r *ADBChannel) StopApp(ctx context.Context, serial, packageID string) error {
	_, err := r.run(ctx, serial, "shell", "am", "force-stop", packageID)
	return err
}

func (r *ADBChannel) ForegroundApp(ctx context.Context, serial string) (string, error) {
	output, err := r.run(ctx, serial, "shell", "dumpsys", "window")
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.Contains(line, "mCurrentFocus") && !strings.Contains(line, "mFocusedApp") {
			continue
		}
		// mCurrentFocus=Window{... com.instagram.android/...Activity}
		fields := strings.Fields(strings.Trim(line, "}"))
		for _, f := range fields {
			if idx := strings.IndexByte(f, '/'); idx > 0 {
				return f[:idx], nil
			}
		}
	}
	return "", nil
}

func (r *ADBChannel) Screenshot(ctx context.Context, serial string) ([]byte, error) {
	return r.run(ctx, serial, "exec-out", "screencap", "-p")
}

const adbIME = "com.android.adbkeyboard/.AdbIME"

// EnsureADBKeyboard switches the device to the ADB Keyboard IME if needed and
// returns the previous IME so the caller can restore it after typing.
func (r *ADBChannel) EnsureADBKeyboard(ctx context.Context, serial string) (string, error) {
	out, err := r.run(ctx, serial, "shell", "settings", "get", "secure", "default_input_method")
	if err != nil {
		return "", err
	}
	current := strings.TrimSpace(string(out))

	if !strings.Contains(current, adbIME) {
		if _, err := r.run(ctx, serial, "shell", "ime", "set", adbIME); err != nil {
			return "", err
		}
	}
	return current, nil
}

// RestoreKeyboard switches back to the IME captured by EnsureADBKeyboard.
func (r *ADBChannel) RestoreKeyboard(ctx context.Context, serial, ime string) error {
	if ime == "" {
		return fmt.Errorf("IME cannot be empty")
	}
	_, err := r.run(ctx, serial, "shell", "ime", "set", ime)
	return err
}
