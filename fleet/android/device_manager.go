package android

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gramherd/gramherd/fleet/definitions"
)

func (r *ADBChannel) Connect(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := r.run(ctx, "", "connect", address)
	if err != nil {
		return err
	}

	lower := strings.ToLower(string(output))
	if strings.Contains(lower, "already connected") || strings.Contains(lower, " connected") {
		return nil
	}
	return fmt.Errorf("connect %s: %s: %w", address, strings.TrimSpace(string(output)), definitions.ErrDeviceUnreachable)
}

func (r *ADBChannel) Disconnect(ctx context.Context, address string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	args := []string{"disconnect"}
	if address != "" {
		args = append(args, address)
	}
	_, err := r.run(ctx, "", args...)
	return err
}

func (r *ADBChannel) ListDevices(ctx context.Context) ([]definitions.DeviceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := r.run(ctx, "", "devices", "-l")
	if err != nil {
		return nil, err
	}

	var devices []definitions.DeviceInfo
	scanner := bufio.NewScanner(strings.NewReader(string(output)))

	// Skip the "List of devices attached" header.
	scanner.Scan()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		info := definitions.DeviceInfo{
			Serial:        parts[0],
			State:         adbState(parts[1]),
			LastHeartbeat: time.Now(),
		}
		for _, part := range parts[2:] {
			if strings.HasPrefix(part, "model:") {
				info.Model = strings.SplitN(part, ":", 2)[1]
				break
			}
		}
		devices = append(devices, info)
	}

	return devices, nil
}

// GetState is the heartbeat primitive: `adb get-state` answers quickly even
// when the device's UI stack is wedged.
func (r *ADBChannel) GetState(ctx context.Context, serial string) (definitions.ConnectionState, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := r.run(ctx, serial, "get-state")
	if err != nil {
		log.Debug().Str("serial", serial).Err(err).Msg("heartbeat failed")
		return definitions.Offline, err
	}
	return adbState(strings.TrimSpace(string(output))), nil
}

func adbState(s string) definitions.ConnectionState {
	switch s {
	case "device":
		return definitions.Online
	case "connecting", "authorizing":
		return definitions.Connecting
	case "unauthorized", "recovery":
		return definitions.Degraded
	default:
		return definitions.Offline
	}
}
