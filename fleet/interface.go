// Package fleet defines the device control channel consumed by the
// automation core. All calls are request/response against one device; the
// channel services exactly one command at a time per device.
package fleet

import (
	"context"
	"fmt"

	"github.com/gramherd/gramherd/constants"
	"github.com/gramherd/gramherd/fleet/android"
	"github.com/gramherd/gramherd/fleet/definitions"
	"github.com/gramherd/gramherd/fleet/hierarchy"
)

// DeviceOperator issues UI commands against one device.
type DeviceOperator interface {
	CaptureHierarchy(ctx context.Context, serial string) (*hierarchy.Snapshot, error)
	Tap(ctx context.Context, serial string, x, y int) error
	LongPress(ctx context.Context, serial string, x, y int) error
	Swipe(ctx context.Context, serial string, x1, y1, x2, y2, durationMs int) error
	TypeText(ctx context.Context, serial, text string) error
	ClearText(ctx context.Context, serial string) error
	PressKey(ctx context.Context, serial string, code int) error
	StartApp(ctx context.Context, serial, packageID string) error
	OpenLink(ctx context.Context, serial, uri string) error
	StopApp(ctx context.Context, serial, packageID string) error
	ForegroundApp(ctx context.Context, serial string) (string, error)
	Screenshot(ctx context.Context, serial string) ([]byte, error)
}

// DeviceManager handles connection lifecycle and liveness.
type DeviceManager interface {
	Connect(ctx context.Context, address string) error
	Disconnect(ctx context.Context, address string) error
	ListDevices(ctx context.Context) ([]definitions.DeviceInfo, error)
	GetState(ctx context.Context, serial string) (definitions.ConnectionState, error)
}

type DeviceChannel interface {
	DeviceOperator
	DeviceManager
}

// CreateChannel returns the channel implementation for the given kind.
func CreateChannel(kind string) (DeviceChannel, error) {
	switch kind {
	case constants.ADB:
		return android.NewChannel(), nil
	default:
		return nil, fmt.Errorf("unknown channel kind: %v", kind)
	}
}
