package audio

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"
)

// ListCaptureDevices enumerates every capture-capable endpoint,
// including loopback/monitor devices the platform's audio subsystem
// exposes as capture sources. Selecting one of these by name for the
// "system" Source is how system-audio capture works without depending
// on a platform-specific backend.
func ListCaptureDevices(ctx *malgo.AllocatedContext) ([]Device, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{ID: info.ID, Name: info.Name()})
	}
	return devices, nil
}

// FindDeviceByName returns the first capture device whose name
// contains name (case-insensitive partial match).
func FindDeviceByName(ctx *malgo.AllocatedContext, name string) (*malgo.DeviceID, error) {
	devices, err := ListCaptureDevices(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(name)
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), needle) {
			id := devices[i].ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, name)
}
