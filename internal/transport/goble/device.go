package goble

import (
	"fmt"
	"sync"

	"github.com/go-ble/ble"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = newDefaultDevice

var (
	defaultDeviceOnce sync.Once
	defaultDevice     ble.Device
	defaultDeviceErr  error
)

// DefaultDevice opens the host controller once and installs it as the go-ble default device.
// The scanner and the dialer share it.
func DefaultDevice() (ble.Device, error) {
	defaultDeviceOnce.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			defaultDeviceErr = fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
			return
		}
		ble.SetDefaultDevice(dev)
		defaultDevice = dev
	})
	return defaultDevice, defaultDeviceErr
}
