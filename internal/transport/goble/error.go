package goble

import (
	"fmt"
	"strings"

	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/registry"
)

// knownErrors maps lowercase fragments of go-ble (CoreBluetooth, HCI) error
// messages to sentinels. First match wins.
var knownErrors = []struct {
	fragment string
	sentinel error
}{
	{"is bluetooth turned on?", device.ErrBluetoothOff},
	{"bluetooth is turned off", device.ErrBluetoothOff},
	{"device not connected", device.ErrNotConnected},
	{"disconnected", device.ErrNotConnected},
	{"device already connected", device.ErrAlreadyConnected},
	{"connection is not initialized", device.ErrNotInitialized},
}

// NormalizeError wraps err in the matching device sentinel, keeping the
// original message. Unknown errors are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, known := range knownErrors {
		if strings.Contains(msg, known.fragment) {
			return fmt.Errorf("%w: %v", known.sentinel, err)
		}
	}
	return err
}

// scanFailureCode classifies a scan error into a registry scan-failure code.
func scanFailureCode(err error) int {
	switch {
	case device.IsConnectionState(err, device.BluetoothOff):
		return registry.ScanFailedFeatureUnsupported
	case strings.Contains(strings.ToLower(err.Error()), "already"):
		return registry.ScanFailedAlreadyStarted
	default:
		return registry.ScanFailedInternalError
	}
}
