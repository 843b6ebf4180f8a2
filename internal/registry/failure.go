package registry

import "fmt"

// Platform scan error codes.
const (
	ScanFailedAlreadyStarted         = 1
	ScanFailedRegistrationFailed     = 2
	ScanFailedInternalError          = 3
	ScanFailedFeatureUnsupported     = 4
	ScanFailedOutOfHardwareResources = 5
	ScanFailedScanningTooFrequently  = 6
)

var scanFailureNames = map[int]string{
	ScanFailedAlreadyStarted:         "scan already started",
	ScanFailedRegistrationFailed:     "application registration failed",
	ScanFailedInternalError:          "internal error",
	ScanFailedFeatureUnsupported:     "feature unsupported",
	ScanFailedOutOfHardwareResources: "out of hardware resources",
	ScanFailedScanningTooFrequently:  "scanning too frequently",
}

// ScanFailure is the terminal error of a scan session.
type ScanFailure struct {
	Code int
}

func (e *ScanFailure) Error() string {
	if name, ok := scanFailureNames[e.Code]; ok {
		return fmt.Sprintf("scan failed: %s (code %d)", name, e.Code)
	}
	return fmt.Sprintf("scan failed: code %d", e.Code)
}

// Is allows errors.Is to compare ScanFailure values by Code
func (e *ScanFailure) Is(target error) bool {
	t, ok := target.(*ScanFailure)
	return ok && t.Code == e.Code
}
