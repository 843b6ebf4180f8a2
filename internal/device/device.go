package device

import (
	"errors"
	"fmt"
	"strings"
)

// Resources a NotFoundError can refer to.
const (
	ResourcePeripheral     = "peripheral"
	ResourceService        = "service"
	ResourceCharacteristic = "characteristic"
	ResourceDescriptor     = "descriptor"
)

// NotFoundError reports a GATT resource the sensor does not expose.
// UUIDs walks from the outermost container down to the missing item,
// e.g. [service, characteristic].
type NotFoundError struct {
	Resource string
	UUIDs    []string
}

func (e *NotFoundError) Error() string {
	n := len(e.UUIDs)
	switch n {
	case 0:
		return e.Resource + " not found"
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[n-1], containerOf(e.Resource), e.UUIDs[n-2])
}

func containerOf(resource string) string {
	if resource == ResourceDescriptor {
		return ResourceCharacteristic
	}
	return ResourceService
}

// ConnectionState classifies a ConnectionError.
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	Busy             ConnectionState = "session_busy"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

func (s ConnectionState) label() string {
	return strings.ReplaceAll(string(s), "_", " ")
}

// ConnectionError is a request that the link or adapter could not accept in its current state.
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.Msg == "":
		return e.State.label()
	default:
		return e.State.label() + ": " + e.Msg
	}
}

// Is matches any ConnectionError with the same State, so the sentinels below
// work with errors.Is whatever Msg carries.
func (e *ConnectionError) Is(target error) bool {
	t, ok := target.(*ConnectionError)
	return ok && e != nil && t != nil && e.State == t.State
}

var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrBusy             = &ConnectionError{State: Busy}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff}
)

// IsConnectionState reports whether err wraps a ConnectionError in the given state.
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	return errors.As(err, &cerr) && cerr.State == state
}
