package device

import (
	"strings"
)

// Peripheral is the handle of one discovered BLE peripheral.
// It is a value type; identity is the normalised address, never the name.
type Peripheral struct {
	Address  string
	Name     string
	RSSI     int
	Services []string
}

// NewPeripheral builds a Peripheral with a normalised address and service list.
func NewPeripheral(address, name string, rssi int, services ...string) Peripheral {
	return Peripheral{
		Address:  NormalizeAddress(address),
		Name:     name,
		RSSI:     rssi,
		Services: NormalizeUUIDs(services),
	}
}

// Equal reports whether both handles refer to the same transport address.
func (p Peripheral) Equal(other Peripheral) bool {
	return NormalizeAddress(p.Address) == NormalizeAddress(other.Address)
}

// DisplayName returns the advertised name, or the address when the name is absent.
func (p Peripheral) DisplayName() string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	return p.Address
}

// Advertises reports whether the peripheral advertised the given service UUID.
func (p Peripheral) Advertises(serviceUUID string) bool {
	want := NormalizeUUID(serviceUUID)
	for _, s := range p.Services {
		if NormalizeUUID(s) == want {
			return true
		}
	}
	return false
}

// NormalizeAddress returns the canonical dedup key for a transport address.
// MAC addresses are upper-cased; CoreBluetoothUUID-style identifiers are upper-cased as well.
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}
