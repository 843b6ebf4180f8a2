package gatt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Client Characteristic Configuration values.
var (
	enableNotification  = []byte{0x01, 0x00}
	enableIndication    = []byte{0x02, 0x00}
	disableNotification = []byte{0x00, 0x00}
)

// EnableNotificationValue returns a fresh copy of the CCCD "notify" value.
func EnableNotificationValue() []byte { return bytes.Clone(enableNotification) }

// EnableIndicationValue returns a fresh copy of the CCCD "indicate" value.
func EnableIndicationValue() []byte { return bytes.Clone(enableIndication) }

// DisableNotificationValue returns a fresh copy of the CCCD "off" value.
func DisableNotificationValue() []byte { return bytes.Clone(disableNotification) }

// ClientConfig represents the Client Characteristic Configuration descriptor (0x2902)
type ClientConfig struct {
	Notifications bool // Notifications enabled
	Indications   bool // Indications enabled
}

// ParseClientConfig parses the Client Characteristic Configuration descriptor value.
// The descriptor is 2 bytes: bit 0 = Notifications, bit 1 = Indications.
func ParseClientConfig(data []byte) (*ClientConfig, error) {
	if len(data) != 2 {
		return nil, fmt.Errorf("invalid length for client config: expected 2, got %d", len(data))
	}
	value := binary.LittleEndian.Uint16(data)
	return &ClientConfig{
		Notifications: (value & 0x0001) != 0,
		Indications:   (value & 0x0002) != 0,
	}, nil
}

// Bytes encodes the configuration back into its 2-byte wire form.
func (c ClientConfig) Bytes() []byte {
	var value uint16
	if c.Notifications {
		value |= 0x0001
	}
	if c.Indications {
		value |= 0x0002
	}
	return binary.LittleEndian.AppendUint16(nil, value)
}
