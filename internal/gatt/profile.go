package gatt

import (
	"fmt"
	"strings"

	"github.com/srg/roomsense/internal/device"
)

// DescriptorClientConfig is the Client Characteristic Configuration descriptor (0x2902).
const DescriptorClientConfig = "2902"

// Property is the characteristic property bit field.
type Property uint8

const (
	PropBroadcast Property = 1 << iota
	PropRead
	PropWriteNoResponse
	PropWrite
	PropNotify
	PropIndicate
	PropSignedWrite
	PropExtended
)

// String renders the properties as a comma-separated list, e.g. "read,notify".
func (p Property) String() string {
	names := []string{"broadcast", "read", "write-no-response", "write", "notify", "indicate", "signed-write", "extended"}
	var parts []string
	for i, name := range names {
		if p&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// Service is a discovered GATT service.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// Characteristic is a discovered GATT characteristic.
type Characteristic struct {
	UUID        string
	Properties  Property
	Descriptors []string
}

// DescriptorID addresses one descriptor on the peripheral.
type DescriptorID struct {
	Service        string
	Characteristic string
	Descriptor     string
}

// ClientConfigOf returns the CCCD identifier of a characteristic.
func ClientConfigOf(service, characteristic string) DescriptorID {
	return DescriptorID{
		Service:        device.NormalizeUUID(service),
		Characteristic: device.NormalizeUUID(characteristic),
		Descriptor:     DescriptorClientConfig,
	}
}

// Matches compares two identifiers by normalized UUIDs.
func (d DescriptorID) Matches(other DescriptorID) bool {
	return device.NormalizeUUID(d.Service) == device.NormalizeUUID(other.Service) &&
		device.NormalizeUUID(d.Characteristic) == device.NormalizeUUID(other.Characteristic) &&
		device.NormalizeUUID(d.Descriptor) == device.NormalizeUUID(other.Descriptor)
}

func (d DescriptorID) String() string {
	return fmt.Sprintf("%s/%s/%s", d.Service, d.Characteristic, d.Descriptor)
}

// FindService returns the service with the given UUID.
func FindService(services []Service, uuid string) (*Service, bool) {
	want := device.NormalizeUUID(uuid)
	for i := range services {
		if device.NormalizeUUID(services[i].UUID) == want {
			return &services[i], true
		}
	}
	return nil, false
}

// Characteristic returns the characteristic with the given UUID.
func (s *Service) Characteristic(uuid string) (*Characteristic, bool) {
	want := device.NormalizeUUID(uuid)
	for i := range s.Characteristics {
		if device.NormalizeUUID(s.Characteristics[i].UUID) == want {
			return &s.Characteristics[i], true
		}
	}
	return nil, false
}

// CanSubscribe reports whether the characteristic supports notify or indicate.
func (c *Characteristic) CanSubscribe() bool {
	return c.Properties&(PropNotify|PropIndicate) != 0
}

// HasDescriptor reports whether the characteristic exposes the descriptor.
func (c *Characteristic) HasDescriptor(uuid string) bool {
	want := device.NormalizeUUID(uuid)
	for _, d := range c.Descriptors {
		if device.NormalizeUUID(d) == want {
			return true
		}
	}
	return false
}

// SubscriptionValue returns the CCCD value to write for this characteristic:
// notifications when supported, otherwise indications.
func (c *Characteristic) SubscriptionValue() []byte {
	if c.Properties&PropNotify == 0 && c.Properties&PropIndicate != 0 {
		return EnableIndicationValue()
	}
	return EnableNotificationValue()
}
