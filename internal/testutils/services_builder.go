//go:build test

package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/srg/roomsense/internal/gatt"
	"github.com/srg/roomsense/internal/profile"
)

// CharacteristicConfig represents a GATT characteristic for building discovery results
type CharacteristicConfig struct {
	UUID        string   `json:"uuid"`
	Properties  string   `json:"properties,omitempty"` // e.g., "read,notify"
	Descriptors []string `json:"descriptors,omitempty"`
}

// ServiceConfig represents a GATT service for building discovery results
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// ServicesBuilder builds the []gatt.Service a transport reports on discovery.
type ServicesBuilder struct {
	services []ServiceConfig
}

// NewServicesBuilder creates an empty builder
func NewServicesBuilder() *ServicesBuilder {
	return &ServicesBuilder{}
}

// WithService adds a service
func (b *ServicesBuilder) WithService(uuid string) *ServicesBuilder {
	b.services = append(b.services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic with a CCCD to the last added service
func (b *ServicesBuilder) WithCharacteristic(uuid, properties string) *ServicesBuilder {
	return b.WithCharacteristicDescriptors(uuid, properties, gatt.DescriptorClientConfig)
}

// WithCharacteristicDescriptors adds a characteristic with explicit descriptors to the last added service
func (b *ServicesBuilder) WithCharacteristicDescriptors(uuid, properties string, descriptors ...string) *ServicesBuilder {
	if len(b.services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := len(b.services) - 1
	b.services[last].Characteristics = append(b.services[last].Characteristics, CharacteristicConfig{
		UUID:        uuid,
		Properties:  properties,
		Descriptors: descriptors,
	})
	return b
}

// FromProfile adds every service and notify characteristic the profile needs
func (b *ServicesBuilder) FromProfile(p profile.Profile) *ServicesBuilder {
	for _, svc := range p.Services() {
		b.WithService(svc)
		for _, r := range p.Roles {
			if r.Service == svc {
				b.WithCharacteristic(r.Characteristic, "read,notify")
			}
		}
	}
	return b
}

// FromJSON replaces the services with the JSON description
func (b *ServicesBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *ServicesBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)
	var services []ServiceConfig
	if err := json.Unmarshal([]byte(jsonStr), &services); err != nil {
		panic(fmt.Sprintf("ServicesBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.services = services
	return b
}

// Build returns the discovery result
func (b *ServicesBuilder) Build() []gatt.Service {
	out := make([]gatt.Service, 0, len(b.services))
	for _, svc := range b.services {
		s := gatt.Service{UUID: svc.UUID}
		for _, c := range svc.Characteristics {
			s.Characteristics = append(s.Characteristics, gatt.Characteristic{
				UUID:        c.UUID,
				Properties:  ParseProperties(c.Properties),
				Descriptors: c.Descriptors,
			})
		}
		out = append(out, s)
	}
	return out
}

// ParseProperties converts "read,write,notify" style strings to gatt.Property flags
func ParseProperties(props string) gatt.Property {
	if props == "" {
		return gatt.PropRead | gatt.PropNotify
	}

	var p gatt.Property
	for _, part := range strings.Split(props, ",") {
		switch strings.TrimSpace(part) {
		case "broadcast":
			p |= gatt.PropBroadcast
		case "read":
			p |= gatt.PropRead
		case "write-no-response":
			p |= gatt.PropWriteNoResponse
		case "write":
			p |= gatt.PropWrite
		case "notify":
			p |= gatt.PropNotify
		case "indicate":
			p |= gatt.PropIndicate
		}
	}
	return p
}
