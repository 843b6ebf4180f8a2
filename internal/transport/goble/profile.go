package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
)

func charKey(service, characteristic string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(characteristic)
}

// convertProfile turns a discovered go-ble profile into the transport-neutral
// service list, and indexes the live characteristic handles by service/char.
func convertProfile(p *ble.Profile) ([]gatt.Service, map[string]*ble.Characteristic) {
	chars := make(map[string]*ble.Characteristic)
	if p == nil {
		return nil, chars
	}

	services := make([]gatt.Service, 0, len(p.Services))
	for _, bleSvc := range p.Services {
		svc := gatt.Service{UUID: device.NormalizeUUID(bleSvc.UUID.String())}
		for _, bleChar := range bleSvc.Characteristics {
			char := gatt.Characteristic{
				UUID:       device.NormalizeUUID(bleChar.UUID.String()),
				Properties: gatt.Property(uint8(bleChar.Property)),
			}
			// An empty list means the platform did not report descriptors,
			// which CoreBluetooth does for some peripherals.
			if len(bleChar.Descriptors) > 0 || bleChar.CCCD != nil {
				for _, d := range bleChar.Descriptors {
					char.Descriptors = append(char.Descriptors, device.NormalizeUUID(d.UUID.String()))
				}
				if bleChar.CCCD != nil && !char.HasDescriptor(gatt.DescriptorClientConfig) {
					char.Descriptors = append(char.Descriptors, gatt.DescriptorClientConfig)
				}
			}
			svc.Characteristics = append(svc.Characteristics, char)
			chars[charKey(svc.UUID, char.UUID)] = bleChar
		}
		services = append(services, svc)
	}
	return services, chars
}
