package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/registry"
	"github.com/srg/roomsense/internal/transport/bluez"
	"github.com/srg/roomsense/internal/transport/goble"
	"github.com/srg/roomsense/internal/transport/sim"
)

// Backends accepted by --backend.
var backendNames = []string{"goble", "bluez", "sim"}

// simulatedAddress is the unit the sim backend advertises.
const simulatedAddress = "C0:98:E5:49:53:4D"

type scanSource interface {
	Scan(ctx context.Context, listener registry.Listener) error
}

type backend struct {
	dialer  gatt.Dialer
	scanner scanSource
}

// backendFactory is replaced in tests.
var backendFactory = newBackend

// newBackend opens the named transport. services are the UUIDs the caller
// filters on; bluez cannot list advertised services and needs them up front.
func newBackend(name string, services []string, logger *logrus.Logger) (*backend, error) {
	switch name {
	case "", "goble":
		s, err := goble.NewScanner(logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create BLE scanner: %w", err)
		}
		return &backend{dialer: goble.NewDialer(logger), scanner: s}, nil
	case "bluez":
		watch := append([]string{profile.SensorService}, services...)
		c := bluez.NewDefaultCentral(logger, bluez.WithWatchServices(watch...))
		return &backend{dialer: c, scanner: c}, nil
	case "sim":
		p, err := profile.Builtin(profile.Somnosense)
		if err != nil {
			return nil, err
		}
		fw := sim.NewFirmware(device.NewPeripheral(simulatedAddress, "SomnoSense-sim", -42, p.Service), p)
		return &backend{dialer: sim.NewDialer(fw, logger), scanner: sim.NewScanner(fw, 0)}, nil
	default:
		return nil, fmt.Errorf("invalid backend '%s': must be one of %v", name, backendNames)
	}
}
