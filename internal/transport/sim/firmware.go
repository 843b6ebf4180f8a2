// Package sim is an in-process stand-in for the sensor firmware. It speaks
// the gatt transport contract with real timing: every request completes on
// another goroutine, and enabled characteristics stream encoded packets.
package sim

import (
	"math"
	"time"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/gatt"
	"github.com/srg/roomsense/internal/profile"
)

// Generator produces the i-th reading of a role.
type Generator func(role profile.Role, i uint64) codec.Reading

// Firmware describes the simulated peripheral.
type Firmware struct {
	Peripheral device.Peripheral
	Profile    profile.Profile

	// Services overrides the discovery result. Nil means derived from Profile.
	Services []gatt.Service

	// Latency delays every completion.
	Latency time.Duration
	// Interval between packets of each enabled role.
	Interval time.Duration
	// DropAfter disconnects the peripheral after that many packets. Zero never drops.
	DropAfter int

	Generate Generator
}

// NewFirmware returns firmware advertising p with profile prof.
func NewFirmware(p device.Peripheral, prof profile.Profile) *Firmware {
	return &Firmware{
		Peripheral: p,
		Profile:    prof.Normalized(),
		Latency:    5 * time.Millisecond,
		Interval:   time.Second,
		Generate:   Waveform,
	}
}

func (f *Firmware) services() []gatt.Service {
	if f.Services != nil {
		return f.Services
	}
	var out []gatt.Service
	for _, uuid := range f.Profile.Services() {
		svc := gatt.Service{UUID: uuid}
		for _, r := range f.Profile.Roles {
			if r.Service == uuid {
				svc.Characteristics = append(svc.Characteristics, gatt.Characteristic{
					UUID:        r.Characteristic,
					Properties:  gatt.PropRead | gatt.PropNotify,
					Descriptors: []string{gatt.DescriptorClientConfig},
				})
			}
		}
		out = append(out, svc)
	}
	return out
}

// Waveform is the default generator: slow sine drifts around plausible room values.
func Waveform(role profile.Role, i uint64) codec.Reading {
	phase := float64(i) / 10
	wave := func(base, amp float64) float32 { return float32(base + amp*math.Sin(phase)) }

	switch role.Layout {
	case codec.LayoutGasPanel:
		return codec.GasPanel{
			CO:   wave(1.2, 0.3),
			NO2:  wave(0.04, 0.01),
			NH3:  wave(0.8, 0.2),
			CH4:  wave(2.0, 0.5),
			EtOH: wave(3.5, 1.0),
		}
	case codec.LayoutEnvironment, codec.LayoutEnvironmentCenti:
		return codec.Environment{Temperature: wave(21.5, 1.5), Humidity: wave(45, 5)}
	case codec.LayoutSound:
		return codec.Sound{Count: int32(i % 7)}
	case codec.LayoutGasLevel:
		return codec.GasLevel{Level: int64(300 + 50*math.Sin(phase)), Width: 2}
	default:
		return nil
	}
}
