package profile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/srg/roomsense/internal/codec"
)

// Firmware UUIDs.
const (
	SensorService = "47617353-656e-736f-7253-766300000000"

	GasCharacteristic         = "47617352-6561-6469-6e67-730000000000"
	EnvironmentCharacteristic = "456e7669-726f-6e6d-656e-740000000000"
	SoundCharacteristic       = "536f756e-6444-6574-6563-740000000000"

	// LegacyGasCharacteristic is the gas-only firmware's characteristic. Its
	// node field carries one extra leading digit.
	LegacyGasCharacteristic = "47617352-6561-6469-6e67-073000000000"
)

const (
	Somnosense = "somnosense"
	GasMonitor = "gas-monitor"
)

var builtins = map[string]Profile{
	Somnosense: {
		Name:        Somnosense,
		Description: "nRF52 room monitor: gas panel, environment and sound counter",
		Service:     SensorService,
		Roles: []Role{
			{Name: "gas", Kind: KindGasPanel, Characteristic: GasCharacteristic, Layout: codec.LayoutGasPanel},
			{Name: "environment", Kind: KindEnvironment, Characteristic: EnvironmentCharacteristic, Layout: codec.LayoutEnvironment},
			{Name: "sound", Kind: KindSound, Characteristic: SoundCharacteristic, Layout: codec.LayoutSound},
		},
	},
	GasMonitor: {
		Name:        GasMonitor,
		Description: "gas-only firmware: single gas panel characteristic",
		Service:     SensorService,
		Roles: []Role{
			{Name: "gas", Kind: KindGasPanel, Characteristic: LegacyGasCharacteristic, Layout: codec.LayoutGasPanel},
		},
	},
}

// Builtin returns a normalized copy of the named built-in profile.
func Builtin(name string) (Profile, error) {
	p, ok := builtins[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return p.Normalized(), nil
}

// Names lists the built-in profile names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every built-in profile, sorted by name.
func All() []Profile {
	out := make([]Profile, 0, len(builtins))
	for _, name := range Names() {
		out = append(out, builtins[name].Normalized())
	}
	return out
}
