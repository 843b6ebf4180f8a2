// Package codec decodes the fixed-layout little-endian packets emitted by the
// room-monitor firmware into typed readings.
//
// Every function in this package is pure: the same bytes always decode to the
// same reading, and nothing here performs I/O or keeps state between calls.
package codec

import (
	"fmt"
	"strings"
)

// Layout identifies one wire format.
type Layout int

const (
	LayoutUnknown Layout = iota
	// LayoutGasPanel is 5 x float32: CO, NO2, NH3, CH4, EtOH.
	LayoutGasPanel
	// LayoutEnvironment is 2 x float32: temperature, humidity.
	LayoutEnvironment
	// LayoutEnvironmentCenti is 2 x int16 scaled by 1/100: temperature, humidity.
	LayoutEnvironmentCenti
	// LayoutSound is 1 x int32 event count.
	LayoutSound
	// LayoutGasLevel dispatches on buffer length: u8, u16 or i32.
	LayoutGasLevel
)

var layoutNames = map[Layout]string{
	LayoutGasPanel:         "gas_panel_f32x5",
	LayoutEnvironment:      "environment_f32x2",
	LayoutEnvironmentCenti: "environment_i16x2_centi",
	LayoutSound:            "sound_i32",
	LayoutGasLevel:         "gas_level_varwidth",
}

// minLength is the fixed minimum payload size per layout.
var minLength = map[Layout]int{
	LayoutGasPanel:         20,
	LayoutEnvironment:      8,
	LayoutEnvironmentCenti: 4,
	LayoutSound:            4,
	LayoutGasLevel:         1,
}

// Layouts returns every known layout in declaration order.
func Layouts() []Layout {
	return []Layout{
		LayoutGasPanel,
		LayoutEnvironment,
		LayoutEnvironmentCenti,
		LayoutSound,
		LayoutGasLevel,
	}
}

func (l Layout) String() string {
	if name, ok := layoutNames[l]; ok {
		return name
	}
	return fmt.Sprintf("layout(%d)", int(l))
}

// MinLength returns the smallest buffer the layout accepts, or 0 for unknown layouts.
func (l Layout) MinLength() int {
	return minLength[l]
}

// ParseLayout maps a configuration name such as "gas_panel_f32x5" to its Layout.
// Matching is case-insensitive and ignores surrounding whitespace.
func ParseLayout(name string) (Layout, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for l, n := range layoutNames {
		if n == want {
			return l, nil
		}
	}
	return LayoutUnknown, &DecodeError{Kind: UnknownLayout, Name: name}
}

// MarshalText implements encoding.TextMarshaler so layouts serialize by name.
func (l Layout) MarshalText() ([]byte, error) {
	if _, ok := layoutNames[l]; !ok {
		return nil, &DecodeError{Kind: UnknownLayout, Layout: l}
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Layout) UnmarshalText(text []byte) error {
	parsed, err := ParseLayout(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
