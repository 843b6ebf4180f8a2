package codec

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func le32(values ...float32) []byte {
	buf := make([]byte, 0, len(values)*4)
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

func TestDecode_GasPanel(t *testing.T) {
	got, err := Decode(LayoutGasPanel, le32(1, 2, 3, 4, 5))
	require.NoError(t, err)
	assert.Equal(t, GasPanel{CO: 1, NO2: 2, NH3: 3, CH4: 4, EtOH: 5}, got)
}

func TestDecode_RoundTripBitExact(t *testing.T) {
	// GOAL: Verify decode recovers encoded field values bit-for-bit, including
	// non-finite and signed-zero floats
	//
	// TEST SCENARIO: Encode reference values little-endian → decode → compare raw bits
	specials := []float32{
		0, float32(math.Copysign(0, -1)), 1.5, -273.15, math.MaxFloat32, math.SmallestNonzeroFloat32,
		float32(math.Inf(1)), float32(math.Inf(-1)), float32(math.NaN()),
	}

	for _, v := range specials {
		data := le32(v, -v, v*2, v/3, v+1)
		reading, err := Decode(LayoutGasPanel, data)
		require.NoError(t, err)

		g := reading.(GasPanel)
		for i, f := range []float32{g.CO, g.NO2, g.NH3, g.CH4, g.EtOH} {
			assert.Equal(t, binary.LittleEndian.Uint32(data[i*4:]), math.Float32bits(f),
				"field %d MUST round-trip bit-for-bit for %v", i, v)
		}

		reading, err = Decode(LayoutEnvironment, data[:8])
		require.NoError(t, err)
		e := reading.(Environment)
		assert.Equal(t, math.Float32bits(v), math.Float32bits(e.Temperature))
		assert.Equal(t, math.Float32bits(-v), math.Float32bits(e.Humidity))
	}

	for _, n := range []int32{0, 1, -1, math.MaxInt32, math.MinInt32, 4242} {
		data, err := Encode(LayoutSound, Sound{Count: n})
		require.NoError(t, err)
		reading, err := Decode(LayoutSound, data)
		require.NoError(t, err)
		assert.Equal(t, Sound{Count: n}, reading)
	}
}

func TestDecode_EncodeInverse(t *testing.T) {
	tests := []struct {
		name    string
		layout  Layout
		reading Reading
		size    int
	}{
		{"gas panel", LayoutGasPanel, GasPanel{CO: 0.25, NO2: 1e-3, NH3: 12, CH4: 900, EtOH: -1}, 20},
		{"environment", LayoutEnvironment, Environment{Temperature: 21.5, Humidity: 48.25}, 8},
		{"environment centi", LayoutEnvironmentCenti, Environment{Temperature: -5.25, Humidity: 60.5}, 4},
		{"sound", LayoutSound, Sound{Count: 17}, 4},
		{"gas level u8", LayoutGasLevel, GasLevel{Level: 200, Width: 1}, 1},
		{"gas level u16", LayoutGasLevel, GasLevel{Level: 65535, Width: 2}, 2},
		{"gas level i32", LayoutGasLevel, GasLevel{Level: -12345, Width: 4}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.layout, tt.reading)
			require.NoError(t, err)
			assert.Len(t, data, tt.size)

			got, err := Decode(tt.layout, data)
			require.NoError(t, err)
			assert.Equal(t, tt.reading, got)
		})
	}
}

func TestDecode_TooShort(t *testing.T) {
	// GOAL: Verify every buffer below the minimum fails with TooShort and yields no reading
	//
	// TEST SCENARIO: For each fixed layout, decode every length in [0, min) → TooShort, nil reading
	for _, layout := range []Layout{LayoutGasPanel, LayoutEnvironment, LayoutEnvironmentCenti, LayoutSound} {
		for n := 0; n < layout.MinLength(); n++ {
			reading, err := Decode(layout, make([]byte, n))
			require.Error(t, err, "%s with %d bytes MUST fail", layout, n)
			assert.Nil(t, reading, "%s with %d bytes MUST NOT produce a reading", layout, n)
			assert.ErrorIs(t, err, ErrTooShort)

			var derr *DecodeError
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, layout.MinLength(), derr.Need)
			assert.Equal(t, n, derr.Got)
		}
	}
}

func TestDecode_LongerBufferDecodesPrefix(t *testing.T) {
	data := append(le32(21.5, 40), 0xde, 0xad, 0xbe, 0xef)

	got, err := Decode(LayoutEnvironment, data)
	require.NoError(t, err)
	assert.Equal(t, Environment{Temperature: 21.5, Humidity: 40}, got)
}

func TestDecode_EnvironmentCenti(t *testing.T) {
	// 2150 = 0x0866, -525 = 0xFDF3
	got, err := Decode(LayoutEnvironmentCenti, []byte{0x66, 0x08, 0xf3, 0xfd})
	require.NoError(t, err)

	e := got.(Environment)
	assert.InDelta(t, 21.50, e.Temperature, 1e-5)
	assert.InDelta(t, -5.25, e.Humidity, 1e-5)
}

func TestDecode_GasLevelWidths(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected GasLevel
	}{
		{"u8", []byte{0xff}, GasLevel{Level: 255, Width: 1}},
		{"u16 little-endian", []byte{0x34, 0x12}, GasLevel{Level: 0x1234, Width: 2}},
		{"u16 is unsigned", []byte{0xff, 0xff}, GasLevel{Level: 65535, Width: 2}},
		{"i32 is signed", []byte{0xfe, 0xff, 0xff, 0xff}, GasLevel{Level: -2, Width: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(LayoutGasLevel, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	for _, n := range []int{0, 3, 5, 8} {
		reading, err := Decode(LayoutGasLevel, make([]byte, n))
		assert.Nil(t, reading)
		assert.ErrorIs(t, err, ErrUnknownWidth, "%d bytes MUST be an unknown width", n)
	}
}

func TestDecode_Deterministic(t *testing.T) {
	data := le32(9, 8, 7, 6, 5)
	first, err := Decode(LayoutGasPanel, data)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Decode(LayoutGasPanel, data)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDecode_UnknownLayout(t *testing.T) {
	reading, err := Decode(LayoutUnknown, le32(1, 2, 3, 4, 5))
	assert.Nil(t, reading)
	assert.ErrorIs(t, err, ErrUnknownLayout)

	_, err = Encode(Layout(99), Sound{})
	assert.ErrorIs(t, err, ErrUnknownLayout)
}

func TestEncode_Mismatch(t *testing.T) {
	_, err := Encode(LayoutGasPanel, Sound{Count: 1})
	assert.ErrorIs(t, err, ErrMismatch)
	assert.EqualError(t, err, `gas_panel_f32x5: cannot encode reading of kind "sound"`)

	_, err = Encode(LayoutGasLevel, GasLevel{Level: 1, Width: 3})
	assert.ErrorIs(t, err, ErrUnknownWidth)
}

func TestParseLayout(t *testing.T) {
	for _, l := range Layouts() {
		parsed, err := ParseLayout(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}

	parsed, err := ParseLayout("  Sound_I32 ")
	require.NoError(t, err)
	assert.Equal(t, LayoutSound, parsed)

	_, err = ParseLayout("float64x9")
	assert.ErrorIs(t, err, ErrUnknownLayout)
	assert.EqualError(t, err, `unknown layout "float64x9"`)
}

func TestLayout_Text(t *testing.T) {
	text, err := LayoutEnvironmentCenti.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "environment_i16x2_centi", string(text))

	var l Layout
	require.NoError(t, l.UnmarshalText([]byte("gas_level_varwidth")))
	assert.Equal(t, LayoutGasLevel, l)

	_, err = LayoutUnknown.MarshalText()
	assert.Error(t, err)
}

func TestDecodeError_Messages(t *testing.T) {
	_, err := Decode(LayoutGasPanel, make([]byte, 19))
	assert.EqualError(t, err, "gas_panel_f32x5: payload too short: need 20 bytes, got 19")

	_, err = Decode(LayoutGasLevel, make([]byte, 3))
	assert.EqualError(t, err, "gas_level_varwidth: unknown width 3 (want 1, 2 or 4 bytes)")
}
