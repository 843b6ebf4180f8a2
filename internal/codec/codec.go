package codec

import (
	"encoding/binary"
	"math"
)

// Decode turns data into the reading described by layout.
//
// Fixed layouts require at least MinLength bytes and decode only that prefix;
// trailing bytes are ignored. LayoutGasLevel accepts exactly 1, 2 or 4 bytes.
// Every failure is a *DecodeError and never comes with a reading.
func Decode(layout Layout, data []byte) (Reading, error) {
	switch layout {
	case LayoutGasPanel:
		if err := checkLength(layout, data); err != nil {
			return nil, err
		}
		return GasPanel{
			CO:   f32(data, 0),
			NO2:  f32(data, 4),
			NH3:  f32(data, 8),
			CH4:  f32(data, 12),
			EtOH: f32(data, 16),
		}, nil

	case LayoutEnvironment:
		if err := checkLength(layout, data); err != nil {
			return nil, err
		}
		return Environment{Temperature: f32(data, 0), Humidity: f32(data, 4)}, nil

	case LayoutEnvironmentCenti:
		if err := checkLength(layout, data); err != nil {
			return nil, err
		}
		return Environment{
			Temperature: float32(int16(binary.LittleEndian.Uint16(data[0:2]))) / 100,
			Humidity:    float32(int16(binary.LittleEndian.Uint16(data[2:4]))) / 100,
		}, nil

	case LayoutSound:
		if err := checkLength(layout, data); err != nil {
			return nil, err
		}
		return Sound{Count: int32(binary.LittleEndian.Uint32(data[0:4]))}, nil

	case LayoutGasLevel:
		return decodeGasLevel(data)

	default:
		return nil, &DecodeError{Kind: UnknownLayout, Layout: layout}
	}
}

func decodeGasLevel(data []byte) (Reading, error) {
	switch len(data) {
	case 1:
		return GasLevel{Level: int64(data[0]), Width: 1}, nil
	case 2:
		return GasLevel{Level: int64(binary.LittleEndian.Uint16(data)), Width: 2}, nil
	case 4:
		return GasLevel{Level: int64(int32(binary.LittleEndian.Uint32(data))), Width: 4}, nil
	default:
		return nil, &DecodeError{Kind: UnknownWidth, Layout: LayoutGasLevel, Got: len(data)}
	}
}

func checkLength(layout Layout, data []byte) error {
	if need := layout.MinLength(); len(data) < need {
		return &DecodeError{Kind: TooShort, Layout: layout, Need: need, Got: len(data)}
	}
	return nil
}

func f32(data []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(data[off : off+4]))
}
