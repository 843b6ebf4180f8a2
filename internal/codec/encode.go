package codec

import (
	"encoding/binary"
	"math"
)

// Encode produces the wire form of r under layout. It is the inverse of Decode
// and is used by the simulated peripheral and by tests.
//
// Environment values encoded with LayoutEnvironmentCenti are rounded to the
// nearest hundredth. A GasLevel is encoded at its Width (4 bytes when Width is 0).
func Encode(layout Layout, r Reading) ([]byte, error) {
	switch layout {
	case LayoutGasPanel:
		g, ok := r.(GasPanel)
		if !ok {
			return nil, mismatch(layout, r)
		}
		buf := make([]byte, 20)
		for i, v := range []float32{g.CO, g.NO2, g.NH3, g.CH4, g.EtOH} {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		return buf, nil

	case LayoutEnvironment:
		e, ok := r.(Environment)
		if !ok {
			return nil, mismatch(layout, r)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(e.Temperature))
		binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(e.Humidity))
		return buf, nil

	case LayoutEnvironmentCenti:
		e, ok := r.(Environment)
		if !ok {
			return nil, mismatch(layout, r)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint16(buf[0:], uint16(centi(e.Temperature)))
		binary.LittleEndian.PutUint16(buf[2:], uint16(centi(e.Humidity)))
		return buf, nil

	case LayoutSound:
		s, ok := r.(Sound)
		if !ok {
			return nil, mismatch(layout, r)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(s.Count))
		return buf, nil

	case LayoutGasLevel:
		g, ok := r.(GasLevel)
		if !ok {
			return nil, mismatch(layout, r)
		}
		switch g.Width {
		case 1:
			return []byte{uint8(g.Level)}, nil
		case 2:
			buf := make([]byte, 2)
			binary.LittleEndian.PutUint16(buf, uint16(g.Level))
			return buf, nil
		case 0, 4:
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, uint32(int32(g.Level)))
			return buf, nil
		default:
			return nil, &DecodeError{Kind: UnknownWidth, Layout: layout, Got: g.Width}
		}

	default:
		return nil, &DecodeError{Kind: UnknownLayout, Layout: layout}
	}
}

func centi(v float32) int16 {
	return int16(math.Round(float64(v) * 100))
}

func mismatch(layout Layout, r Reading) error {
	name := "<nil>"
	if r != nil {
		name = r.Kind()
	}
	return &DecodeError{Kind: Mismatch, Layout: layout, Name: name}
}
