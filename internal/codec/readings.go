package codec

import (
	"fmt"
)

// Reading is one decoded sample. Values are raw; no units are derived here.
type Reading interface {
	// Kind names the record type: gas_panel, environment, sound or gas_level.
	Kind() string
	String() string
}

// GasPanel is the five-channel gas sensor record.
type GasPanel struct {
	CO   float32 `json:"co"`
	NO2  float32 `json:"no2"`
	NH3  float32 `json:"nh3"`
	CH4  float32 `json:"ch4"`
	EtOH float32 `json:"c2h5oh"`
}

func (GasPanel) Kind() string { return "gas_panel" }

func (g GasPanel) String() string {
	return fmt.Sprintf("CO=%g NO2=%g NH3=%g CH4=%g EtOH=%g", g.CO, g.NO2, g.NH3, g.CH4, g.EtOH)
}

// Environment is the temperature/humidity pair.
type Environment struct {
	Temperature float32 `json:"temp"`
	Humidity    float32 `json:"hum"`
}

func (Environment) Kind() string { return "environment" }

func (e Environment) String() string {
	return fmt.Sprintf("temp=%g hum=%g", e.Temperature, e.Humidity)
}

// Sound is the sound-event counter.
type Sound struct {
	Count int32 `json:"sound"`
}

func (Sound) Kind() string { return "sound" }

func (s Sound) String() string {
	return fmt.Sprintf("count=%d", s.Count)
}

// GasLevel is a single integer gas level; Width is the payload size it came from.
type GasLevel struct {
	Level int64 `json:"level"`
	Width int   `json:"width"`
}

func (GasLevel) Kind() string { return "gas_level" }

func (g GasLevel) String() string {
	return fmt.Sprintf("level=%d (%d-byte)", g.Level, g.Width)
}
