package vigil

import (
	"fmt"
	"math"
	"time"
)

// SensorType identifies the physical quantity a sensor measures.
type SensorType string

const (
	SensorTemperature SensorType = "temperature"
	SensorPressure    SensorType = "pressure"
	SensorVibration   SensorType = "vibration"
	SensorSpeed       SensorType = "speed"
	SensorHumidity    SensorType = "humidity"
)

// AllSensorTypes returns the supported sensor types in catalog order.
func AllSensorTypes() []SensorType {
	return []SensorType{
		SensorTemperature,
		SensorPressure,
		SensorVibration,
		SensorSpeed,
		SensorHumidity,
	}
}

// Valid reports whether t names a supported sensor type.
func (t SensorType) Valid() bool {
	switch t {
	case SensorTemperature, SensorPressure, SensorVibration, SensorSpeed, SensorHumidity:
		return true
	}
	return false
}

// SensorReading is a single timestamped sample produced by a sensor source.
// Readings are immutable once produced; Sequence is strictly increasing per
// sensor and never reset while a session is running.
type SensorReading struct {
	SensorID  string     `json:"sensor_id"`
	Type      SensorType `json:"sensor_type"`
	Value     float64    `json:"value"`
	Unit      string     `json:"unit"`
	Timestamp time.Time  `json:"timestamp"`
	Sequence  uint64     `json:"sequence"`
}

// wellFormed reports whether a reading is safe to feed into detection.
// NaN and infinite values come from misbehaving generators and must never
// reach the statistics window.
func (r SensorReading) wellFormed() bool {
	return r.SensorID != "" && !math.IsNaN(r.Value) && !math.IsInf(r.Value, 0)
}

// Profile describes the simulated behavior and plant context of one sensor
// type: the band its baseline is drawn from, the per-tick noise amplitude,
// and the largest tick-to-tick change considered plausible for a healthy
// sensor (used by the detector's rate-of-change rule).
type Profile struct {
	Type        SensorType `json:"sensor_type"`
	Unit        string     `json:"unit"`
	BaselineMin float64    `json:"baseline_min"`
	BaselineMax float64    `json:"baseline_max"`
	Noise       float64    `json:"noise"`
	MaxDelta    float64    `json:"max_delta"`
	Equipment   string     `json:"equipment"`
	Location    string     `json:"location"`
}

// Profiles returns the built-in plant sensor catalog. Callers may copy and
// adjust entries before passing them to a Config.
func Profiles() map[SensorType]Profile {
	return map[SensorType]Profile{
		SensorTemperature: {
			Type:        SensorTemperature,
			Unit:        "°F",
			BaselineMin: 60,
			BaselineMax: 90,
			Noise:       2,
			MaxDelta:    8,
			Equipment:   "HVAC_System_A",
			Location:    "Production Floor A",
		},
		SensorPressure: {
			Type:        SensorPressure,
			Unit:        "PSI",
			BaselineMin: 80,
			BaselineMax: 120,
			Noise:       5,
			MaxDelta:    20,
			Equipment:   "Hydraulic_Press_1",
			Location:    "Production Floor A",
		},
		SensorVibration: {
			Type:        SensorVibration,
			Unit:        "mm/s",
			BaselineMin: 0.5,
			BaselineMax: 2.0,
			Noise:       0.25,
			MaxDelta:    1.0,
			Equipment:   "CNC_Machine_1",
			Location:    "Machining Bay",
		},
		SensorSpeed: {
			Type:        SensorSpeed,
			Unit:        "RPM",
			BaselineMin: 1450,
			BaselineMax: 1550,
			Noise:       20,
			MaxDelta:    80,
			Equipment:   "Conveyor_Motor_1",
			Location:    "Assembly Line 1",
		},
		SensorHumidity: {
			Type:        SensorHumidity,
			Unit:        "%RH",
			BaselineMin: 40,
			BaselineMax: 60,
			Noise:       3,
			MaxDelta:    12,
			Equipment:   "Climate_Control_1",
			Location:    "Storage Room B",
		},
	}
}

// DefaultSensorID returns the conventional instance ID for the first sensor
// of a type, e.g. "temp-1" for temperature.
func DefaultSensorID(t SensorType) string {
	return fmt.Sprintf("%s-1", sensorIDPrefix(t))
}

func sensorIDPrefix(t SensorType) string {
	switch t {
	case SensorTemperature:
		return "temp"
	case SensorVibration:
		return "vib"
	default:
		return string(t)
	}
}
