package vigil

import (
	"math"
	"time"
)

// SensorState holds the rolling statistics the detector keeps per sensor:
// the trailing window of recent values, the running mean and standard
// deviation over that window, and the alert cooldown bookkeeping written by
// the dispatcher.
//
// A SensorState is owned by exactly one evaluation goroutine at a time (all
// readings for a sensor flow through a single ordered path), so it carries
// no locking of its own.
type SensorState struct {
	sensorID   string
	window     []float64
	maxWindow  int
	mean       float64
	stddev     float64
	lastValue  float64
	hasLast    bool
	lastSeq    uint64
	hasSeq     bool
	alertTime  time.Time
	cooldownTo time.Time
}

// SensorStateSnapshot is a copyable view of a SensorState for status APIs.
type SensorStateSnapshot struct {
	SensorID      string    `json:"sensor_id"`
	Samples       int       `json:"samples"`
	Mean          float64   `json:"mean"`
	StdDev        float64   `json:"stddev"`
	LastValue     float64   `json:"last_value"`
	LastAlertTime time.Time `json:"last_alert_time"`
	CooldownUntil time.Time `json:"cooldown_until"`
}

// NewSensorState creates state for one sensor with the given window size.
func NewSensorState(sensorID string, windowSize int) *SensorState {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &SensorState{
		sensorID:  sensorID,
		window:    make([]float64, 0, windowSize),
		maxWindow: windowSize,
	}
}

// Push appends a value to the rolling window, sliding out the oldest entry
// once the window is full, and refreshes the running mean and standard
// deviation.
func (s *SensorState) Push(value float64) {
	if len(s.window) == s.maxWindow {
		copy(s.window, s.window[1:])
		s.window = s.window[:s.maxWindow-1]
	}
	s.window = append(s.window, value)
	s.lastValue = value
	s.hasLast = true
	s.recompute()
}

func (s *SensorState) recompute() {
	n := len(s.window)
	if n == 0 {
		s.mean, s.stddev = 0, 0
		return
	}
	var sum float64
	for _, v := range s.window {
		sum += v
	}
	s.mean = sum / float64(n)

	var sqDiff float64
	for _, v := range s.window {
		d := v - s.mean
		sqDiff += d * d
	}
	s.stddev = math.Sqrt(sqDiff / float64(n))
}

// Samples returns the number of values currently in the window.
func (s *SensorState) Samples() int { return len(s.window) }

// Mean returns the mean over the current window.
func (s *SensorState) Mean() float64 { return s.mean }

// StdDev returns the population standard deviation over the current window.
func (s *SensorState) StdDev() float64 { return s.stddev }

// LastValue returns the most recently pushed value, and false if no value
// has been pushed yet.
func (s *SensorState) LastValue() (float64, bool) {
	return s.lastValue, s.hasLast
}

// ObserveSequence records a reading's sequence number and reports whether it
// strictly advanced the previously observed one. The first observation for a
// sensor always advances.
func (s *SensorState) ObserveSequence(seq uint64) bool {
	if s.hasSeq && seq <= s.lastSeq {
		return false
	}
	s.lastSeq = seq
	s.hasSeq = true
	return true
}

// InCooldown reports whether the sensor is still inside the alert cooldown
// window at the given event time.
func (s *SensorState) InCooldown(at time.Time) bool {
	return at.Before(s.cooldownTo)
}

// StartCooldown records an alert at the given event time and opens a new
// cooldown window of the given duration.
func (s *SensorState) StartCooldown(at time.Time, d time.Duration) {
	s.alertTime = at
	s.cooldownTo = at.Add(d)
}

// Snapshot returns a copyable view of the state.
func (s *SensorState) Snapshot() SensorStateSnapshot {
	return SensorStateSnapshot{
		SensorID:      s.sensorID,
		Samples:       len(s.window),
		Mean:          s.mean,
		StdDev:        s.stddev,
		LastValue:     s.lastValue,
		LastAlertTime: s.alertTime,
		CooldownUntil: s.cooldownTo,
	}
}
