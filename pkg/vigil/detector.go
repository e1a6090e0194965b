package vigil

import (
	"fmt"
	"math"
)

// Level grades a classification.
type Level string

const (
	LevelNormal   Level = "normal"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Classification is the detector's verdict on a single reading.
type Classification struct {
	Level  Level  `json:"level"`
	Reason string `json:"reason,omitempty"`
}

// Anomalous reports whether the classification warrants dispatching.
func (c Classification) Anomalous() bool {
	return c.Level == LevelWarning || c.Level == LevelCritical
}

// Detector classifies readings against their sensor's rolling statistics.
//
// Evaluation is deterministic: it depends only on the ordered sequence of
// values previously pushed into the state, never on wall-clock time, so
// replaying a recorded stream reproduces the identical classification
// trace. Below the minimum window fill every reading is Normal; insufficient
// data must never alarm.
type Detector struct {
	minSamples int
	deltaLimit map[SensorType]float64
}

// NewDetector builds a detector that requires minSamples window entries
// before classifying and takes its per-type rate-of-change limits from the
// given profiles. A type missing from profiles has no rate limit.
func NewDetector(minSamples int, profiles map[SensorType]Profile) *Detector {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	limits := make(map[SensorType]float64, len(profiles))
	for t, p := range profiles {
		if p.MaxDelta > 0 {
			limits[t] = p.MaxDelta
		}
	}
	return &Detector{minSamples: minSamples, deltaLimit: limits}
}

// Evaluate classifies a reading against the sensor's current statistics and
// then folds the value into the rolling window. The window in effect for
// classification is the one accumulated before this reading arrived.
//
// Rules, in order:
//   - malformed reading (NaN, ±Inf, stale sequence): Normal, value discarded
//   - fewer than minSamples prior values: Normal
//   - |value − mean| > 3σ: Critical
//   - |value − mean| > 2σ: Warning
//   - |value − previous| above the type's rate-of-change limit: Warning
func (d *Detector) Evaluate(r SensorReading, state *SensorState) Classification {
	if !r.wellFormed() {
		return Classification{Level: LevelNormal, Reason: "malformed reading discarded"}
	}
	if !state.ObserveSequence(r.Sequence) {
		return Classification{Level: LevelNormal, Reason: "stale sequence discarded"}
	}

	if state.Samples() < d.minSamples {
		state.Push(r.Value)
		return Classification{Level: LevelNormal}
	}

	mean := state.Mean()
	sd := state.StdDev()
	prev, hasPrev := state.LastValue()
	state.Push(r.Value)

	// A constant window yields σ=0; the z-score rules are meaningless there
	// and evaluation falls through to the rate-of-change rule.
	if sd > 0 {
		dev := math.Abs(r.Value - mean)
		dir := "above"
		if r.Value < mean {
			dir = "below"
		}
		if dev > 3*sd {
			return Classification{
				Level:  LevelCritical,
				Reason: fmt.Sprintf("value %.2f is %.1fσ %s rolling mean %.2f", r.Value, dev/sd, dir, mean),
			}
		}
		if dev > 2*sd {
			return Classification{
				Level:  LevelWarning,
				Reason: fmt.Sprintf("value %.2f is %.1fσ %s rolling mean %.2f", r.Value, dev/sd, dir, mean),
			}
		}
	}

	if hasPrev {
		if limit, ok := d.deltaLimit[r.Type]; ok {
			if delta := math.Abs(r.Value - prev); delta > limit {
				return Classification{
					Level:  LevelWarning,
					Reason: fmt.Sprintf("rate-of-change %.2f exceeds limit %.2f for %s", delta, limit, r.Type),
				}
			}
		}
	}

	return Classification{Level: LevelNormal}
}
