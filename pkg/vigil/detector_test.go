package vigil

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestDetector(t *testing.T) {
	t.Run("NormalBeforeWindowFill", testNormalBeforeWindowFill)
	t.Run("CriticalBeyondThreeSigma", testCriticalBeyondThreeSigma)
	t.Run("WarningBeyondTwoSigma", testWarningBeyondTwoSigma)
	t.Run("RateOfChangePromotion", testRateOfChangePromotion)
	t.Run("ConstantWindowSkipsZScore", testConstantWindowSkipsZScore)
	t.Run("Determinism", testDeterminism)
	t.Run("MalformedReadings", testMalformedReadings)
	t.Run("StaleSequenceDiscarded", testStaleSequenceDiscarded)
}

func tempReading(seq uint64, value float64) SensorReading {
	return SensorReading{
		SensorID:  "temp-1",
		Type:      SensorTemperature,
		Value:     value,
		Unit:      "°F",
		Timestamp: time.Unix(1700000000, 0).Add(time.Duration(seq) * time.Second),
		Sequence:  seq,
	}
}

func classify(t *testing.T, d *Detector, state *SensorState, values ...float64) []Classification {
	t.Helper()
	out := make([]Classification, 0, len(values))
	for i, v := range values {
		out = append(out, d.Evaluate(tempReading(uint64(i+1), v), state))
	}
	return out
}

func testNormalBeforeWindowFill(t *testing.T) {
	d := NewDetector(5, Profiles())
	state := NewSensorState("temp-1", 5)

	// Wildly anomalous values must still classify Normal while the window
	// is underfilled: insufficient data never alarms.
	for _, c := range classify(t, d, state, 70, 500, -300, 70, 9999) {
		if c.Level != LevelNormal {
			t.Fatalf("expected Normal before window fill, got %s (%s)", c.Level, c.Reason)
		}
	}
}

func testCriticalBeyondThreeSigma(t *testing.T) {
	d := NewDetector(5, Profiles())
	state := NewSensorState("temp-1", 5)

	trace := classify(t, d, state, 70, 71, 69, 70, 72, 95)
	for i, c := range trace[:5] {
		if c.Level != LevelNormal {
			t.Fatalf("reading %d: expected Normal, got %s", i+1, c.Level)
		}
	}
	// Window [70,71,69,70,72]: mean 70.4, sigma ~1.02, |95-70.4| >> 3 sigma.
	got := trace[5]
	if got.Level != LevelCritical {
		t.Fatalf("expected Critical for 95, got %s (%s)", got.Level, got.Reason)
	}
	if got.Reason == "" {
		t.Error("critical classification should carry a reason")
	}
}

func testWarningBeyondTwoSigma(t *testing.T) {
	d := NewDetector(5, Profiles())
	state := NewSensorState("temp-1", 5)

	// Window [70,71,69,70,72]: mean 70.4, sigma ~1.02. A value of 73 is
	// ~2.5 sigma out: Warning, not Critical.
	trace := classify(t, d, state, 70, 71, 69, 70, 72, 73)
	if got := trace[5]; got.Level != LevelWarning {
		t.Fatalf("expected Warning for 73, got %s (%s)", got.Level, got.Reason)
	}
}

func testRateOfChangePromotion(t *testing.T) {
	d := NewDetector(3, Profiles())
	state := NewSensorState("vib-1", 5)

	// Vibration MaxDelta is 1.0. An alternating window gives sigma ~0.74,
	// so 1.9 is within 1 sigma of the mean (1.2) and the z-score rules
	// stay quiet; the jump of 1.4 from the previous value trips the rate
	// rule instead.
	values := []float64{0.5, 2.0, 0.5, 2.0, 0.5}
	for i, v := range values {
		d.Evaluate(SensorReading{
			SensorID: "vib-1", Type: SensorVibration, Value: v,
			Timestamp: time.Unix(1700000000+int64(i), 0), Sequence: uint64(i + 1),
		}, state)
	}

	c := d.Evaluate(SensorReading{
		SensorID: "vib-1", Type: SensorVibration, Value: 1.9,
		Timestamp: time.Unix(1700000010, 0), Sequence: 6,
	}, state)
	if c.Level != LevelWarning {
		t.Fatalf("expected rate-of-change Warning, got %s (%s)", c.Level, c.Reason)
	}
	if !strings.Contains(c.Reason, "rate-of-change") {
		t.Errorf("expected the rate rule to fire, reason was %q", c.Reason)
	}
}

func testConstantWindowSkipsZScore(t *testing.T) {
	d := NewDetector(5, Profiles())
	state := NewSensorState("temp-1", 5)

	// A constant window has sigma 0; any deviation would be infinite
	// sigmas out. The z-score rules must yield to the rate rule instead of
	// dividing by zero or alarming on noise.
	trace := classify(t, d, state, 70, 70, 70, 70, 70, 75)
	if got := trace[5]; got.Level != LevelNormal {
		t.Fatalf("expected Normal for small jump on constant window, got %s (%s)", got.Level, got.Reason)
	}

	state2 := NewSensorState("temp-1", 5)
	trace = classify(t, d, state2, 70, 70, 70, 70, 70, 80)
	// Delta 10 exceeds the temperature limit of 8.
	if got := trace[5]; got.Level != LevelWarning {
		t.Fatalf("expected rate Warning on constant window, got %s (%s)", got.Level, got.Reason)
	}
}

func testDeterminism(t *testing.T) {
	values := []float64{70, 71, 69, 70, 72, 95, 94, 70, 71, 150, 69, 70, 68, 71, 200}

	run := func() []Classification {
		d := NewDetector(5, Profiles())
		state := NewSensorState("temp-1", 20)
		return classify(t, d, state, values...)
	}

	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("trace diverged at reading %d: %+v vs %+v", i+1, first[i], second[i])
		}
	}
}

func testMalformedReadings(t *testing.T) {
	d := NewDetector(2, Profiles())
	state := NewSensorState("temp-1", 5)

	classify(t, d, state, 70, 71, 69)
	before := state.Samples()

	for i, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		c := d.Evaluate(tempReading(uint64(10+i), v), state)
		if c.Level != LevelNormal {
			t.Fatalf("malformed value must classify Normal, got %s", c.Level)
		}
	}
	if state.Samples() != before {
		t.Errorf("malformed values must not enter the window: %d -> %d", before, state.Samples())
	}
}

func testStaleSequenceDiscarded(t *testing.T) {
	d := NewDetector(2, Profiles())
	state := NewSensorState("temp-1", 5)

	classify(t, d, state, 70, 71, 69)
	before := state.Samples()

	// Replay of sequence 2 and a duplicate of 3 must both be refused.
	for _, seq := range []uint64{2, 3} {
		c := d.Evaluate(tempReading(seq, 120), state)
		if c.Level != LevelNormal {
			t.Fatalf("stale sequence must classify Normal, got %s", c.Level)
		}
	}
	if state.Samples() != before {
		t.Errorf("stale readings must not enter the window: %d -> %d", before, state.Samples())
	}

	// The next fresh sequence is accepted again.
	if ok := state.ObserveSequence(4); !ok {
		t.Error("sequence 4 should advance after 3")
	}
}
