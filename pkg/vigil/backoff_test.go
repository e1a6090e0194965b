package vigil

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("ExponentialGrowth", testExponentialGrowth)
	t.Run("CappedAtMax", testCappedAtMax)
	t.Run("JitterStaysNearComputed", testJitterStaysNearComputed)
	t.Run("Defaults", testBackoffDefaults)
}

func testExponentialGrowth(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: 10 * time.Second, NoJitter: true}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.Delay(i + 1); got != w {
			t.Errorf("attempt %d: delay = %v, want %v", i+1, got, w)
		}
	}
}

func testCappedAtMax(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, NoJitter: true}
	for attempt := 1; attempt <= 20; attempt++ {
		if got := b.Delay(attempt); got > b.Max {
			t.Fatalf("attempt %d: delay %v exceeds max %v", attempt, got, b.Max)
		}
	}
	if got := b.Delay(10); got != time.Second {
		t.Errorf("deep attempt should sit at max, got %v", got)
	}
}

func testJitterStaysNearComputed(t *testing.T) {
	b := Backoff{Min: 100 * time.Millisecond, Max: 10 * time.Second}
	for i := 0; i < 100; i++ {
		got := b.Delay(2)
		if got < 190*time.Millisecond || got > 210*time.Millisecond {
			t.Fatalf("jittered delay %v outside 95-105%% of 200ms", got)
		}
	}
}

func testBackoffDefaults(t *testing.T) {
	var b Backoff
	b.NoJitter = true
	if got := b.Delay(1); got != 500*time.Millisecond {
		t.Errorf("default first delay = %v, want 500ms", got)
	}
	if got := b.Delay(100); got != 10*time.Second {
		t.Errorf("default capped delay = %v, want 10s", got)
	}
	// Attempts below 1 behave like the first attempt.
	if got := b.Delay(0); got != 500*time.Millisecond {
		t.Errorf("attempt 0 delay = %v, want 500ms", got)
	}
}
