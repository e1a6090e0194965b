package vigil

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestEngine(t *testing.T) {
	t.Run("StartStopLifecycle", testStartStopLifecycle)
	t.Run("DoubleStartRejected", testDoubleStartRejected)
	t.Run("StopIsIdempotent", testStopIsIdempotent)
	t.Run("NoSensorsRejected", testNoSensorsRejected)
	t.Run("SubscriptionFeed", testSubscriptionFeed)
	t.Run("FailedSourceLeavesOthersRunning", testFailedSourceLeavesOthersRunning)
	t.Run("RestartAcrossSessions", testRestartAcrossSessions)
}

func quietEngine() *Engine {
	e := NewEngine()
	e.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return e
}

// fastConfig returns a config tuned so a full session fits in milliseconds.
func fastConfig(sensors ...SensorSpec) Config {
	return Config{
		SamplingInterval: 2 * time.Millisecond,
		Sensors:          sensors,
		CooldownDuration: time.Minute,
		HandoffTimeout:   100 * time.Millisecond,
		StartupTimeout:   2 * time.Second,
		RestartBackoff:   Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, NoJitter: true},
	}
}

func testStartStopLifecycle(t *testing.T) {
	e := quietEngine()
	if got := e.Status(); got != StatusStopped {
		t.Fatalf("fresh engine status = %q, want %q", got, StatusStopped)
	}

	sess, err := e.Start(fastConfig(SensorSpec{
		ID: "temp-1", Type: SensorTemperature, Strategy: NewSequenceStrategy(70, 71, 69),
	}))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := e.Status(); got != StatusRunning {
		t.Fatalf("status after Start = %q, want %q", got, StatusRunning)
	}
	if !e.IsRunning() {
		t.Error("IsRunning() = false while running")
	}

	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := e.Status(); got != StatusStopped {
		t.Fatalf("status after Stop = %q, want %q", got, StatusStopped)
	}

	// The engine accepts a fresh session after stopping.
	if _, err := e.Start(fastConfig(SensorSpec{
		ID: "temp-1", Type: SensorTemperature, Strategy: NewSequenceStrategy(70),
	})); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func testDoubleStartRejected(t *testing.T) {
	e := quietEngine()
	cfg := fastConfig(SensorSpec{
		ID: "temp-1", Type: SensorTemperature, Strategy: NewSequenceStrategy(70),
	})
	if _, err := e.Start(cfg); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Stop()

	if _, err := e.Start(cfg); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if got := e.Status(); got != StatusRunning {
		t.Errorf("rejected Start disturbed status: %q", got)
	}
}

func testStopIsIdempotent(t *testing.T) {
	e := quietEngine()

	// Stop with no session ever started is a no-op.
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() on stopped engine error = %v", err)
	}

	if _, err := e.Start(fastConfig(SensorSpec{
		ID: "temp-1", Type: SensorTemperature, Strategy: NewSequenceStrategy(70),
	})); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if got := e.Status(); got != StatusStopped {
		t.Errorf("status after double Stop = %q, want %q", got, StatusStopped)
	}
}

func testNoSensorsRejected(t *testing.T) {
	e := quietEngine()
	cfg := DefaultConfig()
	cfg.EnabledSensorTypes = []SensorType{}
	if _, err := e.Start(cfg); !errors.Is(err, ErrNoSensors) {
		t.Fatalf("Start() with no sensors error = %v, want ErrNoSensors", err)
	}
	if got := e.Status(); got != StatusStopped {
		t.Errorf("failed Start left status %q, want %q", got, StatusStopped)
	}
}

func testSubscriptionFeed(t *testing.T) {
	e := quietEngine()
	sub := e.Subscribe()
	defer sub.Close()

	if _, err := e.Start(fastConfig(
		SensorSpec{ID: "temp-1", Type: SensorTemperature, Strategy: NewSequenceStrategy(70, 71, 69, 70, 72)},
		SensorSpec{ID: "press-1", Type: SensorPressure, Strategy: NewSequenceStrategy(90, 91, 92)},
	)); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	lastSeq := make(map[string]uint64)
	deadline := time.After(2 * time.Second)
	for received := 0; received < 20; received++ {
		select {
		case r := <-sub.Readings():
			if r.SensorID != "temp-1" && r.SensorID != "press-1" {
				t.Fatalf("reading from unexpected sensor %q", r.SensorID)
			}
			if r.Sequence <= lastSeq[r.SensorID] {
				t.Fatalf("sensor %s sequence went %d -> %d, want strictly increasing",
					r.SensorID, lastSeq[r.SensorID], r.Sequence)
			}
			lastSeq[r.SensorID] = r.Sequence
		case <-deadline:
			t.Fatal("timed out waiting for subscription readings")
		}
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	// Stopping the session does not close subscriber channels; only Close does.
	select {
	case _, ok := <-sub.Alerts():
		if !ok {
			t.Fatal("alert channel closed by session stop")
		}
	default:
	}
}

func testFailedSourceLeavesOthersRunning(t *testing.T) {
	e := quietEngine()
	sub := e.Subscribe()
	defer sub.Close()

	cfg := fastConfig(
		SensorSpec{ID: "temp-1", Type: SensorTemperature, Strategy: NewSequenceStrategy(70, 71, 69)},
		SensorSpec{ID: "humidity-2", Type: SensorHumidity, Strategy: FailingStrategy{Err: errors.New("sensor unplugged")}},
	)
	cfg.MaxRestarts = 2
	cfg.StartupTimeout = 50 * time.Millisecond

	if _, err := e.Start(cfg); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer e.Stop()

	// Two restarts at 1-2ms backoff resolve well within this window.
	deadline := time.After(2 * time.Second)
	for {
		stats := e.Stats()
		var humidity, temp *SourceStats
		for i := range stats.Sources {
			switch stats.Sources[i].SensorID {
			case "humidity-2":
				humidity = &stats.Sources[i]
			case "temp-1":
				temp = &stats.Sources[i]
			}
		}
		if humidity == nil || temp == nil {
			t.Fatalf("Stats() missing sources: %+v", stats.Sources)
		}
		if humidity.State == SourceFailed {
			if !stats.Degraded {
				t.Error("engine not marked degraded with a failed source")
			}
			if humidity.Failures < 3 {
				t.Errorf("failed source failures = %d, want >= 3 (initial + retries)", humidity.Failures)
			}
			if temp.State != SourceActive {
				t.Errorf("healthy source state = %q, want %q", temp.State, SourceActive)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("humidity-2 never reached %q, state %q", SourceFailed, humidity.State)
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The healthy sensor keeps feeding subscribers after the failure.
	before := uint64(0)
	deadline = time.After(2 * time.Second)
	for {
		select {
		case r := <-sub.Readings():
			if r.SensorID != "temp-1" {
				continue
			}
			if before == 0 {
				before = r.Sequence
				continue
			}
			if r.Sequence <= before {
				t.Fatalf("temp-1 sequence stalled: %d then %d", before, r.Sequence)
			}
			return
		case <-deadline:
			t.Fatal("healthy sensor stopped producing after peer failure")
		}
	}
}

func testRestartAcrossSessions(t *testing.T) {
	e := quietEngine()
	sub := e.Subscribe()
	defer sub.Close()

	run := func() {
		t.Helper()
		if _, err := e.Start(fastConfig(SensorSpec{
			ID: "vib-1", Type: SensorVibration, Strategy: NewSequenceStrategy(1.0, 1.1, 0.9),
		})); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		select {
		case <-sub.Readings():
		case <-time.After(2 * time.Second):
			t.Fatal("no reading delivered")
		}
		if err := e.Stop(); err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	}

	// A subscription registered once keeps working across sessions.
	run()
	run()
}
