package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/chosenoffset/vigil/pkg/vigil"
)

func TestMemoryAlertStore(t *testing.T) {
	t.Run("CreateAndList", testAlertCreateAndList)
	t.Run("ListFilters", testAlertListFilters)
	t.Run("Acknowledge", testAlertAcknowledge)
	t.Run("AcknowledgeUnknownID", testAlertAcknowledgeUnknownID)
	t.Run("FailCreatesHook", testAlertFailCreatesHook)
}

func TestMemoryReadingStore(t *testing.T) {
	t.Run("BatchAndList", testReadingBatchAndList)
	t.Run("TimeRange", testReadingTimeRange)
}

func TestReadingWriter(t *testing.T) {
	t.Run("FlushOnBatchSize", testWriterFlushOnBatchSize)
	t.Run("FlushOnClose", testWriterFlushOnClose)
	t.Run("DropsWhenSaturated", testWriterDropsWhenSaturated)
}

func testAlert(id, sensorID string, severity vigil.Level, at time.Time) vigil.Alert {
	return vigil.Alert{
		ID:        id,
		SensorID:  sensorID,
		Severity:  severity,
		Message:   "anomaly on " + sensorID,
		CreatedAt: at,
	}
}

func testAlertCreateAndList(t *testing.T) {
	s := NewMemoryAlertStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		a := testAlert(fmt.Sprintf("a-%d", i), "temp-1", vigil.LevelWarning, base.Add(time.Duration(i)*time.Minute))
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("Create(%s) error = %v", a.ID, err)
		}
	}
	if got := s.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	out, err := s.List(ctx, vigil.AlertFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("List() returned %d alerts, want 3", len(out))
	}
	// Newest first.
	if out[0].ID != "a-2" || out[2].ID != "a-0" {
		t.Errorf("List() order = [%s %s %s], want newest first", out[0].ID, out[1].ID, out[2].ID)
	}
}

func testAlertListFilters(t *testing.T) {
	s := NewMemoryAlertStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []vigil.Alert{
		testAlert("a-1", "temp-1", vigil.LevelWarning, base),
		testAlert("a-2", "temp-1", vigil.LevelCritical, base.Add(time.Minute)),
		testAlert("a-3", "press-1", vigil.LevelCritical, base.Add(2*time.Minute)),
	}
	for _, a := range seed {
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("Create(%s) error = %v", a.ID, err)
		}
	}

	out, err := s.List(ctx, vigil.AlertFilter{SensorID: "temp-1"})
	if err != nil {
		t.Fatalf("List(sensor) error = %v", err)
	}
	if len(out) != 2 {
		t.Errorf("sensor filter returned %d, want 2", len(out))
	}

	out, err = s.List(ctx, vigil.AlertFilter{Severity: vigil.LevelCritical})
	if err != nil {
		t.Fatalf("List(severity) error = %v", err)
	}
	if len(out) != 2 {
		t.Errorf("severity filter returned %d, want 2", len(out))
	}

	out, err = s.List(ctx, vigil.AlertFilter{Since: base.Add(time.Minute), Until: base.Add(2 * time.Minute)})
	if err != nil {
		t.Fatalf("List(range) error = %v", err)
	}
	if len(out) != 1 || out[0].ID != "a-2" {
		t.Errorf("time range filter returned %+v, want only a-2", out)
	}

	out, err = s.List(ctx, vigil.AlertFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List(limit) error = %v", err)
	}
	if len(out) != 1 || out[0].ID != "a-3" {
		t.Errorf("limit filter returned %+v, want only the newest", out)
	}
}

func testAlertAcknowledge(t *testing.T) {
	s := NewMemoryAlertStore()
	ctx := context.Background()

	a := testAlert("a-1", "temp-1", vigil.LevelCritical, time.Now())
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Acknowledge(ctx, "a-1"); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}

	out, err := s.List(ctx, vigil.AlertFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !out[0].Acknowledged {
		t.Error("alert not marked acknowledged after Acknowledge")
	}
}

func testAlertAcknowledgeUnknownID(t *testing.T) {
	s := NewMemoryAlertStore()
	err := s.Acknowledge(context.Background(), "missing")
	if !errors.Is(err, vigil.ErrAlertNotFound) {
		t.Fatalf("Acknowledge(missing) error = %v, want ErrAlertNotFound", err)
	}
}

func testAlertFailCreatesHook(t *testing.T) {
	s := NewMemoryAlertStore()
	s.FailCreates = errors.New("disk full")
	err := s.Create(context.Background(), testAlert("a-1", "temp-1", vigil.LevelWarning, time.Now()))
	if err == nil || err.Error() != "disk full" {
		t.Fatalf("Create() error = %v, want injected failure", err)
	}
	if got := s.Len(); got != 0 {
		t.Errorf("failed Create stored an alert, Len() = %d", got)
	}
}

func testReading(sensorID string, seq uint64, at time.Time) vigil.SensorReading {
	return vigil.SensorReading{
		SensorID:  sensorID,
		Type:      vigil.SensorTemperature,
		Value:     70,
		Unit:      "°F",
		Timestamp: at,
		Sequence:  seq,
	}
}

func testReadingBatchAndList(t *testing.T) {
	s := NewMemoryReadingStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	batch := []vigil.SensorReading{
		testReading("temp-1", 1, base),
		testReading("temp-1", 2, base.Add(time.Second)),
		testReading("press-1", 1, base),
	}
	if err := s.CreateBatch(ctx, batch); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	if got := s.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	out, err := s.List(ctx, "temp-1", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("List(temp-1) returned %d readings, want 2", len(out))
	}
	if out[0].Sequence != 2 {
		t.Errorf("List() not newest first: first sequence = %d", out[0].Sequence)
	}
}

func testReadingTimeRange(t *testing.T) {
	s := NewMemoryReadingStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var batch []vigil.SensorReading
	for i := 0; i < 5; i++ {
		batch = append(batch, testReading("temp-1", uint64(i+1), base.Add(time.Duration(i)*time.Minute)))
	}
	if err := s.CreateBatch(ctx, batch); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	out, err := s.List(ctx, "temp-1", base.Add(time.Minute), base.Add(3*time.Minute), 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("range returned %d readings, want 2 (since inclusive, until exclusive)", len(out))
	}

	out, err = s.List(ctx, "temp-1", time.Time{}, time.Time{}, 2)
	if err != nil {
		t.Fatalf("List(limit) error = %v", err)
	}
	if len(out) != 2 || out[0].Sequence != 5 {
		t.Errorf("limit returned %d readings starting at sequence %d, want 2 newest", len(out), out[0].Sequence)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWriterFlushOnBatchSize(t *testing.T) {
	rs := NewMemoryReadingStore()
	w := NewReadingWriter(rs, 16, 3, time.Hour, quietLogger())
	defer w.Close()

	base := time.Now()
	for i := 0; i < 3; i++ {
		w.Enqueue(testReading("temp-1", uint64(i+1), base))
	}

	deadline := time.After(2 * time.Second)
	for rs.Len() < 3 {
		select {
		case <-deadline:
			t.Fatalf("batch never flushed, stored %d of 3", rs.Len())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if got := w.Stats().Written; got != 3 {
		t.Errorf("Stats().Written = %d, want 3", got)
	}
}

func testWriterFlushOnClose(t *testing.T) {
	rs := NewMemoryReadingStore()
	w := NewReadingWriter(rs, 16, 100, time.Hour, quietLogger())

	w.Enqueue(testReading("temp-1", 1, time.Now()))
	w.Enqueue(testReading("temp-1", 2, time.Now()))
	w.Close()

	if got := rs.Len(); got != 2 {
		t.Fatalf("Close() flushed %d readings, want 2", got)
	}
}

// stallingStore blocks CreateBatch until released, keeping the writer loop
// busy so the queue can be filled deterministically.
type stallingStore struct {
	MemoryReadingStore
	entered chan struct{}
	release chan struct{}
}

func (s *stallingStore) CreateBatch(ctx context.Context, readings []vigil.SensorReading) error {
	s.entered <- struct{}{}
	<-s.release
	return s.MemoryReadingStore.CreateBatch(ctx, readings)
}

func testWriterDropsWhenSaturated(t *testing.T) {
	rs := &stallingStore{entered: make(chan struct{}, 8), release: make(chan struct{})}
	w := NewReadingWriter(rs, 1, 1, time.Hour, quietLogger())

	// First reading reaches flush and stalls there.
	w.Enqueue(testReading("temp-1", 1, time.Now()))
	<-rs.entered

	// Second fills the one queue slot; the rest must drop without blocking.
	w.Enqueue(testReading("temp-1", 2, time.Now()))
	for i := 0; i < 5; i++ {
		w.Enqueue(testReading("temp-1", uint64(i+3), time.Now()))
	}
	if got := w.Stats().Dropped; got != 5 {
		t.Errorf("Stats().Dropped = %d, want 5", got)
	}

	close(rs.release)
	w.Close()
}
