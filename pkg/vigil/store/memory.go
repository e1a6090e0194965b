package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chosenoffset/vigil/pkg/vigil"
)

// MemoryAlertStore is a thread-safe in-memory vigil.AlertStore, used by the
// demo binary and by tests that need a real store without a database.
type MemoryAlertStore struct {
	mu     sync.RWMutex
	alerts []vigil.Alert
	byID   map[string]int

	// FailCreates makes every Create return this error, for exercising the
	// engine's store-failure path.
	FailCreates error
}

// NewMemoryAlertStore creates an empty in-memory alert store.
func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{byID: make(map[string]int)}
}

func (s *MemoryAlertStore) Create(ctx context.Context, a vigil.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreates != nil {
		return s.FailCreates
	}
	s.byID[a.ID] = len(s.alerts)
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *MemoryAlertStore) List(ctx context.Context, f vigil.AlertFilter) ([]vigil.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []vigil.Alert
	for _, a := range s.alerts {
		if f.SensorID != "" && a.SensorID != f.SensorID {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !a.CreatedAt.Before(f.Until) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryAlertStore) Acknowledge(ctx context.Context, alertID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[alertID]
	if !ok {
		return vigil.ErrAlertNotFound
	}
	s.alerts[i].Acknowledged = true
	return nil
}

// Len returns the number of stored alerts.
func (s *MemoryAlertStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

// MemoryReadingStore is a thread-safe in-memory vigil.ReadingStore.
type MemoryReadingStore struct {
	mu       sync.RWMutex
	readings []vigil.SensorReading
}

// NewMemoryReadingStore creates an empty in-memory reading store.
func NewMemoryReadingStore() *MemoryReadingStore {
	return &MemoryReadingStore{}
}

func (s *MemoryReadingStore) CreateBatch(ctx context.Context, readings []vigil.SensorReading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.readings = append(s.readings, readings...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryReadingStore) List(ctx context.Context, sensorID string, since, until time.Time, limit int) ([]vigil.SensorReading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []vigil.SensorReading
	for _, r := range s.readings {
		if r.SensorID != sensorID {
			continue
		}
		if !since.IsZero() && r.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && !r.Timestamp.Before(until) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored readings.
func (s *MemoryReadingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}
