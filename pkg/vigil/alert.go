package vigil

import (
	"context"
	"errors"
	"time"
)

// Alert is raised by the dispatcher for an anomalous reading that passed the
// cooldown filter. Alerts are append-only from the core's point of view:
// acknowledgment happens externally through the store, and the core never
// deletes them.
type Alert struct {
	ID           string    `json:"id"`
	SensorID     string    `json:"sensor_id"`
	Severity     Level     `json:"severity"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
	Acknowledged bool      `json:"acknowledged"`
}

// ErrAlertNotFound is returned by AlertStore implementations when the
// requested alert ID does not exist.
var ErrAlertNotFound = errors.New("alert not found")

// AlertFilter narrows an AlertStore.List call. Zero fields match everything.
type AlertFilter struct {
	SensorID string
	Severity Level
	Since    time.Time
	Until    time.Time
	Limit    int
}

// AlertStore is the persistence collaborator for alerts. The core calls only
// Create; List and Acknowledge serve the reporting and UI collaborators
// directly, bypassing the engine. Implementations must be safe for
// concurrent use.
type AlertStore interface {
	Create(ctx context.Context, alert Alert) error
	List(ctx context.Context, filter AlertFilter) ([]Alert, error)
	Acknowledge(ctx context.Context, alertID string) error
}

// ReadingStore persists readings for historical queries. The engine feeds it
// through a batching writer so the pipeline never blocks on storage.
type ReadingStore interface {
	CreateBatch(ctx context.Context, readings []SensorReading) error
	List(ctx context.Context, sensorID string, since, until time.Time, limit int) ([]SensorReading, error)
}

// ReadingSink receives every reading that clears the detection pipeline.
// Enqueue must not block; implementations drop and count when saturated.
type ReadingSink interface {
	Enqueue(reading SensorReading)
}
