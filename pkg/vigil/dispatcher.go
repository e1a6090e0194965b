package vigil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chosenoffset/vigil/pkg/vigil/metrics"
)

// Dispatcher turns anomalous classifications into alerts, subject to the
// per-sensor cooldown.
//
// Cooldown policy: while a sensor is inside its cooldown window every
// further anomalous event for it is suppressed and counted, even if the
// severity increased. A Critical arriving during a Warning-initiated
// cooldown is therefore swallowed too. This is a deliberate noise-reduction
// trade-off, not a missed-event guarantee; set
// Config.EscalateCriticalDuringCooldown to let Criticals through.
//
// Cooldown arithmetic uses reading timestamps rather than wall clock, so
// replaying a recorded stream reproduces the same alert and suppression
// trace.
type Dispatcher struct {
	cooldown         time.Duration
	escalateCritical bool
	storeTimeout     time.Duration
	store            AlertStore
	publish          func(Alert)
	profiles         map[SensorType]Profile
	logger           *slog.Logger

	created       atomic.Uint64
	suppressed    atomic.Uint64
	storeFailures atomic.Uint64
	storeWG       sync.WaitGroup
}

// DispatcherStats is a point-in-time view of the dispatcher counters.
type DispatcherStats struct {
	AlertsCreated    uint64 `json:"alerts_created"`
	AlertsSuppressed uint64 `json:"alerts_suppressed"`
	StoreFailures    uint64 `json:"store_failures"`
}

func newDispatcher(cfg Config, store AlertStore, publish func(Alert), logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cooldown:         cfg.CooldownDuration,
		escalateCritical: cfg.EscalateCriticalDuringCooldown,
		storeTimeout:     cfg.StoreTimeout,
		store:            store,
		publish:          publish,
		profiles:         cfg.Profiles,
		logger:           logger,
	}
}

// Dispatch handles one anomalous reading. Persistence runs on its own
// goroutine with a bounded timeout so the pipeline never waits on the
// store; a failed create is logged as a retryable warning and counted, and
// the alert is still pushed to live subscribers.
func (d *Dispatcher) Dispatch(r SensorReading, c Classification, state *SensorState) {
	if state.InCooldown(r.Timestamp) && !(d.escalateCritical && c.Level == LevelCritical) {
		d.suppressed.Add(1)
		metrics.AlertsSuppressed.WithLabelValues(r.SensorID).Inc()
		d.logger.Debug("anomaly suppressed by cooldown",
			"sensor", r.SensorID, "level", string(c.Level), "reason", c.Reason)
		return
	}

	state.StartCooldown(r.Timestamp, d.cooldown)

	alert := Alert{
		ID:        uuid.NewString(),
		SensorID:  r.SensorID,
		Severity:  c.Level,
		Message:   d.message(r, c),
		CreatedAt: r.Timestamp,
	}
	d.created.Add(1)
	metrics.AlertsCreated.WithLabelValues(string(c.Level), r.SensorID).Inc()
	d.logger.Info("alert raised",
		"alert_id", alert.ID, "sensor", r.SensorID, "severity", string(c.Level), "reason", c.Reason)

	if d.store != nil {
		d.storeWG.Add(1)
		go func() {
			defer d.storeWG.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.storeTimeout)
			defer cancel()
			if err := d.store.Create(ctx, alert); err != nil {
				d.storeFailures.Add(1)
				metrics.StoreFailures.WithLabelValues("alert_create").Inc()
				d.logger.Warn("alert store create failed, alert delivered live only",
					"alert_id", alert.ID, "error", err)
			}
		}()
	}

	d.publish(alert)
}

func (d *Dispatcher) message(r SensorReading, c Classification) string {
	if p, ok := d.profiles[r.Type]; ok && p.Equipment != "" {
		return fmt.Sprintf("%s (%s): %s", p.Equipment, p.Location, c.Reason)
	}
	return c.Reason
}

// Stats returns the current dispatcher counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		AlertsCreated:    d.created.Load(),
		AlertsSuppressed: d.suppressed.Load(),
		StoreFailures:    d.storeFailures.Load(),
	}
}

// waitStores blocks until outstanding persistence calls finish. Used during
// session shutdown; bounded by the per-call store timeout.
func (d *Dispatcher) waitStores() {
	d.storeWG.Wait()
}
