// Package metrics exposes the engine's Prometheus collectors. All collectors
// register against the default registry so embedding applications only need
// to mount promhttp.Handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadingsProduced counts readings successfully handed to the collector.
	ReadingsProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_readings_produced_total",
		Help: "Readings successfully handed from a sensor source to the collector.",
	}, []string{"sensor_id"})

	// SourceDrops counts readings dropped at the source because the
	// collector hand-off timed out (drop-newest policy).
	SourceDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_source_dropped_total",
		Help: "Readings dropped at the source because the collector hand-off timed out.",
	}, []string{"sensor_id"})

	// SourceFailures counts source crashes observed by the supervisor.
	SourceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_source_failures_total",
		Help: "Sensor source failures observed by the session supervisor.",
	}, []string{"sensor_id"})

	// ReadingsProcessed counts readings evaluated by the detection pipeline.
	ReadingsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_readings_processed_total",
		Help: "Readings evaluated by the detection pipeline.",
	})

	// ReadingsDiscarded counts malformed or out-of-order readings rejected
	// before they reach the statistics window.
	ReadingsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_readings_discarded_total",
		Help: "Malformed or out-of-order readings discarded before evaluation.",
	})

	// AnomaliesDetected counts non-normal classifications by level.
	AnomaliesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_anomalies_detected_total",
		Help: "Anomalous classifications produced by the detector.",
	}, []string{"level", "sensor_id"})

	// AlertsCreated counts alerts that passed the cooldown filter.
	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_alerts_created_total",
		Help: "Alerts created by the dispatcher.",
	}, []string{"severity", "sensor_id"})

	// AlertsSuppressed counts anomalies swallowed by the per-sensor cooldown.
	AlertsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_alerts_suppressed_total",
		Help: "Anomalous events suppressed by the per-sensor alert cooldown.",
	}, []string{"sensor_id"})

	// StoreFailures counts failed persistence calls by operation.
	StoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_store_failures_total",
		Help: "Failed persistence operations, by operation name.",
	}, []string{"op"})

	// SubscriberDrops counts oldest-reading drops from full subscriber queues.
	SubscriberDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_subscriber_dropped_total",
		Help: "Readings dropped from full subscriber queues (drop-oldest policy).",
	})

	// Subscribers tracks the number of live subscriptions.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_subscribers",
		Help: "Currently registered live subscriptions.",
	})

	// DetectorQueueDepth tracks the fan-in queue length ahead of the detector.
	DetectorQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_detector_queue_depth",
		Help: "Readings queued ahead of the detector.",
	})

	// SessionRunning is 1 while a monitoring session is running.
	SessionRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_session_running",
		Help: "1 while a monitoring session is running, 0 otherwise.",
	})

	// DegradedSources tracks sources currently degraded or failed.
	DegradedSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vigil_degraded_sources",
		Help: "Sensor sources currently degraded or failed.",
	})
)
