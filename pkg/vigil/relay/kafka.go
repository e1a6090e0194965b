// Package relay forwards the live feed to external systems: a Kafka
// producer for downstream consumers and a Redis cache holding the latest
// reading per sensor and the recent alert set. Relays consume the engine
// through ordinary subscriptions, so they inherit the same backpressure
// behavior as any other subscriber.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/chosenoffset/vigil/pkg/vigil"
)

// KafkaForwarder publishes readings and alerts to Kafka topics. Messages
// are keyed by sensor ID with a hash balancer, so all of one sensor's
// readings land on one partition and per-sensor ordering survives the
// broker.
type KafkaForwarder struct {
	readings *kafka.Writer
	alerts   *kafka.Writer
	logger   *slog.Logger

	published atomic.Uint64
	failures  atomic.Uint64
}

// KafkaForwarderStats is a point-in-time view of the forwarder counters.
type KafkaForwarderStats struct {
	Published uint64 `json:"published"`
	Failures  uint64 `json:"failures"`
}

// NewKafkaForwarder builds a forwarder for the given brokers and topics.
// An empty alertsTopic disables alert publishing.
func NewKafkaForwarder(brokers []string, readingsTopic, alertsTopic string, logger *slog.Logger) *KafkaForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &KafkaForwarder{
		readings: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        readingsTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
			Async:        false,
		},
		logger: logger.With("component", "kafka-forwarder"),
	}
	if alertsTopic != "" {
		f.alerts = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        alertsTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		}
	}
	return f
}

// Run drains the subscription until it closes or ctx is canceled. Publish
// failures are logged and counted, never fatal: the relay is an auxiliary
// consumer and must not disturb the session.
func (f *KafkaForwarder) Run(ctx context.Context, sub *vigil.Subscription) {
	readings := sub.Readings()
	alerts := sub.Alerts()
	for readings != nil || alerts != nil {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			f.publish(ctx, f.readings, r.SensorID, r)
		case a, ok := <-alerts:
			if !ok {
				alerts = nil
				continue
			}
			if f.alerts != nil {
				f.publish(ctx, f.alerts, a.SensorID, a)
			}
		}
	}
}

func (f *KafkaForwarder) publish(ctx context.Context, w *kafka.Writer, key string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		f.failures.Add(1)
		f.logger.Error("marshal failed", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := w.WriteMessages(writeCtx, kafka.Message{Key: []byte(key), Value: payload}); err != nil {
		f.failures.Add(1)
		f.logger.Warn("kafka publish failed", "topic", w.Topic, "error", err)
		return
	}
	f.published.Add(1)
}

// Close flushes and closes the underlying writers.
func (f *KafkaForwarder) Close() error {
	err := f.readings.Close()
	if f.alerts != nil {
		if cerr := f.alerts.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("close kafka writers: %w", err)
	}
	return nil
}

// Stats returns the forwarder counters.
func (f *KafkaForwarder) Stats() KafkaForwarderStats {
	return KafkaForwarderStats{
		Published: f.published.Load(),
		Failures:  f.failures.Load(),
	}
}
