// Package vigil provides an embeddable real-time sensor monitoring and
// anomaly-detection engine for plant and equipment telemetry.
//
// # Overview
//
// Vigil runs a set of independent simulated sensor sources, merges their
// readings into a single live feed without breaking per-sensor ordering,
// evaluates every reading against rolling statistical rules, and raises
// deduplicated alerts without flooding consumers. Sessions have a clean
// start/stop lifecycle with failure isolation: a crashing source is
// restarted with backoff while the others keep producing.
//
// # Quick Start
//
//	package main
//
//	import "github.com/chosenoffset/vigil/pkg/vigil"
//
//	func main() {
//		engine := vigil.NewEngine()
//		session, err := engine.Start(vigil.DefaultConfig())
//		if err != nil {
//			panic(err)
//		}
//		defer session.Stop()
//
//		sub := engine.Subscribe()
//		defer sub.Close()
//		for reading := range sub.Readings() {
//			// consume live readings
//			_ = reading
//		}
//	}
//
// # Architecture
//
// Vigil consists of several integrated components:
//
//   - Source: per-sensor reading generator with pluggable value strategies
//   - Collector: fan-in merge point and bounded-queue subscriber fan-out
//   - Detector: pure statistical classification against per-sensor state
//   - Dispatcher: cooldown filtering, alert creation, store hand-off
//   - Engine: session lifecycle, source supervision, wiring
//
// Data flows one way, Sources → Collector → Detector → Dispatcher →
// subscribers and stores. Control flows the other way: the engine starts
// and stops sources and observes their failures.
//
// # Detection Rules
//
// Each sensor keeps a rolling window (default 20 samples). Once the window
// holds the minimum fill (default 5), a reading more than 3σ from the
// rolling mean is Critical, more than 2σ is Warning, and a tick-to-tick
// change past the sensor type's limit is Warning. Below the minimum fill
// every reading is Normal: insufficient data never alarms. Evaluation
// depends only on the ordered reading sequence, so a replayed stream
// reproduces its classification trace exactly.
//
// # Alert Cooldown
//
// After an alert, further anomalies from the same sensor are suppressed for
// the cooldown duration (default 30s), including Criticals arriving during
// a Warning-initiated cooldown. That is a deliberate noise-reduction
// trade-off; set Config.EscalateCriticalDuringCooldown to let Criticals
// through.
//
// # Backpressure
//
// The path from sources to the detector never drops readings. Each live
// subscriber instead has a bounded queue (default 500 readings): when it is
// full the oldest queued reading is dropped and counted, and producers are
// never blocked by a slow consumer.
//
// # Persistence and Observability
//
// Alerts are handed to a caller-supplied AlertStore; a failed create is
// logged and counted but the alert is still delivered live. Readings can
// optionally flow to a batching ReadingSink. Prometheus collectors live in
// the metrics subpackage, the Postgres and in-memory stores in store, the
// web dashboard in dashboard, and Kafka/Redis forwarders in relay.
package vigil
