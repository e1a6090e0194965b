package vigil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/chosenoffset/vigil/pkg/vigil/metrics"
)

// Strategy produces the next raw value for a sensor source. Implementations
// are called from a single goroutine; returning an error simulates a sensor
// fault and makes the source exit for the supervisor to restart.
type Strategy interface {
	Next() (float64, error)
}

// SimulatedStrategy generates realistic values for a profile: a fixed
// baseline drawn from the profile's band, uniform noise around it, and with
// a small probability per tick an injected anomaly well outside the noise
// band (6-12 noise amplitudes, either direction) to exercise detection.
type SimulatedStrategy struct {
	profile     Profile
	baseline    float64
	anomalyProb float64
	rng         *rand.Rand
}

// NewSimulatedStrategy builds a simulated generator. A zero seed picks a
// time-based one; fixing the seed makes the whole run reproducible.
func NewSimulatedStrategy(p Profile, anomalyProbability float64, seed int64) *SimulatedStrategy {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	if anomalyProbability < 0 {
		anomalyProbability = 0
	}
	if anomalyProbability > 1 {
		anomalyProbability = 1
	}
	return &SimulatedStrategy{
		profile:     p,
		baseline:    p.BaselineMin + rng.Float64()*(p.BaselineMax-p.BaselineMin),
		anomalyProb: anomalyProbability,
		rng:         rng,
	}
}

func (s *SimulatedStrategy) Next() (float64, error) {
	if s.rng.Float64() < s.anomalyProb {
		spike := s.profile.Noise * (6 + 6*s.rng.Float64())
		if s.rng.Intn(2) == 0 {
			spike = -spike
		}
		return s.baseline + spike, nil
	}
	return s.baseline + (s.rng.Float64()*2-1)*s.profile.Noise, nil
}

// SequenceStrategy replays a fixed list of values, cycling when exhausted.
// It gives tests full control over the classification trace.
type SequenceStrategy struct {
	values []float64
	next   int
}

func NewSequenceStrategy(values ...float64) *SequenceStrategy {
	return &SequenceStrategy{values: values}
}

func (s *SequenceStrategy) Next() (float64, error) {
	if len(s.values) == 0 {
		return 0, errors.New("sequence strategy has no values")
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return v, nil
}

// FailingStrategy simulates a faulted sensor: every call returns an error.
type FailingStrategy struct {
	Err error
}

func (s FailingStrategy) Next() (float64, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	return 0, errors.New("sensor fault")
}

// SourceState describes a source's health as seen by the session.
type SourceState string

const (
	// SourceStarting: launched, no reading delivered yet.
	SourceStarting SourceState = "starting"
	// SourceActive: delivering readings.
	SourceActive SourceState = "active"
	// SourceDegraded: crashed and waiting on a backoff restart.
	SourceDegraded SourceState = "degraded"
	// SourceFailed: exceeded the retry cap; no further restarts this session.
	SourceFailed SourceState = "failed"
)

// SourceStats is a point-in-time view of one source.
type SourceStats struct {
	SensorID string      `json:"sensor_id"`
	Type     SensorType  `json:"sensor_type"`
	State    SourceState `json:"state"`
	Produced uint64      `json:"produced"`
	Dropped  uint64      `json:"dropped"`
	Failures uint64      `json:"failures"`
}

// Source drives one simulated sensor: one reading per interval tick, handed
// to the collector with a bounded timeout. A hand-off that cannot complete
// in time drops the reading (drop-newest; the source regenerates shortly)
// and increments the drop counter. The sequence counter survives restarts
// so per-sensor sequences stay strictly increasing for the whole session.
type Source struct {
	id         string
	sensorType SensorType
	unit       string
	interval   time.Duration
	handoff    time.Duration
	strategy   Strategy
	sink       chan<- SensorReading
	logger     *slog.Logger

	seq      atomic.Uint64
	produced atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64

	onReady func(id string)
}

func newSource(id string, t SensorType, unit string, interval, handoff time.Duration,
	strategy Strategy, sink chan<- SensorReading, onReady func(string), logger *slog.Logger) *Source {
	return &Source{
		id:         id,
		sensorType: t,
		unit:       unit,
		interval:   interval,
		handoff:    handoff,
		strategy:   strategy,
		sink:       sink,
		onReady:    onReady,
		logger:     logger,
	}
}

// run produces readings until ctx is canceled. It returns nil on cooperative
// stop (within one interval of cancellation) and the producing error on a
// fault, leaving restart policy to the supervisor.
func (s *Source) run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Readiness is per run so a restarted source reports active again.
	notified := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			value, err := s.strategy.Next()
			if err != nil {
				s.failures.Add(1)
				metrics.SourceFailures.WithLabelValues(s.id).Inc()
				return fmt.Errorf("sensor %s: %w", s.id, err)
			}
			reading := SensorReading{
				SensorID:  s.id,
				Type:      s.sensorType,
				Value:     value,
				Unit:      s.unit,
				Timestamp: time.Now(),
				Sequence:  s.seq.Add(1),
			}
			select {
			case s.sink <- reading:
				s.produced.Add(1)
				metrics.ReadingsProduced.WithLabelValues(s.id).Inc()
				if s.onReady != nil && !notified {
					notified = true
					s.onReady(s.id)
				}
			case <-time.After(s.handoff):
				s.dropped.Add(1)
				metrics.SourceDrops.WithLabelValues(s.id).Inc()
				s.logger.Debug("reading dropped, collector hand-off timed out",
					"sensor", s.id, "sequence", reading.Sequence)
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Stats returns the source's counters. State is filled in by the session,
// which owns restart bookkeeping.
func (s *Source) Stats() SourceStats {
	return SourceStats{
		SensorID: s.id,
		Type:     s.sensorType,
		Produced: s.produced.Load(),
		Dropped:  s.dropped.Load(),
		Failures: s.failures.Load(),
	}
}
