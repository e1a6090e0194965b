package vigil

import (
	"sync"
	"sync/atomic"

	"github.com/chosenoffset/vigil/pkg/vigil/metrics"
)

// Subscription is a live feed handle returned by Engine.Subscribe. Readings
// and alerts arrive on separate channels. The reading queue is bounded: when
// it is full the oldest queued reading is dropped and the drop counter
// incremented, so a slow consumer can never stall the pipeline. Alerts use
// the same policy on a smaller queue.
//
// Close releases the subscription. The channels are closed so range loops
// terminate; other subscribers and the pipeline are unaffected.
type Subscription struct {
	id       uint64
	readings chan SensorReading
	alerts   chan Alert

	mu     sync.Mutex
	closed bool

	drops      atomic.Uint64
	alertDrops atomic.Uint64

	unregister func(*Subscription)
}

// Readings returns the reading feed channel. It is closed by Close.
func (s *Subscription) Readings() <-chan SensorReading { return s.readings }

// Alerts returns the alert feed channel. It is closed by Close.
func (s *Subscription) Alerts() <-chan Alert { return s.alerts }

// Drops returns how many readings were dropped from this subscription's
// queue because the consumer fell behind.
func (s *Subscription) Drops() uint64 { return s.drops.Load() }

// AlertDrops returns how many alerts were dropped from this subscription's
// alert queue.
func (s *Subscription) AlertDrops() uint64 { return s.alertDrops.Load() }

// Close unregisters the subscription and closes both channels. It is safe to
// call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.readings)
	close(s.alerts)
	s.mu.Unlock()

	if s.unregister != nil {
		s.unregister(s)
	}
}

// pushReading delivers a reading with the drop-oldest overflow policy.
// Sends happen under the subscription mutex so Close can never race a send
// onto a closed channel.
func (s *Subscription) pushReading(r SensorReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.readings <- r:
		return
	default:
	}
	// Queue full: make room by discarding the oldest entry.
	select {
	case <-s.readings:
		s.drops.Add(1)
		metrics.SubscriberDrops.Inc()
	default:
	}
	select {
	case s.readings <- r:
	default:
		s.drops.Add(1)
		metrics.SubscriberDrops.Inc()
	}
}

// pushAlert delivers an alert with the same drop-oldest policy.
func (s *Subscription) pushAlert(a Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.alerts <- a:
		return
	default:
	}
	select {
	case <-s.alerts:
		s.alertDrops.Add(1)
	default:
	}
	select {
	case s.alerts <- a:
	default:
		s.alertDrops.Add(1)
	}
}
