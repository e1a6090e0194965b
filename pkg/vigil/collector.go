package vigil

import (
	"sync"
	"sync/atomic"

	"github.com/chosenoffset/vigil/pkg/vigil/metrics"
)

// Collector is the fan-in point between the sensor sources and the
// detection pipeline, and the fan-out point to live subscribers.
//
// Sources hand readings to the input channel, which is sized generously and
// never dropped from by the collector itself: detection correctness beats
// display smoothness, so only the per-subscriber queues apply a drop policy.
// Per-sensor ordering is preserved because every reading flows through the
// single pipeline goroutine draining the input channel.
//
// The collector outlives sessions: subscriptions registered while stopped
// stay idle and start receiving when the next session runs. The input
// channel is recreated on every session start.
type Collector struct {
	mu           sync.RWMutex
	in           chan SensorReading
	readingQueue int
	alertQueue   int
	subs         map[uint64]*Subscription

	nextID atomic.Uint64

	// Drops accumulated by subscriptions that have since closed, so the
	// aggregate survives unsubscribes.
	retiredDrops      atomic.Uint64
	retiredAlertDrops atomic.Uint64
}

// CollectorStats is a point-in-time view of the collector.
type CollectorStats struct {
	Subscribers     int    `json:"subscribers"`
	QueueDepth      int    `json:"queue_depth"`
	SubscriberDrops uint64 `json:"subscriber_drops"`
	AlertDrops      uint64 `json:"alert_drops"`
}

func newCollector(detectorQueue, readingQueue, alertQueue int) *Collector {
	return &Collector{
		in:           make(chan SensorReading, detectorQueue),
		readingQueue: readingQueue,
		alertQueue:   alertQueue,
		subs:         make(map[uint64]*Subscription),
	}
}

// resetInput replaces the input channel for a new session and returns it.
// The old channel was closed when the previous session drained.
func (c *Collector) resetInput(capacity int) chan SensorReading {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in = make(chan SensorReading, capacity)
	return c.in
}

// setQueueSizes applies the session config's queue capacities to
// subscriptions created from now on. Existing subscriptions keep theirs.
func (c *Collector) setQueueSizes(reading, alert int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readingQueue = reading
	c.alertQueue = alert
}

// Subscribe registers a new live subscription. Subscriptions created while
// no session is running simply stay idle until readings flow.
func (c *Collector) Subscribe() *Subscription {
	c.mu.Lock()
	sub := &Subscription{
		id:         c.nextID.Add(1),
		readings:   make(chan SensorReading, c.readingQueue),
		alerts:     make(chan Alert, c.alertQueue),
		unregister: c.remove,
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()
	metrics.Subscribers.Inc()
	return sub
}

func (c *Collector) remove(sub *Subscription) {
	c.mu.Lock()
	if _, ok := c.subs[sub.id]; ok {
		delete(c.subs, sub.id)
		c.retiredDrops.Add(sub.Drops())
		c.retiredAlertDrops.Add(sub.AlertDrops())
		metrics.Subscribers.Dec()
	}
	c.mu.Unlock()
}

// publishReading fans a reading out to every subscriber. Subscribers are
// copied out under the read lock so a slow one never holds it.
func (c *Collector) publishReading(r SensorReading) {
	for _, sub := range c.snapshotSubs() {
		sub.pushReading(r)
	}
}

// publishAlert fans an alert out to every subscriber.
func (c *Collector) publishAlert(a Alert) {
	for _, sub := range c.snapshotSubs() {
		sub.pushAlert(a)
	}
}

func (c *Collector) snapshotSubs() []*Subscription {
	c.mu.RLock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.RUnlock()
	return subs
}

// Stats returns the current collector counters.
func (c *Collector) Stats() CollectorStats {
	drops := c.retiredDrops.Load()
	alertDrops := c.retiredAlertDrops.Load()
	c.mu.RLock()
	n := len(c.subs)
	depth := len(c.in)
	for _, sub := range c.subs {
		drops += sub.Drops()
		alertDrops += sub.AlertDrops()
	}
	c.mu.RUnlock()
	return CollectorStats{
		Subscribers:     n,
		QueueDepth:      depth,
		SubscriberDrops: drops,
		AlertDrops:      alertDrops,
	}
}
