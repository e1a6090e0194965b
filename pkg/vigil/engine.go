package vigil

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chosenoffset/vigil/pkg/vigil/metrics"
)

// SessionStatus is the monitoring session lifecycle state. Transitions go
// Stopped → Starting → Running → Stopping → Stopped, never skipping a step
// and never Running → Starting.
type SessionStatus string

const (
	StatusStopped  SessionStatus = "stopped"
	StatusStarting SessionStatus = "starting"
	StatusRunning  SessionStatus = "running"
	StatusStopping SessionStatus = "stopping"
)

// Default tuning values used when the corresponding Config field is zero.
const (
	DefaultSamplingInterval = 2 * time.Second
	DefaultCooldownDuration = 30 * time.Second
	DefaultWindowSize       = 20
	DefaultMinSamples       = 5
	DefaultDetectorQueue    = 4096
	DefaultReadingQueue     = 500
	DefaultAlertQueue       = 64
	DefaultHandoffTimeout   = 250 * time.Millisecond
	DefaultStartupTimeout   = 10 * time.Second
	DefaultStoreTimeout     = 5 * time.Second
	DefaultMaxRestarts      = 5
	DefaultAnomalyChance    = 0.03
)

var (
	// ErrAlreadyRunning is returned by Start when the session is not Stopped.
	ErrAlreadyRunning = errors.New("monitoring session already running")
	// ErrNoSensors is returned by Start when the config enables no sensors.
	ErrNoSensors = errors.New("no sensors enabled")
)

// SensorSpec names one sensor instance to run. Strategy is optional; when
// nil the engine builds a SimulatedStrategy from the sensor's profile.
type SensorSpec struct {
	ID       string
	Type     SensorType
	Strategy Strategy
}

// Config parameterizes one monitoring session. The zero value of any field
// falls back to the package default; DefaultConfig returns a config with
// every field filled in explicitly.
type Config struct {
	// SamplingInterval is the tick period of every sensor source.
	SamplingInterval time.Duration
	// EnabledSensorTypes selects which sensors to run, one source per type
	// with its conventional ID. Nil means all types; an empty non-nil slice
	// enables none. Ignored when Sensors is set.
	EnabledSensorTypes []SensorType
	// Sensors overrides EnabledSensorTypes with explicit sensor instances,
	// optionally carrying scripted strategies for tests.
	Sensors []SensorSpec
	// CooldownDuration is the minimum spacing between alerts per sensor.
	CooldownDuration time.Duration
	// EscalateCriticalDuringCooldown lets a Critical classification bypass
	// an active cooldown. Off by default: the stock policy suppresses every
	// anomaly inside the window to avoid alert storms.
	EscalateCriticalDuringCooldown bool
	// WindowSize is the rolling statistics window per sensor.
	WindowSize int
	// MinSamples is the window fill required before any non-Normal
	// classification.
	MinSamples int
	// AnomalyProbability is the per-tick chance a simulated source injects
	// an anomalous value.
	AnomalyProbability float64
	// Seed fixes the simulated generators' randomness; zero means time-based.
	Seed int64
	// DetectorQueueSize is the fan-in buffer ahead of the detector. This
	// path never drops; size it for the worst expected burst.
	DetectorQueueSize int
	// ReadingQueueSize bounds each subscriber's reading queue.
	ReadingQueueSize int
	// AlertQueueSize bounds each subscriber's alert queue.
	AlertQueueSize int
	// HandoffTimeout bounds a source's wait handing a reading to the
	// collector before dropping it.
	HandoffTimeout time.Duration
	// StartupTimeout bounds how long Start waits for every source to
	// produce its first reading before declaring the session Running anyway.
	StartupTimeout time.Duration
	// MaxRestarts caps supervisor restarts per source per session; past it
	// the source is marked failed and left down.
	MaxRestarts int
	// RestartBackoff is the delay policy between source restarts.
	RestartBackoff Backoff
	// StoreTimeout bounds each AlertStore.Create call.
	StoreTimeout time.Duration
	// Profiles is the sensor catalog; defaults to Profiles().
	Profiles map[SensorType]Profile
}

// DefaultConfig returns a config running all five sensor types with the
// built-in catalog and default tuning.
func DefaultConfig() Config {
	return Config{
		SamplingInterval:   DefaultSamplingInterval,
		EnabledSensorTypes: AllSensorTypes(),
		CooldownDuration:   DefaultCooldownDuration,
		WindowSize:         DefaultWindowSize,
		MinSamples:         DefaultMinSamples,
		AnomalyProbability: DefaultAnomalyChance,
		DetectorQueueSize:  DefaultDetectorQueue,
		ReadingQueueSize:   DefaultReadingQueue,
		AlertQueueSize:     DefaultAlertQueue,
		HandoffTimeout:     DefaultHandoffTimeout,
		StartupTimeout:     DefaultStartupTimeout,
		MaxRestarts:        DefaultMaxRestarts,
		StoreTimeout:       DefaultStoreTimeout,
		Profiles:           Profiles(),
	}
}

func (c *Config) applyDefaults() {
	if c.SamplingInterval <= 0 {
		c.SamplingInterval = DefaultSamplingInterval
	}
	if c.CooldownDuration <= 0 {
		c.CooldownDuration = DefaultCooldownDuration
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.MinSamples <= 0 {
		c.MinSamples = DefaultMinSamples
	}
	if c.DetectorQueueSize <= 0 {
		c.DetectorQueueSize = DefaultDetectorQueue
	}
	if c.ReadingQueueSize <= 0 {
		c.ReadingQueueSize = DefaultReadingQueue
	}
	if c.AlertQueueSize <= 0 {
		c.AlertQueueSize = DefaultAlertQueue
	}
	if c.HandoffTimeout <= 0 {
		c.HandoffTimeout = DefaultHandoffTimeout
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = DefaultMaxRestarts
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.AnomalyProbability <= 0 {
		c.AnomalyProbability = DefaultAnomalyChance
	}
	if c.Profiles == nil {
		c.Profiles = Profiles()
	}
	if len(c.Sensors) == 0 {
		types := c.EnabledSensorTypes
		if types == nil {
			types = AllSensorTypes()
		}
		for _, t := range types {
			c.Sensors = append(c.Sensors, SensorSpec{ID: DefaultSensorID(t), Type: t})
		}
	}
}

// Engine owns the monitoring pipeline: sensor sources, the fan-in
// collector, the detector, the alert dispatcher, and the live subscriber
// registry. It is safe for concurrent use and designed for embedding: the
// surrounding application performs its own authorization before calling
// Start or Stop; the engine does not re-check permissions.
//
// The engine outlives sessions. Subscribe works at any time; subscriptions
// registered while stopped start receiving when the next session runs.
type Engine struct {
	mu        sync.Mutex
	status    SessionStatus
	session   *Session
	startedCh chan struct{}

	collector *Collector
	store     AlertStore
	sink      ReadingSink
	logger    *slog.Logger
}

// NewEngine creates a stopped engine with default queue sizes and no
// persistence. Wire collaborators with SetAlertStore and SetReadingSink
// before the first Start.
func NewEngine() *Engine {
	return &Engine{
		status:    StatusStopped,
		collector: newCollector(DefaultDetectorQueue, DefaultReadingQueue, DefaultAlertQueue),
		logger:    slog.Default(),
	}
}

// SetLogger replaces the engine's logger. Call before Start.
func (e *Engine) SetLogger(l *slog.Logger) {
	if l != nil {
		e.logger = l
	}
}

// SetAlertStore wires the persistence collaborator for alerts. The engine
// only ever calls Create on it. Call before Start.
func (e *Engine) SetAlertStore(s AlertStore) { e.store = s }

// SetReadingSink wires an optional sink receiving every reading that clears
// the pipeline, typically a batching reading-store writer. Call before
// Start.
func (e *Engine) SetReadingSink(s ReadingSink) { e.sink = s }

// Subscribe returns a live feed handle for readings and alerts. Closing it
// never disturbs other subscribers or the pipeline.
func (e *Engine) Subscribe() *Subscription {
	return e.collector.Subscribe()
}

// Status returns the current session lifecycle state.
func (e *Engine) Status() SessionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// IsRunning reports whether a session is currently Running.
func (e *Engine) IsRunning() bool {
	return e.Status() == StatusRunning
}

// Start brings up a monitoring session: one source per configured sensor,
// wired into the collector and detection pipeline. It returns
// ErrAlreadyRunning unless the engine is Stopped.
//
// Start blocks through the Starting phase: it returns once every source has
// produced its first reading or the startup timeout elapsed, whichever is
// first. Partial startup is allowed; a source that fails to start is
// retried with backoff by the supervisor and at worst marked failed without
// blocking the others.
func (e *Engine) Start(cfg Config) (*Session, error) {
	cfg.applyDefaults()
	if len(cfg.Sensors) == 0 {
		return nil, ErrNoSensors
	}

	e.mu.Lock()
	if e.status != StatusStopped {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.status = StatusStarting
	e.startedCh = make(chan struct{})

	e.collector.setQueueSizes(cfg.ReadingQueueSize, cfg.AlertQueueSize)
	in := e.collector.resetInput(cfg.DetectorQueueSize)

	sess := newSession(cfg, e, in)
	e.session = sess
	e.mu.Unlock()

	e.logger.Info("monitoring session starting",
		"sensors", len(cfg.Sensors), "interval", cfg.SamplingInterval)

	sess.launch()
	sess.awaitFirstReadings(cfg.StartupTimeout)

	e.mu.Lock()
	e.status = StatusRunning
	close(e.startedCh)
	e.mu.Unlock()

	metrics.SessionRunning.Set(1)
	e.logger.Info("monitoring session running")
	return sess, nil
}

// Stop terminates the running session: sources are signaled to exit, the
// in-flight readings drain through the detector, and the engine passes
// through Stopping back to Stopped. Stop is idempotent; a second call is a
// no-op. A Stop racing a Start waits for the Starting phase to finish so
// the state machine never skips a step.
func (e *Engine) Stop() error {
	e.mu.Lock()
	switch e.status {
	case StatusStopped, StatusStopping:
		e.mu.Unlock()
		return nil
	case StatusStarting:
		started := e.startedCh
		e.mu.Unlock()
		<-started
		return e.Stop()
	}

	e.status = StatusStopping
	sess := e.session
	e.mu.Unlock()

	e.logger.Info("monitoring session stopping")
	sess.shutdown()

	e.mu.Lock()
	e.status = StatusStopped
	e.session = nil
	e.mu.Unlock()

	metrics.SessionRunning.Set(0)
	metrics.DegradedSources.Set(0)
	e.logger.Info("monitoring session stopped")
	return nil
}

// EngineStats is a point-in-time view across the engine's components.
type EngineStats struct {
	Status     SessionStatus   `json:"status"`
	Degraded   bool            `json:"degraded"`
	Sources    []SourceStats   `json:"sources"`
	Collector  CollectorStats  `json:"collector"`
	Dispatcher DispatcherStats `json:"dispatcher"`
}

// Stats snapshots the engine. Between sessions only the collector counters
// carry over.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	status := e.status
	sess := e.session
	e.mu.Unlock()

	stats := EngineStats{
		Status:    status,
		Collector: e.collector.Stats(),
	}
	if sess != nil {
		stats.Sources = sess.sourceStats()
		stats.Dispatcher = sess.dispatcher.Stats()
		for _, s := range stats.Sources {
			if s.State == SourceDegraded || s.State == SourceFailed {
				stats.Degraded = true
			}
		}
	}
	return stats
}

// Session is the handle returned by Start. It exposes per-source health and
// a convenience Stop delegating to the owning engine.
type Session struct {
	cfg    Config
	engine *Engine
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	in         chan SensorReading
	detector   *Detector
	dispatcher *Dispatcher
	states     map[string]*SensorState

	srcMu   sync.Mutex
	sources map[string]*supervisedSource

	readyCh chan string

	sourceWG   sync.WaitGroup
	pipelineWG sync.WaitGroup
}

type supervisedSource struct {
	src   *Source
	state SourceState
}

func newSession(cfg Config, e *Engine, in chan SensorReading) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		cfg:      cfg,
		engine:   e,
		logger:   e.logger,
		ctx:      ctx,
		cancel:   cancel,
		in:       in,
		detector: NewDetector(cfg.MinSamples, cfg.Profiles),
		states:   make(map[string]*SensorState),
		sources:  make(map[string]*supervisedSource),
		readyCh:  make(chan string, len(cfg.Sensors)),
	}
	sess.dispatcher = newDispatcher(cfg, e.store, e.collector.publishAlert, e.logger.With("component", "dispatcher"))
	return sess
}

// launch starts the pipeline goroutine and one supervised source per
// configured sensor.
func (s *Session) launch() {
	s.pipelineWG.Add(1)
	go s.pipeline()

	for i, spec := range s.cfg.Sensors {
		profile := s.cfg.Profiles[spec.Type]
		strategy := spec.Strategy
		if strategy == nil {
			seed := s.cfg.Seed
			if seed != 0 {
				// Distinct per-source streams from one fixed seed.
				seed += int64(i + 1)
			}
			strategy = NewSimulatedStrategy(profile, s.cfg.AnomalyProbability, seed)
		}
		src := newSource(spec.ID, spec.Type, profile.Unit,
			s.cfg.SamplingInterval, s.cfg.HandoffTimeout,
			strategy, s.in, s.markReady,
			s.logger.With("component", "source", "sensor", spec.ID))

		s.srcMu.Lock()
		s.sources[spec.ID] = &supervisedSource{src: src, state: SourceStarting}
		s.srcMu.Unlock()

		s.sourceWG.Add(1)
		go s.supervise(src)
	}
}

// supervise runs one source, restarting it with backoff on failure. A
// source past the retry cap is marked failed and left down; the rest of the
// session is unaffected.
func (s *Session) supervise(src *Source) {
	defer s.sourceWG.Done()

	for attempt := 0; ; {
		err := src.run(s.ctx)
		if err == nil {
			// Cooperative stop.
			return
		}

		attempt++
		if attempt > s.cfg.MaxRestarts {
			s.setSourceState(src.id, SourceFailed)
			s.logger.Error("sensor source failed permanently, retry cap exceeded",
				"sensor", src.id, "attempts", attempt-1, "error", err)
			return
		}

		s.setSourceState(src.id, SourceDegraded)
		delay := s.cfg.RestartBackoff.Delay(attempt)
		s.logger.Warn("sensor source crashed, restarting",
			"sensor", src.id, "attempt", attempt, "backoff", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}
		s.setSourceState(src.id, SourceStarting)
	}
}

// pipeline is the single consumer of the merged reading stream. Running
// detection and dispatch on one goroutine is what makes SensorState an
// exclusively-owned value: per-sensor order is absolute here, cross-sensor
// interleaving is whatever the channel delivered.
func (s *Session) pipeline() {
	defer s.pipelineWG.Done()

	for r := range s.in {
		metrics.ReadingsProcessed.Inc()
		metrics.DetectorQueueDepth.Set(float64(len(s.in)))

		state, ok := s.states[r.SensorID]
		if !ok {
			state = NewSensorState(r.SensorID, s.cfg.WindowSize)
			s.states[r.SensorID] = state
		}

		c := s.detector.Evaluate(r, state)
		if c.Level == LevelNormal && c.Reason != "" {
			// Malformed or stale reading refused by the detector.
			metrics.ReadingsDiscarded.Inc()
			s.logger.Debug("reading discarded", "sensor", r.SensorID,
				"sequence", r.Sequence, "reason", c.Reason)
		}
		if c.Anomalous() {
			metrics.AnomaliesDetected.WithLabelValues(string(c.Level), r.SensorID).Inc()
			s.dispatcher.Dispatch(r, c, state)
		}

		s.engine.collector.publishReading(r)
		if s.engine.sink != nil {
			s.engine.sink.Enqueue(r)
		}
	}
}

// markReady records a source's first successful hand-off.
func (s *Session) markReady(id string) {
	s.setSourceState(id, SourceActive)
	select {
	case s.readyCh <- id:
	default:
	}
}

// awaitFirstReadings blocks until every source has produced at least one
// reading or the startup timeout elapses. Partial startup is allowed.
func (s *Session) awaitFirstReadings(timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ready := make(map[string]struct{}, len(s.cfg.Sensors))
	for len(ready) < len(s.cfg.Sensors) {
		select {
		case id := <-s.readyCh:
			ready[id] = struct{}{}
			s.logger.Debug("sensor source ready", "sensor", id)
		case <-deadline.C:
			s.logger.Warn("startup timeout elapsed, session running with pending sources",
				"ready", len(ready), "configured", len(s.cfg.Sensors))
			return
		}
	}
}

// shutdown stops the sources, drains the in-flight readings through the
// pipeline, and waits for outstanding persistence calls.
func (s *Session) shutdown() {
	s.cancel()
	s.sourceWG.Wait()
	close(s.in)
	s.pipelineWG.Wait()
	s.dispatcher.waitStores()
}

// Stop stops the session through the owning engine. Idempotent.
func (s *Session) Stop() error {
	return s.engine.Stop()
}

func (s *Session) setSourceState(id string, state SourceState) {
	s.srcMu.Lock()
	if sup, ok := s.sources[id]; ok {
		sup.state = state
	}
	degraded := 0
	for _, sup := range s.sources {
		if sup.state == SourceDegraded || sup.state == SourceFailed {
			degraded++
		}
	}
	s.srcMu.Unlock()
	metrics.DegradedSources.Set(float64(degraded))
}

// sourceStats snapshots every source with its supervision state, ordered by
// the configured sensor list.
func (s *Session) sourceStats() []SourceStats {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	stats := make([]SourceStats, 0, len(s.sources))
	for _, spec := range s.cfg.Sensors {
		sup, ok := s.sources[spec.ID]
		if !ok {
			continue
		}
		st := sup.src.Stats()
		st.State = sup.state
		stats = append(stats, st)
	}
	return stats
}
