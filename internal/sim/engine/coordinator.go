// Package engine runs packet simulations for a session: it owns the
// active-run registry, walks each message across the topology and publishes
// the resulting events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/netlab-simulator/core"
	"github.com/signalsfoundry/netlab-simulator/internal/logging"
	"github.com/signalsfoundry/netlab-simulator/internal/observability"
	"github.com/signalsfoundry/netlab-simulator/internal/sink"
	"github.com/signalsfoundry/netlab-simulator/model"
	"github.com/signalsfoundry/netlab-simulator/timectrl"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInvalidSpeed is returned by Start for a speed multiplier outside
	// (0, MaxSpeedMultiplier].
	ErrInvalidSpeed = errors.New("speed multiplier out of range")
	// ErrMissingSession is returned by Start when no session id is given.
	ErrMissingSession = errors.New("session id is required")
	// ErrShuttingDown is returned by Start after Shutdown has begun.
	ErrShuttingDown = errors.New("coordinator is shutting down")
)

// Run outcomes reported to MetricsRecorder.RunFinished.
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
	OutcomeError     = "error"
)

// Config holds engine tunables.
type Config struct {
	DefaultHopDelay    time.Duration // used when a connection's latency is negative or not finite
	MessageGap         time.Duration // pause after each message, before speed scaling
	MaxPaths           int
	MaxHops            int
	MaxSpeedMultiplier float64
}

// DefaultConfig returns the tunables used by the server and the CLI.
func DefaultConfig() Config {
	return Config{
		DefaultHopDelay:    100 * time.Millisecond,
		MessageGap:         100 * time.Millisecond,
		MaxPaths:           3,
		MaxHops:            10,
		MaxSpeedMultiplier: 10,
	}
}

// MetricsRecorder receives run and packet telemetry.
// *observability.SimulationCollector satisfies it.
type MetricsRecorder interface {
	RunStarted()
	RunFinished(outcome string)
	PacketOutcome(kind model.EventKind)
	ObserveHopDelay(d time.Duration)
	ObserveAnomaly(kind model.AnomalyKind)
}

type noopMetrics struct{}

func (noopMetrics) RunStarted()                      {}
func (noopMetrics) RunFinished(string)               {}
func (noopMetrics) PacketOutcome(model.EventKind)    {}
func (noopMetrics) ObserveHopDelay(time.Duration)    {}
func (noopMetrics) ObserveAnomaly(model.AnomalyKind) {}

// StartRequest carries the read-only snapshots for one run. The caller is
// expected to have validated that messages reference known nodes.
type StartRequest struct {
	SessionID       string
	Messages        []model.MessageSnapshot
	Nodes           []model.NodeSnapshot
	Connections     []model.ConnectionSnapshot
	Anomalies       []model.AnomalyRule
	SpeedMultiplier float64
}

// RunStatus is a point-in-time view of one registered run.
type RunStatus struct {
	RunID             string    `json:"simulation_id"`
	SessionID         string    `json:"session_id"`
	Running           bool      `json:"running"`
	SpeedMultiplier   float64   `json:"speed_multiplier"`
	MessagesTotal     int       `json:"messages_total"`
	MessagesProcessed int       `json:"messages_processed"`
	StartedAt         time.Time `json:"started_at"`
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(log logging.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock sets the clock used for pacing and timestamps.
func WithClock(clock timectrl.Clock) Option {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMetrics sets the telemetry recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithRandFactory sets how each run obtains its randomness. Tests use it to
// make anomaly draws deterministic.
func WithRandFactory(f func() core.RandSource) Option {
	return func(c *Coordinator) {
		if f != nil {
			c.newRand = f
		}
	}
}

// WithConfig overrides the engine tunables. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) {
		if cfg.DefaultHopDelay > 0 {
			c.cfg.DefaultHopDelay = cfg.DefaultHopDelay
		}
		if cfg.MessageGap > 0 {
			c.cfg.MessageGap = cfg.MessageGap
		}
		if cfg.MaxPaths > 0 {
			c.cfg.MaxPaths = cfg.MaxPaths
		}
		if cfg.MaxHops > 0 {
			c.cfg.MaxHops = cfg.MaxHops
		}
		if cfg.MaxSpeedMultiplier > 0 {
			c.cfg.MaxSpeedMultiplier = cfg.MaxSpeedMultiplier
		}
	}
}

// Coordinator owns the active-run registry. Runs execute concurrently with
// each other; the messages of one run are walked strictly in sequence.
type Coordinator struct {
	publisher sink.Publisher
	log       logging.Logger
	clock     timectrl.Clock
	metrics   MetricsRecorder
	newRand   func() core.RandSource
	cfg       Config
	tracer    trace.Tracer

	mu     sync.Mutex
	runs   map[string]*run // registered: started and not stopped
	live   map[string]*run // goroutine not yet torn down
	closed bool
	wg     sync.WaitGroup
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// NewCoordinator constructs a Coordinator publishing to publisher.
func NewCoordinator(publisher sink.Publisher, opts ...Option) *Coordinator {
	if publisher == nil {
		publisher = sink.Discard
	}
	c := &Coordinator{
		publisher: publisher,
		log:       logging.Noop(),
		clock:     timectrl.NewTimeController(timectrl.RealTime),
		metrics:   noopMetrics{},
		newRand: func() core.RandSource {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
		cfg:    DefaultConfig(),
		tracer: observability.Tracer(),
		runs:   make(map[string]*run),
		live:   make(map[string]*run),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Config returns the effective tunables.
func (c *Coordinator) Config() Config { return c.cfg }

// run is the registry entry and private state of one simulation run.
type run struct {
	id        string
	sessionID string
	speed     float64
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	stopped   bool
	summary   Summary
	processed int

	teardownOnce sync.Once
}

func (r *run) isStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *run) status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunStatus{
		RunID:             r.id,
		SessionID:         r.sessionID,
		Running:           !r.stopped,
		SpeedMultiplier:   r.speed,
		MessagesTotal:     r.summary.TotalMessages,
		MessagesProcessed: r.processed,
		StartedAt:         r.startedAt,
	}
}

// Start registers a run and launches it in the background. It returns the
// run id without waiting for any message to be walked.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.SessionID == "" {
		return "", ErrMissingSession
	}
	speed := req.SpeedMultiplier
	if math.IsNaN(speed) || speed <= 0 || speed > c.cfg.MaxSpeedMultiplier {
		return "", fmt.Errorf("%w: %v not in (0, %v]", ErrInvalidSpeed, speed, c.cfg.MaxSpeedMultiplier)
	}

	now := c.clock.Now()
	topo := core.BuildTopology(req.Nodes, req.Connections)
	policy := core.NewPolicySet(req.Anomalies, now, c.newRand(), core.WithFiringObserver(c.metrics))
	messages := append([]model.MessageSnapshot(nil), req.Messages...)

	// The run outlives the request that started it but keeps its values.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		id:        uuid.NewString(),
		sessionID: req.SessionID,
		speed:     speed,
		startedAt: now,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	r.summary.TotalMessages = len(messages)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return "", ErrShuttingDown
	}
	c.runs[r.id] = r
	c.live[r.id] = r
	c.wg.Add(1)
	c.mu.Unlock()

	c.metrics.RunStarted()
	c.log.Info(ctx, "simulation started",
		logging.SessionID(r.sessionID),
		logging.RunID(r.id),
		logging.Int("messages", len(messages)),
		logging.Int("nodes", topo.NodeCount()),
		logging.Int("edges", topo.EdgeCount()),
		logging.Int("anomalies", policy.Len()),
		logging.Float("speed", speed),
	)

	go c.supervise(runCtx, r, topo, policy, messages)
	return r.id, nil
}

// Stop cancels a run. After Stop returns no further event is published for
// the run. It reports whether the run was registered; stopping an unknown or
// already stopped run is a no-op.
func (c *Coordinator) Stop(runID string) bool {
	c.mu.Lock()
	r, ok := c.runs[runID]
	if ok {
		delete(c.runs, runID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cancel()

	c.log.Info(context.Background(), "simulation stopped",
		logging.SessionID(r.sessionID),
		logging.RunID(r.id),
	)
	return true
}

// Status returns a snapshot of every registered run keyed by run id.
func (c *Coordinator) Status() map[string]RunStatus {
	c.mu.Lock()
	runs := make([]*run, 0, len(c.runs))
	for _, r := range c.runs {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	out := make(map[string]RunStatus, len(runs))
	for _, r := range runs {
		out[r.id] = r.status()
	}
	return out
}

// SessionStatus returns the registered runs of one session.
func (c *Coordinator) SessionStatus(sessionID string) []RunStatus {
	var out []RunStatus
	for _, st := range c.Status() {
		if st.SessionID == sessionID {
			out = append(out, st)
		}
	}
	return out
}

// Done returns a channel closed once the run's goroutine has torn down. A
// stopped run stays pending until then. The channel of an unknown or already
// finished run is closed.
func (c *Coordinator) Done(runID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.live[runID]; ok {
		return r.done
	}
	return closedChan
}

// Wait blocks until every launched run has finished or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown refuses new runs, stops every registered run and waits for their
// goroutines to exit.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	ids := make([]string, 0, len(c.runs))
	for id := range c.runs {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Stop(id)
	}
	return c.Wait(ctx)
}

// emit publishes one event unless the run has been stopped. The check and
// the publish happen under the run lock so Stop cannot interleave.
func (c *Coordinator) emit(ctx context.Context, r *run, kind model.EventKind, messageID string, nodeIDs []string, payload map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	c.publisher.Publish(ctx, model.SimulationEvent{
		Kind:      kind,
		SessionID: r.sessionID,
		RunID:     r.id,
		MessageID: messageID,
		NodeIDs:   nodeIDs,
		Payload:   payload,
		Timestamp: c.clock.Now().UTC(),
	})
	return true
}

func (c *Coordinator) supervise(ctx context.Context, r *run, topo *core.Topology, policy *core.PolicySet, messages []model.MessageSnapshot) {
	defer c.wg.Done()

	ctx, span := c.tracer.Start(ctx, "simulation.run", trace.WithAttributes(
		attribute.String("simulation.id", r.id),
		attribute.String("session.id", r.sessionID),
		attribute.Int("simulation.messages", len(messages)),
		attribute.Float64("simulation.speed", r.speed),
	))
	defer span.End()

	log := c.log.With(logging.SessionID(r.sessionID), logging.RunID(r.id))
	outcome := OutcomeCompleted
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("simulation run failed: %v", rec)
			log.Error(ctx, "simulation run panicked", logging.Err(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.emit(ctx, r, model.EventSimulationError, "", nil, errorPayload(r.id, err))
			outcome = OutcomeError
		}
		c.teardown(ctx, r, outcome, log)
	}()

	c.emit(ctx, r, model.EventSimulationStarted, "", nil, startedPayload(r.id, len(messages)))

	w := &walker{
		topo:    topo,
		policy:  policy,
		clock:   c.clock,
		metrics: c.metrics,
		cfg:     c.cfg,
		speed:   r.speed,
		emit: func(ctx context.Context, kind model.EventKind, messageID string, nodeIDs []string, payload map[string]any) bool {
			return c.emit(ctx, r, kind, messageID, nodeIDs, payload)
		},
		stopped: r.isStopped,
	}

	gap := timectrl.Scale(c.cfg.MessageGap, r.speed)
	for _, msg := range messages {
		if w.cancelled(ctx) {
			outcome = OutcomeStopped
			return
		}
		c.walkMessage(ctx, r, w, msg, log)
		if c.clock.Sleep(ctx, gap) != nil {
			outcome = OutcomeStopped
			return
		}
	}

	r.mu.Lock()
	summary := r.summary
	r.mu.Unlock()
	if c.emit(ctx, r, model.EventSimulationCompleted, "", nil, completedPayload(r.id, summary)) {
		span.SetAttributes(
			attribute.Int("simulation.delivered", summary.Delivered),
			attribute.Float64("simulation.success_rate", summary.SuccessRate()),
		)
		log.Info(ctx, "simulation completed",
			logging.Int("delivered", summary.Delivered),
			logging.Int("lost", summary.Lost),
			logging.Int("misdelivered", summary.Misdelivered),
			logging.Int("failed", summary.Failed),
		)
	} else {
		outcome = OutcomeStopped
	}
}

// walkMessage isolates one message: a failure inside its walk is reported as
// packet-failed and the run moves on.
func (c *Coordinator) walkMessage(ctx context.Context, r *run, w *walker, msg model.MessageSnapshot, log logging.Logger) {
	ctx, span := c.tracer.Start(ctx, "simulation.message", trace.WithAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.source", msg.SourceID),
		attribute.String("message.destination", msg.DestinationID),
	))
	defer span.End()

	res, err := w.walk(ctx, msg)
	if err != nil {
		log.Error(ctx, "message walk failed", logging.MessageID(msg.ID), logging.Err(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if res.Outcome == "" && !w.cancelled(ctx) {
			if c.emit(ctx, r, model.EventPacketFailed, msg.ID, []string{msg.SourceID}, failedPayload(msg.ID, internalErrorPrefix+err.Error())) {
				res.Outcome = model.EventPacketFailed
			}
		}
	}
	if res.Outcome == "" {
		return
	}

	span.SetAttributes(attribute.String("message.outcome", string(res.Outcome)))
	c.metrics.PacketOutcome(res.Outcome)
	r.mu.Lock()
	r.summary.record(res)
	r.processed++
	r.mu.Unlock()
}

func (c *Coordinator) teardown(ctx context.Context, r *run, outcome string, log logging.Logger) {
	r.teardownOnce.Do(func() {
		if r.isStopped() && outcome == OutcomeCompleted {
			outcome = OutcomeStopped
		}
		r.cancel()
		c.mu.Lock()
		if c.runs[r.id] == r {
			delete(c.runs, r.id)
		}
		delete(c.live, r.id)
		c.mu.Unlock()
		close(r.done)
		c.metrics.RunFinished(outcome)
		log.Debug(ctx, "simulation torn down", logging.String("outcome", outcome))
	})
}
