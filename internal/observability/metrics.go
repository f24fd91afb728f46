package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/signalsfoundry/netlab-simulator/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// SimulationCollector bundles Prometheus metrics for simulation runs and the
// control surface, and provides helpers to wire them into gRPC servers and
// HTTP handlers.
type SimulationCollector struct {
	gatherer prometheus.Gatherer

	RunsStarted    prometheus.Counter
	RunsFinished   *prometheus.CounterVec
	ActiveRuns     prometheus.Gauge
	PacketOutcomes *prometheus.CounterVec
	AnomalyFirings *prometheus.CounterVec
	HopDelay       prometheus.Histogram

	EventSubscribers prometheus.Gauge

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewSimulationCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimulationCollector(reg prometheus.Registerer) (*SimulationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	started, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulation_runs_started_total",
		Help: "Total number of simulation runs accepted by the coordinator.",
	}), "simulation_runs_started_total")
	if err != nil {
		return nil, err
	}

	finished, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simulation_runs_finished_total",
		Help: "Total number of simulation runs torn down, labeled by outcome (completed, stopped, error).",
	}, []string{"outcome"}), "simulation_runs_finished_total")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulation_active_runs",
		Help: "Current number of simulation runs in the active-run registry.",
	}), "simulation_active_runs")
	if err != nil {
		return nil, err
	}

	outcomes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simulation_packet_outcomes_total",
		Help: "Terminal packet outcomes, labeled by event kind.",
	}, []string{"outcome"}), "simulation_packet_outcomes_total")
	if err != nil {
		return nil, err
	}

	firings, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "simulation_anomaly_firings_total",
		Help: "Number of times an anomaly rule fired, labeled by anomaly kind.",
	}, []string{"kind"}), "simulation_anomaly_firings_total")
	if err != nil {
		return nil, err
	}

	hopDelay, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "simulation_hop_delay_seconds",
		Help:    "Simulated per-hop delay after anomalies, before speed scaling.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "simulation_hop_delay_seconds")
	if err != nil {
		return nil, err
	}

	subscribers, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulation_event_subscribers",
		Help: "Current number of attached event subscribers across all sessions.",
	}), "simulation_event_subscribers")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "control_requests_total",
		Help: "Total number of handled control RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "control_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "control_request_duration_seconds",
		Help:    "Control RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "control_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimulationCollector{
		gatherer:         gatherer,
		RunsStarted:      started,
		RunsFinished:     finished,
		ActiveRuns:       active,
		PacketOutcomes:   outcomes,
		AnomalyFirings:   firings,
		HopDelay:         hopDelay,
		EventSubscribers: subscribers,
		RPCRequests:      requests,
		RPCDurations:     durations,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// RunStarted records a newly registered run.
func (c *SimulationCollector) RunStarted() {
	if c == nil {
		return
	}
	c.RunsStarted.Inc()
	c.ActiveRuns.Inc()
}

// RunFinished records the teardown of a run with the given outcome.
func (c *SimulationCollector) RunFinished(outcome string) {
	if c == nil {
		return
	}
	c.RunsFinished.WithLabelValues(outcome).Inc()
	c.ActiveRuns.Dec()
}

// PacketOutcome records a terminal packet event.
func (c *SimulationCollector) PacketOutcome(kind model.EventKind) {
	if c == nil {
		return
	}
	c.PacketOutcomes.WithLabelValues(string(kind)).Inc()
}

// ObserveHopDelay records the simulated delay of one hop.
func (c *SimulationCollector) ObserveHopDelay(d time.Duration) {
	if c == nil {
		return
	}
	c.HopDelay.Observe(d.Seconds())
}

// ObserveAnomaly records a fired anomaly rule.
func (c *SimulationCollector) ObserveAnomaly(kind model.AnomalyKind) {
	if c == nil {
		return
	}
	c.AnomalyFirings.WithLabelValues(string(kind)).Inc()
}

// SetSubscribers updates the attached-subscriber gauge.
func (c *SimulationCollector) SetSubscribers(n int) {
	if c == nil {
		return
	}
	c.EventSubscribers.Set(float64(n))
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SimulationCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observeRPC(fullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor records request counts and durations for
// streaming RPCs. The duration covers the whole life of the stream.
func (c *SimulationCollector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observeRPC(fullMethod, start, err)
		return err
	}
}

func (c *SimulationCollector) observeRPC(fullMethod string, start time.Time, err error) {
	if c == nil {
		return
	}
	service, method := SplitMethod(fullMethod)
	code := status.Code(err).String()

	if c.RPCRequests != nil {
		c.RPCRequests.WithLabelValues(service, method, code).Inc()
	}
	if c.RPCDurations != nil {
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimulationCollector) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if c != nil {
		gatherer = c.gatherer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
