package engine

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/netlab-simulator/core"
	"github.com/signalsfoundry/netlab-simulator/internal/sink"
	"github.com/signalsfoundry/netlab-simulator/model"
	"github.com/signalsfoundry/netlab-simulator/timectrl"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// labNodes returns A-B-C in a line plus an isolated D.
func labNodes() []model.NodeSnapshot {
	return []model.NodeSnapshot{
		{ID: "A", Name: "Router A", Type: "router", Status: model.NodeStatusActive},
		{ID: "B", Name: "Switch B", Type: "switch", Status: model.NodeStatusActive},
		{ID: "C", Name: "Host C", Type: "host", Status: model.NodeStatusActive},
		{ID: "D", Name: "Host D", Type: "host", Status: model.NodeStatusActive},
	}
}

func labConnections() []model.ConnectionSnapshot {
	return []model.ConnectionSnapshot{
		{ID: "ab", SourceID: "A", DestinationID: "B", Type: "ethernet", BandwidthMbps: 100, LatencyMs: 10, Status: model.ConnectionStatusActive},
		{ID: "bc", SourceID: "B", DestinationID: "C", Type: "ethernet", BandwidthMbps: 100, LatencyMs: 10, Status: model.ConnectionStatusActive},
	}
}

func msg(id, src, dst string) model.MessageSnapshot {
	return model.MessageSnapshot{ID: id, SourceID: src, DestinationID: dst, SizeBytes: 1024, Priority: 1}
}

// fixedRand always draws f from Float64 and n from Intn.
type fixedRand struct {
	f float64
	n int
}

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) Intn(int) int     { return r.n }

func newSeededRand(seed int64) core.RandSource {
	return rand.New(rand.NewSource(seed))
}

type fakeMetrics struct {
	mu        sync.Mutex
	started   int
	finished  []string
	outcomes  map[model.EventKind]int
	anomalies map[model.AnomalyKind]int
	hops      []time.Duration
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		outcomes:  make(map[model.EventKind]int),
		anomalies: make(map[model.AnomalyKind]int),
	}
}

func (m *fakeMetrics) RunStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *fakeMetrics) RunFinished(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, outcome)
}

func (m *fakeMetrics) PacketOutcome(kind model.EventKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[kind]++
}

func (m *fakeMetrics) ObserveHopDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hops = append(m.hops, d)
}

func (m *fakeMetrics) ObserveAnomaly(kind model.AnomalyKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies[kind]++
}

func (m *fakeMetrics) finishedOutcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.finished...)
}

type harness struct {
	coord   *Coordinator
	rec     *sink.Recorder
	clock   *timectrl.FakeClock
	metrics *fakeMetrics
}

func newHarness(t *testing.T, pub sink.Publisher, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		rec:     sink.NewRecorder(),
		clock:   timectrl.NewFakeClock(testEpoch),
		metrics: newFakeMetrics(),
	}
	if pub == nil {
		pub = h.rec
	}
	base := []Option{
		WithClock(h.clock),
		WithMetrics(h.metrics),
		WithRandFactory(func() core.RandSource { return fixedRand{f: 0.5} }),
	}
	h.coord = NewCoordinator(pub, append(base, opts...)...)
	return h
}

func (h *harness) run(t *testing.T, req StartRequest) string {
	t.Helper()
	if req.SessionID == "" {
		req.SessionID = "lab-1"
	}
	if req.SpeedMultiplier == 0 {
		req.SpeedMultiplier = 1
	}
	if req.Nodes == nil {
		req.Nodes = labNodes()
	}
	if req.Connections == nil {
		req.Connections = labConnections()
	}
	id, err := h.coord.Start(context.Background(), req)
	require.NoError(t, err)
	h.wait(t)
	return id
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.coord.Wait(ctx))
}

func payloadOf(t *testing.T, events []model.SimulationEvent, kind model.EventKind, messageID string) map[string]any {
	t.Helper()
	for _, ev := range events {
		if ev.Kind == kind && ev.MessageID == messageID {
			return ev.Payload
		}
	}
	t.Fatalf("no %s event for message %q", kind, messageID)
	return nil
}
