//go:build perf || perf_large

package perf

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/netlab-simulator/core"
	"github.com/signalsfoundry/netlab-simulator/internal/logging"
	"github.com/signalsfoundry/netlab-simulator/internal/nbi"
	"github.com/signalsfoundry/netlab-simulator/internal/sim/engine"
	"github.com/signalsfoundry/netlab-simulator/internal/sink"
	"github.com/signalsfoundry/netlab-simulator/kb"
	"github.com/signalsfoundry/netlab-simulator/timectrl"
	"google.golang.org/protobuf/types/known/structpb"
)

// perfConfig sizes a Side x Side grid lab with Messages corner-to-corner
// messages. Side must keep the corner distance within the default hop limit.
type perfConfig struct {
	Side     int
	Messages int
	MaxPaths int
}

func gridNodeID(row, col int) string { return fmt.Sprintf("n-%d-%d", row, col) }

// gridScenario renders a grid lab as a scenario document.
func gridScenario(cfg perfConfig) string {
	var b strings.Builder
	b.WriteString("session:\n  id: grid\n  name: Grid lab\nnodes:\n")
	for r := 0; r < cfg.Side; r++ {
		for c := 0; c < cfg.Side; c++ {
			fmt.Fprintf(&b, "  - id: %s\n", gridNodeID(r, c))
		}
	}
	b.WriteString("connections:\n")
	for r := 0; r < cfg.Side; r++ {
		for c := 0; c < cfg.Side; c++ {
			if c+1 < cfg.Side {
				fmt.Fprintf(&b, "  - source: %s\n    destination: %s\n", gridNodeID(r, c), gridNodeID(r, c+1))
			}
			if r+1 < cfg.Side {
				fmt.Fprintf(&b, "  - source: %s\n    destination: %s\n", gridNodeID(r, c), gridNodeID(r+1, c))
			}
		}
	}
	b.WriteString("messages:\n")
	last := cfg.Side - 1
	for i := 0; i < cfg.Messages; i++ {
		fmt.Fprintf(&b, "  - id: m%d\n    source: %s\n    destination: %s\n", i, gridNodeID(0, 0), gridNodeID(last, last))
	}
	b.WriteString("anomalies:\n  - type: delay\n    probability: 0.2\n  - type: corruption\n    probability: 0.1\n")
	return b.String()
}

func benchmarkLoadScenario(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	req, err := structpb.NewStruct(map[string]any{"yaml": gridScenario(cfg)})
	if err != nil {
		b.Fatalf("NewStruct: %v", err)
	}
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		svc := nbi.NewSimulationService(kb.NewStore(), engine.NewCoordinator(nil), nil, logging.Noop())
		if _, err := svc.LoadScenario(ctx, req); err != nil {
			b.Fatalf("LoadScenario: %v", err)
		}
	}
}

func benchmarkPaths(b *testing.B, cfg perfConfig) {
	store := kb.NewStore()
	if _, err := kb.LoadScenario(store, strings.NewReader(gridScenario(cfg))); err != nil {
		b.Fatalf("LoadScenario: %v", err)
	}
	sess, err := store.GetSession("grid")
	if err != nil {
		b.Fatalf("GetSession: %v", err)
	}
	topo := core.BuildTopology(sess.Nodes, sess.Connections)
	src, dst := gridNodeID(0, 0), gridNodeID(cfg.Side-1, cfg.Side-1)
	maxHops := engine.DefaultConfig().MaxHops
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if paths := topo.AllSimplePaths(src, dst, maxHops, cfg.MaxPaths); len(paths) == 0 {
			b.Fatalf("no path from %s to %s", src, dst)
		}
	}
}

func benchmarkRun(b *testing.B, cfg perfConfig) {
	store := kb.NewStore()
	if _, err := kb.LoadScenario(store, strings.NewReader(gridScenario(cfg))); err != nil {
		b.Fatalf("LoadScenario: %v", err)
	}
	ids := make([]string, cfg.Messages)
	for i := range ids {
		ids[i] = fmt.Sprintf("m%d", i)
	}
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		input, err := store.SimulationInput("grid", ids, true, time.Now())
		if err != nil {
			b.Fatalf("SimulationInput: %v", err)
		}
		rec := sink.NewRecorder()
		coord := engine.NewCoordinator(rec,
			engine.WithClock(timectrl.NewTimeController(timectrl.Accelerated)),
			engine.WithRandFactory(func() core.RandSource { return rand.New(rand.NewSource(int64(i))) }),
		)
		b.StartTimer()

		runID, err := coord.Start(context.Background(), engine.StartRequest{
			SessionID:       input.SessionID,
			Messages:        input.Messages,
			Nodes:           input.Nodes,
			Connections:     input.Connections,
			Anomalies:       input.Anomalies,
			SpeedMultiplier: 10,
		})
		if err != nil {
			b.Fatalf("Start: %v", err)
		}
		<-coord.Done(runID)
	}
}
