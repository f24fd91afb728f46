package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/signalsfoundry/netlab-simulator/internal/logging"
	"github.com/signalsfoundry/netlab-simulator/internal/observability"
	"github.com/signalsfoundry/netlab-simulator/internal/sim/engine"
	"github.com/signalsfoundry/netlab-simulator/internal/sink"
	"github.com/signalsfoundry/netlab-simulator/kb"
	"github.com/signalsfoundry/netlab-simulator/model"
	"github.com/signalsfoundry/netlab-simulator/timectrl"
	"github.com/spf13/cobra"
)

// errRunFailed is returned when a run ends in simulation-error.
var errRunFailed = errors.New("simulation run failed")

// RunConfig drives one offline run of a scenario session.
type RunConfig struct {
	ScenarioPath string
	SessionID    string
	MessageIDs   []string
	Speed        float64
	NoAnomalies  bool
	RealTime     bool
	Format       string // json or text
	Engine       engineFlags
}

func newRunCmd(g *globalFlags) *cobra.Command {
	cfg := RunConfig{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scenario session offline and print its events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := g.logger(cmd)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer func() { _ = shutdownTracing(context.Background()) }()

			return runScenario(ctx, cfg, log, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&cfg.ScenarioPath, "scenario", "", "Scenario YAML file")
	cmd.Flags().StringVar(&cfg.SessionID, "session", "", "Session to run; defaults to the first session in the file")
	cmd.Flags().StringSliceVar(&cfg.MessageIDs, "messages", nil, "Message IDs to send in order; defaults to every message")
	cmd.Flags().Float64Var(&cfg.Speed, "speed", 1, "Speed multiplier applied to hop delays")
	cmd.Flags().BoolVar(&cfg.NoAnomalies, "no-anomalies", false, "Ignore the session's anomaly rules")
	cmd.Flags().BoolVar(&cfg.RealTime, "realtime", false, "Pace hops on the wall clock instead of finishing instantly")
	cmd.Flags().StringVar(&cfg.Format, "format", "text", "Event output format (text, json)")
	cfg.Engine.register(cmd)
	_ = cmd.MarkFlagRequired("scenario")
	return cmd
}

// runScenario loads cfg.ScenarioPath, runs one session to completion and
// writes every event to out.
func runScenario(ctx context.Context, cfg RunConfig, log logging.Logger, out io.Writer) error {
	store := kb.NewStore()
	summary, err := kb.LoadScenarioFile(store, cfg.ScenarioPath)
	if err != nil {
		return err
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = summary.SessionIDs[0]
	}

	mode := timectrl.Accelerated
	if cfg.RealTime {
		mode = timectrl.RealTime
	}
	clock := timectrl.NewTimeController(mode)

	input, err := store.SimulationInput(sessionID, cfg.MessageIDs, !cfg.NoAnomalies, clock.Now())
	if err != nil {
		return err
	}

	printer, err := newEventPrinter(out, cfg.Format)
	if err != nil {
		return err
	}
	coord := engine.NewCoordinator(printer, append(cfg.Engine.options(),
		engine.WithLogger(log),
		engine.WithClock(clock),
	)...)

	runID, err := coord.Start(ctx, engine.StartRequest{
		SessionID:       input.SessionID,
		Messages:        input.Messages,
		Nodes:           input.Nodes,
		Connections:     input.Connections,
		Anomalies:       input.Anomalies,
		SpeedMultiplier: cfg.Speed,
	})
	if err != nil {
		return err
	}
	log.Info(ctx, "simulation started",
		logging.SessionID(sessionID),
		logging.RunID(runID),
		logging.Int("messages", len(input.Messages)),
		logging.String("clock", mode.String()),
	)

	select {
	case <-coord.Done(runID):
	case <-ctx.Done():
		coord.Stop(runID)
		<-coord.Done(runID)
		return ctx.Err()
	}

	if printer.failed() {
		return errRunFailed
	}
	return nil
}

// eventPrinter writes each event as one line of text or JSON.
type eventPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	enc    *json.Encoder
	errors int
}

func newEventPrinter(out io.Writer, format string) (*eventPrinter, error) {
	p := &eventPrinter{out: out}
	switch strings.ToLower(format) {
	case "", "text":
	case "json":
		p.enc = json.NewEncoder(out)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	return p, nil
}

var _ sink.Publisher = (*eventPrinter)(nil)

func (p *eventPrinter) Publish(_ context.Context, ev model.SimulationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Kind == model.EventSimulationError {
		p.errors++
	}
	if p.enc != nil {
		_ = p.enc.Encode(ev)
		return
	}
	fmt.Fprintln(p.out, formatEvent(ev))
}

func (p *eventPrinter) failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errors > 0
}

func formatEvent(ev model.SimulationEvent) string {
	var b strings.Builder
	b.WriteString(ev.Timestamp.Format("15:04:05.000"))
	b.WriteString("  ")
	b.WriteString(string(ev.Kind))
	if ev.MessageID != "" {
		fmt.Fprintf(&b, "  message=%s", ev.MessageID)
	}
	if len(ev.NodeIDs) > 0 {
		fmt.Fprintf(&b, "  nodes=%s", strings.Join(ev.NodeIDs, ","))
	}
	switch ev.Kind {
	case model.EventPacketLost, model.EventPacketFailed:
		fmt.Fprintf(&b, "  reason=%q", ev.Payload["reason"])
	case model.EventPacketArrived:
		fmt.Fprintf(&b, "  delay_ms=%v corrupted=%v", ev.Payload["delay_ms"], ev.Payload["is_corrupted"])
	case model.EventSimulationCompleted:
		if s, ok := ev.Payload["summary"].(map[string]any); ok {
			fmt.Fprintf(&b, "  delivered=%v/%v success_rate=%.2f", s["delivered"], s["total_messages"], s["success_rate"])
		}
	case model.EventSimulationError:
		fmt.Fprintf(&b, "  error=%q", ev.Payload["error"])
	}
	return b.String()
}
