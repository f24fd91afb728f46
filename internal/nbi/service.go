package nbi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/signalsfoundry/netlab-simulator/core"
	"github.com/signalsfoundry/netlab-simulator/internal/logging"
	"github.com/signalsfoundry/netlab-simulator/internal/nbi/types"
	"github.com/signalsfoundry/netlab-simulator/internal/sim/engine"
	"github.com/signalsfoundry/netlab-simulator/internal/sink"
	"github.com/signalsfoundry/netlab-simulator/kb"
	"github.com/signalsfoundry/netlab-simulator/model"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// streamBuffer is the per-stream event queue length. A stream that falls
// further behind is dropped by the broker.
const streamBuffer = 512

// SimulationService implements SimulationServiceServer on top of a session
// store, a run coordinator and the event broker.
type SimulationService struct {
	store  *kb.Store
	coord  *engine.Coordinator
	broker *sink.Broker
	log    logging.Logger
	now    func() time.Time
}

// NewSimulationService constructs a SimulationService. broker may be nil, in
// which case StreamEvents is unavailable.
func NewSimulationService(store *kb.Store, coord *engine.Coordinator, broker *sink.Broker, log logging.Logger) *SimulationService {
	if log == nil {
		log = logging.Noop()
	}
	return &SimulationService{
		store:  store,
		coord:  coord,
		broker: broker,
		log:    log,
		now:    time.Now,
	}
}

var _ SimulationServiceServer = (*SimulationService)(nil)

// LoadScenario stores the sessions described by a YAML document.
func (s *SimulationService) LoadScenario(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var req types.LoadScenarioRequest
	if err := types.Decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if strings.TrimSpace(req.YAML) == "" {
		return nil, status.Error(codes.InvalidArgument, "yaml is required")
	}

	ctx, span := StartChildSpan(ctx, "kb.LoadScenario", "scenario", "")
	defer span.End()

	summary, err := kb.LoadScenario(s.store, strings.NewReader(req.YAML))
	if err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	s.logger(ctx).Info(ctx, "scenario loaded",
		logging.Any("sessions", summary.SessionIDs),
		logging.Int("nodes", summary.Nodes),
		logging.Int("messages", summary.Messages),
	)

	return encode(types.LoadScenarioResponse{
		SessionIDs:  summary.SessionIDs,
		Nodes:       summary.Nodes,
		Connections: summary.Connections,
		Messages:    summary.Messages,
		Anomalies:   summary.Anomalies,
	})
}

// ListSessions returns a summary row per stored session.
func (s *SimulationService) ListSessions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if err := types.Decode(in, &struct{}{}); err != nil {
		return nil, ToStatusError(err)
	}

	resp := types.ListSessionsResponse{Sessions: []types.SessionSummary{}}
	for _, sess := range s.store.ListSessions() {
		resp.Sessions = append(resp.Sessions, types.SessionSummary{
			ID:              sess.ID,
			Name:            sess.Name,
			Description:     sess.Description,
			NodeCount:       len(sess.Nodes),
			ConnectionCount: len(sess.Connections),
			MessageCount:    len(sess.Messages),
			AnomalyCount:    len(sess.Anomalies),
		})
	}
	return encode(resp)
}

// StartSimulation launches a run over the selected messages of a session.
func (s *SimulationService) StartSimulation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var req types.StartSimulationRequest
	if err := types.Decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if req.SessionID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id is required")
	}
	if len(req.MessageIDs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "message_ids must list at least one message")
	}

	ctx, span := StartChildSpan(ctx, "engine.Start", "session", req.SessionID,
		attribute.Int("message_count", len(req.MessageIDs)))
	defer span.End()

	input, err := s.store.SimulationInput(req.SessionID, req.MessageIDs, req.Anomalies(), s.now())
	if err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}

	runID, err := s.coord.Start(ctx, engine.StartRequest{
		SessionID:       input.SessionID,
		Messages:        input.Messages,
		Nodes:           input.Nodes,
		Connections:     input.Connections,
		Anomalies:       input.Anomalies,
		SpeedMultiplier: req.Speed(),
	})
	if err != nil {
		span.RecordError(err)
		s.logger(ctx).Warn(ctx, "failed to start simulation", logging.SessionID(req.SessionID), logging.Err(err))
		return nil, ToStatusError(err)
	}

	return encode(types.StartSimulationResponse{
		SimulationID: runID,
		Status:       "started",
		Message:      fmt.Sprintf("Simulation started with %d messages", len(input.Messages)),
	})
}

// StopSimulation stops a run of a session. Stopping a run that already
// finished succeeds with stopped=false.
func (s *SimulationService) StopSimulation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var req types.StopSimulationRequest
	if err := types.Decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if req.SessionID == "" || req.SimulationID == "" {
		return nil, status.Error(codes.InvalidArgument, "session_id and simulation_id are required")
	}
	if _, err := s.store.GetSession(req.SessionID); err != nil {
		return nil, ToStatusError(err)
	}
	if st, ok := s.coord.Status()[req.SimulationID]; ok && st.SessionID != req.SessionID {
		return nil, ToStatusError(fmt.Errorf("%w: simulation %q in session %q", ErrNotFound, req.SimulationID, req.SessionID))
	}

	stopped := s.coord.Stop(req.SimulationID)
	s.logger(ctx).Info(ctx, "stop requested",
		logging.SessionID(req.SessionID),
		logging.RunID(req.SimulationID),
		logging.Bool("stopped", stopped),
	)
	return encode(types.StopSimulationResponse{
		Message: "Simulation stopped successfully",
		Stopped: stopped,
	})
}

// GetSimulationStatus lists the running runs of a session.
func (s *SimulationService) GetSimulationStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var req types.SessionRequest
	if err := types.Decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if _, err := s.store.GetSession(req.SessionID); err != nil {
		return nil, ToStatusError(err)
	}

	runs := s.coord.SessionStatus(req.SessionID)
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })

	resp := types.SimulationStatusResponse{
		SessionID:         req.SessionID,
		ActiveSimulations: []types.ActiveSimulation{},
	}
	for _, r := range runs {
		if !r.Running {
			continue
		}
		resp.ActiveSimulations = append(resp.ActiveSimulations, types.ActiveSimulation{
			SimulationID:      r.RunID,
			Status:            "running",
			SpeedMultiplier:   r.SpeedMultiplier,
			MessagesTotal:     r.MessagesTotal,
			MessagesProcessed: r.MessagesProcessed,
			StartedAt:         r.StartedAt,
		})
	}
	resp.TotalActive = len(resp.ActiveSimulations)
	return encode(resp)
}

// ValidateNetwork reports whether a session's topology is ready to simulate.
func (s *SimulationService) ValidateNetwork(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var req types.SessionRequest
	if err := types.Decode(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	sess, err := s.store.GetSession(req.SessionID)
	if err != nil {
		return nil, ToStatusError(err)
	}

	return encode(types.ValidateNetworkResponse{
		SessionID:        req.SessionID,
		ValidationReport: core.ValidateTopology(sess.Nodes, sess.Connections),
	})
}

// StreamEvents forwards the events of one session to the caller until the
// caller goes away, falls too far behind or the server shuts down.
func (s *SimulationService) StreamEvents(in *structpb.Struct, stream SimulationService_StreamEventsServer) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	if s.broker == nil {
		return status.Error(codes.Unimplemented, "event streaming is not configured")
	}
	var req types.SessionRequest
	if err := types.Decode(in, &req); err != nil {
		return ToStatusError(err)
	}
	if req.SessionID == "" {
		return status.Error(codes.InvalidArgument, "session_id is required")
	}

	ctx := stream.Context()
	log := s.logger(ctx).With(logging.SessionID(req.SessionID))
	events, cancel := s.broker.Subscribe(req.SessionID, streamBuffer)
	defer cancel()

	greeting := model.SimulationEvent{
		Kind:      model.EventConnectionEstablished,
		SessionID: req.SessionID,
		Payload: map[string]any{
			"message":    "Event stream established",
			"session_id": req.SessionID,
		},
		Timestamp: s.now().UTC(),
	}
	if err := sendEvent(stream, greeting); err != nil {
		return err
	}
	log.Debug(ctx, "event stream attached")

	for {
		select {
		case <-ctx.Done():
			log.Debug(ctx, "event stream detached")
			return nil
		case ev, ok := <-events:
			if !ok {
				log.Warn(ctx, "event stream closed by broker")
				return status.Error(codes.Unavailable, "event stream closed: subscriber fell behind or server is shutting down")
			}
			if err := sendEvent(stream, ev); err != nil {
				return err
			}
		}
	}
}

func sendEvent(stream SimulationService_StreamEventsServer, ev model.SimulationEvent) error {
	msg, err := types.EventToStruct(ev)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.Send(msg)
}

func (s *SimulationService) ensureReady() error {
	if s == nil || s.store == nil || s.coord == nil {
		return status.Error(codes.FailedPrecondition, "simulation service is not configured")
	}
	return nil
}

func (s *SimulationService) logger(ctx context.Context) logging.Logger {
	return logging.FromContext(ctx, s.log)
}

func encode(v any) (*structpb.Struct, error) {
	out, err := types.Encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
