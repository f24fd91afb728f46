package nbi

import (
	"context"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/signalsfoundry/netlab-simulator/core"
	"github.com/signalsfoundry/netlab-simulator/internal/logging"
	"github.com/signalsfoundry/netlab-simulator/internal/nbi/types"
	"github.com/signalsfoundry/netlab-simulator/internal/sim/engine"
	"github.com/signalsfoundry/netlab-simulator/internal/sink"
	"github.com/signalsfoundry/netlab-simulator/kb"
	"github.com/signalsfoundry/netlab-simulator/model"
	"github.com/signalsfoundry/netlab-simulator/timectrl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const lineScenario = `
session:
  id: line
  name: Line lab
nodes:
  - id: A
  - id: B
  - id: C
connections:
  - id: ab
    source: A
    destination: B
    latency_ms: 10
  - id: bc
    source: B
    destination: C
    latency_ms: 10
messages:
  - id: m1
    source: A
    destination: C
  - id: m2
    source: C
    destination: A
---
session:
  id: island
  name: Island
nodes:
  - id: X
messages:
  - id: lonely
    source: X
    destination: X
`

const slowScenario = `
session:
  id: slow
nodes:
  - id: A
  - id: B
connections:
  - source: A
    destination: B
    latency_ms: 60000
messages:
  - id: m1
    source: A
    destination: B
`

type serviceTestEnv struct {
	ctx    context.Context
	store  *kb.Store
	coord  *engine.Coordinator
	broker *sink.Broker
	client *SimulationServiceClient
}

func newServiceTestEnv(t *testing.T, clock timectrl.Clock) *serviceTestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	store := kb.NewStore()
	broker := sink.NewBroker()
	coord := engine.NewCoordinator(broker,
		engine.WithClock(clock),
		engine.WithRandFactory(func() core.RandSource { return rand.New(rand.NewSource(7)) }),
	)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(logging.Noop()),
			TracingUnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			RequestIDStreamServerInterceptor(logging.Noop()),
			TracingStreamServerInterceptor(),
		),
	)
	RegisterSimulationServiceServer(server, NewSimulationService(store, coord, broker, logging.Noop()))
	go func() { _ = server.Serve(lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
		broker.Close()
		_ = coord.Shutdown(context.Background())
		cancel()
	})

	return &serviceTestEnv{
		ctx:    ctx,
		store:  store,
		coord:  coord,
		broker: broker,
		client: NewSimulationServiceClient(conn),
	}
}

func (e *serviceTestEnv) load(t *testing.T, doc string) *structpb.Struct {
	t.Helper()
	resp, err := e.client.LoadScenario(e.ctx, mustStruct(t, map[string]any{"yaml": doc}))
	require.NoError(t, err)
	return resp
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func requireCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok, "not a status error: %v", err)
	require.Equal(t, want, st.Code(), st.Message())
}

func TestLoadListAndValidate(t *testing.T) {
	env := newServiceTestEnv(t, timectrl.NewFakeClock(time.Unix(0, 0)))

	resp := env.load(t, lineScenario)
	var loaded types.LoadScenarioResponse
	require.NoError(t, types.Decode(resp, &loaded))
	assert.Equal(t, []string{"line", "island"}, loaded.SessionIDs)
	assert.Equal(t, 4, loaded.Nodes)
	assert.Equal(t, 2, loaded.Connections)
	assert.Equal(t, 3, loaded.Messages)

	resp, err := env.client.ListSessions(env.ctx, &structpb.Struct{})
	require.NoError(t, err)
	var list types.ListSessionsResponse
	require.NoError(t, types.Decode(resp, &list))
	require.Len(t, list.Sessions, 2)
	assert.Equal(t, "island", list.Sessions[0].ID)
	assert.Equal(t, "line", list.Sessions[1].ID)
	assert.Equal(t, 2, list.Sessions[1].ConnectionCount)

	resp, err = env.client.ValidateNetwork(env.ctx, mustStruct(t, map[string]any{"session_id": "line"}))
	require.NoError(t, err)
	assert.True(t, resp.Fields["is_valid"].GetBoolValue())
	assert.Equal(t, float64(2), resp.Fields["connection_count"].GetNumberValue())

	resp, err = env.client.ValidateNetwork(env.ctx, mustStruct(t, map[string]any{"session_id": "island"}))
	require.NoError(t, err)
	assert.False(t, resp.Fields["is_valid"].GetBoolValue())
	assert.NotEmpty(t, resp.Fields["issues"].GetListValue().GetValues())
}

func TestStartSimulationStreamsEvents(t *testing.T) {
	env := newServiceTestEnv(t, timectrl.NewTimeController(timectrl.Accelerated))
	env.load(t, lineScenario)

	stream, err := env.client.StreamEvents(env.ctx, mustStruct(t, map[string]any{"session_id": "line"}))
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	greeting, err := types.EventFromStruct(first)
	require.NoError(t, err)
	require.Equal(t, model.EventConnectionEstablished, greeting.Kind)
	require.Equal(t, "line", greeting.SessionID)

	resp, err := env.client.StartSimulation(env.ctx, mustStruct(t, map[string]any{
		"session_id":       "line",
		"message_ids":      []any{"m1"},
		"speed_multiplier": 5,
	}))
	require.NoError(t, err)
	var started types.StartSimulationResponse
	require.NoError(t, types.Decode(resp, &started))
	assert.Equal(t, "started", started.Status)
	assert.Equal(t, "Simulation started with 1 messages", started.Message)
	require.NotEmpty(t, started.SimulationID)

	var kinds []model.EventKind
	var last model.SimulationEvent
	for last.Kind != model.EventSimulationCompleted {
		msg, err := stream.Recv()
		require.NoError(t, err)
		last, err = types.EventFromStruct(msg)
		require.NoError(t, err)
		require.Equal(t, started.SimulationID, last.RunID)
		kinds = append(kinds, last.Kind)
	}

	assert.Equal(t, []model.EventKind{
		model.EventSimulationStarted,
		model.EventPacketSent,
		model.EventPacketArrived,
		model.EventPacketArrived,
		model.EventPacketDelivered,
		model.EventSimulationCompleted,
	}, kinds)
	summary, ok := last.Payload["summary"].(map[string]any)
	require.True(t, ok, "summary payload: %v", last.Payload)
	assert.Equal(t, float64(1), summary["delivered"])
	assert.Equal(t, float64(1), summary["success_rate"])
}

func TestStartSimulationErrors(t *testing.T) {
	env := newServiceTestEnv(t, timectrl.NewFakeClock(time.Unix(0, 0)))
	env.load(t, lineScenario)

	cases := []struct {
		name string
		req  map[string]any
		want codes.Code
	}{
		{"unknown session", map[string]any{"session_id": "nope", "message_ids": []any{"m1"}}, codes.NotFound},
		{"missing session", map[string]any{"message_ids": []any{"m1"}}, codes.InvalidArgument},
		{"no messages", map[string]any{"session_id": "line"}, codes.InvalidArgument},
		{"unknown message", map[string]any{"session_id": "line", "message_ids": []any{"m9"}}, codes.InvalidArgument},
		{"speed too high", map[string]any{"session_id": "line", "message_ids": []any{"m1"}, "speed_multiplier": 20}, codes.InvalidArgument},
		{"unknown field", map[string]any{"session_id": "line", "message_ids": []any{"m1"}, "turbo": true}, codes.InvalidArgument},
		{"no connections", map[string]any{"session_id": "island", "message_ids": []any{"lonely"}}, codes.FailedPrecondition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.client.StartSimulation(env.ctx, mustStruct(t, tc.req))
			requireCode(t, err, tc.want)
		})
	}
	assert.Empty(t, env.coord.Status())

	_, err := env.client.LoadScenario(env.ctx, mustStruct(t, map[string]any{"yaml": "nodes: [oops"}))
	requireCode(t, err, codes.InvalidArgument)

	_, err = env.client.GetSimulationStatus(env.ctx, mustStruct(t, map[string]any{"session_id": "nope"}))
	requireCode(t, err, codes.NotFound)

	stream, err := env.client.StreamEvents(env.ctx, &structpb.Struct{})
	require.NoError(t, err)
	_, err = stream.Recv()
	requireCode(t, err, codes.InvalidArgument)
}

func TestStopAndStatus(t *testing.T) {
	env := newServiceTestEnv(t, timectrl.NewTimeController(timectrl.RealTime))
	env.load(t, slowScenario)
	env.load(t, lineScenario)

	resp, err := env.client.StartSimulation(env.ctx, mustStruct(t, map[string]any{
		"session_id":  "slow",
		"message_ids": []any{"m1"},
	}))
	require.NoError(t, err)
	runID := resp.Fields["simulation_id"].GetStringValue()
	require.NotEmpty(t, runID)

	resp, err = env.client.GetSimulationStatus(env.ctx, mustStruct(t, map[string]any{"session_id": "slow"}))
	require.NoError(t, err)
	var st types.SimulationStatusResponse
	require.NoError(t, types.Decode(resp, &st))
	require.Equal(t, 1, st.TotalActive)
	assert.Equal(t, runID, st.ActiveSimulations[0].SimulationID)
	assert.Equal(t, "running", st.ActiveSimulations[0].Status)
	assert.Equal(t, float64(1), st.ActiveSimulations[0].SpeedMultiplier)
	assert.Equal(t, 1, st.ActiveSimulations[0].MessagesTotal)

	_, err = env.client.StopSimulation(env.ctx, mustStruct(t, map[string]any{"session_id": "line", "simulation_id": runID}))
	requireCode(t, err, codes.NotFound)

	stop := mustStruct(t, map[string]any{"session_id": "slow", "simulation_id": runID})
	resp, err = env.client.StopSimulation(env.ctx, stop)
	require.NoError(t, err)
	var stopped types.StopSimulationResponse
	require.NoError(t, types.Decode(resp, &stopped))
	assert.True(t, stopped.Stopped)
	assert.Equal(t, "Simulation stopped successfully", stopped.Message)

	resp, err = env.client.StopSimulation(env.ctx, stop)
	require.NoError(t, err)
	assert.False(t, resp.Fields["stopped"].GetBoolValue())

	select {
	case <-env.coord.Done(runID):
	case <-env.ctx.Done():
		t.Fatal("run did not finish after stop")
	}

	resp, err = env.client.GetSimulationStatus(env.ctx, mustStruct(t, map[string]any{"session_id": "slow"}))
	require.NoError(t, err)
	assert.Equal(t, float64(0), resp.Fields["total_active"].GetNumberValue())
	assert.Empty(t, resp.Fields["active_simulations"].GetListValue().GetValues())
}

func TestServiceRequiresDependencies(t *testing.T) {
	svc := NewSimulationService(nil, nil, nil, nil)
	_, err := svc.ListSessions(context.Background(), &structpb.Struct{})
	requireCode(t, err, codes.FailedPrecondition)
}
