package nbi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// SimulationServiceName is the fully-qualified gRPC service name.
const SimulationServiceName = "netsim.v1.SimulationService"

// Fully-qualified method names.
const (
	MethodLoadScenario        = "/" + SimulationServiceName + "/LoadScenario"
	MethodListSessions        = "/" + SimulationServiceName + "/ListSessions"
	MethodStartSimulation     = "/" + SimulationServiceName + "/StartSimulation"
	MethodStopSimulation      = "/" + SimulationServiceName + "/StopSimulation"
	MethodGetSimulationStatus = "/" + SimulationServiceName + "/GetSimulationStatus"
	MethodValidateNetwork     = "/" + SimulationServiceName + "/ValidateNetwork"
	MethodStreamEvents        = "/" + SimulationServiceName + "/StreamEvents"
)

// SimulationServiceServer is the server API of the simulation control
// service. Every message is a google.protobuf.Struct whose fields follow the
// shapes in package types.
type SimulationServiceServer interface {
	LoadScenario(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSessions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StartSimulation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopSimulation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSimulationStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateNetwork(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StreamEvents(*structpb.Struct, SimulationService_StreamEventsServer) error
}

// SimulationService_StreamEventsServer is the server side of StreamEvents.
type SimulationService_StreamEventsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

// RegisterSimulationServiceServer registers srv with s.
func RegisterSimulationServiceServer(s grpc.ServiceRegistrar, srv SimulationServiceServer) {
	s.RegisterService(&SimulationService_ServiceDesc, srv)
}

type unaryCall func(SimulationServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SimulationServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SimulationServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SimulationServiceServer).StreamEvents(in, &streamEventsServer{stream})
}

type streamEventsServer struct {
	grpc.ServerStream
}

func (x *streamEventsServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// SimulationService_ServiceDesc describes the service for grpc.Server.
var SimulationService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: SimulationServiceName,
	HandlerType: (*SimulationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "LoadScenario", Handler: unaryHandler(MethodLoadScenario, SimulationServiceServer.LoadScenario)},
		{MethodName: "ListSessions", Handler: unaryHandler(MethodListSessions, SimulationServiceServer.ListSessions)},
		{MethodName: "StartSimulation", Handler: unaryHandler(MethodStartSimulation, SimulationServiceServer.StartSimulation)},
		{MethodName: "StopSimulation", Handler: unaryHandler(MethodStopSimulation, SimulationServiceServer.StopSimulation)},
		{MethodName: "GetSimulationStatus", Handler: unaryHandler(MethodGetSimulationStatus, SimulationServiceServer.GetSimulationStatus)},
		{MethodName: "ValidateNetwork", Handler: unaryHandler(MethodValidateNetwork, SimulationServiceServer.ValidateNetwork)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "netsim/v1/simulation.proto",
}

// SimulationServiceClient is the client API of the simulation control
// service.
type SimulationServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSimulationServiceClient wraps cc.
func NewSimulationServiceClient(cc grpc.ClientConnInterface) *SimulationServiceClient {
	return &SimulationServiceClient{cc: cc}
}

func (c *SimulationServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadScenario stores the sessions of a YAML scenario document.
func (c *SimulationServiceClient) LoadScenario(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodLoadScenario, in, opts...)
}

// ListSessions lists stored sessions.
func (c *SimulationServiceClient) ListSessions(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodListSessions, in, opts...)
}

// StartSimulation starts a run.
func (c *SimulationServiceClient) StartSimulation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodStartSimulation, in, opts...)
}

// StopSimulation stops a run.
func (c *SimulationServiceClient) StopSimulation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodStopSimulation, in, opts...)
}

// GetSimulationStatus lists the active runs of a session.
func (c *SimulationServiceClient) GetSimulationStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGetSimulationStatus, in, opts...)
}

// ValidateNetwork reports whether a session's topology is ready.
func (c *SimulationServiceClient) ValidateNetwork(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodValidateNetwork, in, opts...)
}

// SimulationService_StreamEventsClient is the client side of StreamEvents.
type SimulationService_StreamEventsClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

// StreamEvents subscribes to the events of one session.
func (c *SimulationServiceClient) StreamEvents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (SimulationService_StreamEventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &SimulationService_ServiceDesc.Streams[0], MethodStreamEvents, opts...)
	if err != nil {
		return nil, err
	}
	x := &streamEventsClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type streamEventsClient struct {
	grpc.ClientStream
}

func (x *streamEventsClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
