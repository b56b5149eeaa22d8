// Package rpc holds the gRPC service descriptor shared by the replica client
// and the remote authority, together with the conversions between domain
// types and the well-known protobuf messages used on the wire.
//
// The service uses structpb/wrapperspb/emptypb messages only, so no generated
// code is needed:
//
//	Push         Struct(mutation)      -> Struct{applied}
//	PullAll      StringValue(coll)     -> ListValue(records)
//	Subscribe    Struct{collection}    -> stream Struct(change)
//	Ping         Empty                 -> StringValue("OK")
//	Authenticate Struct{device_id,...} -> StringValue(token)
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "ledgersync.v1.Replica"

const (
	MethodPush         = "/" + ServiceName + "/Push"
	MethodPullAll      = "/" + ServiceName + "/PullAll"
	MethodSubscribe    = "/" + ServiceName + "/Subscribe"
	MethodPing         = "/" + ServiceName + "/Ping"
	MethodAuthenticate = "/" + ServiceName + "/Authenticate"
)

// ReplicaServer is the server API of the replica service.
type ReplicaServer interface {
	Push(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PullAll(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	Subscribe(*structpb.Struct, SubscribeServer) error
	Ping(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	Authenticate(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
}

// SubscribeServer is the server side of the Subscribe stream.
type SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type subscribeServer struct {
	grpc.ServerStream
}

func (x *subscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func unaryHandler[Req any, Resp any](method string, call func(ReplicaServer, context.Context, *Req) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReplicaServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ReplicaServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ReplicaServer).Subscribe(in, &subscribeServer{stream})
}

// ServiceDesc describes the replica service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReplicaServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Push", Handler: unaryHandler(MethodPush, ReplicaServer.Push)},
		{MethodName: "PullAll", Handler: unaryHandler(MethodPullAll, ReplicaServer.PullAll)},
		{MethodName: "Ping", Handler: unaryHandler(MethodPing, ReplicaServer.Ping)},
		{MethodName: "Authenticate", Handler: unaryHandler(MethodAuthenticate, ReplicaServer.Authenticate)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "ledgersync/v1/replica",
}

// RegisterReplicaServer registers srv on s.
func RegisterReplicaServer(s grpc.ServiceRegistrar, srv ReplicaServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ReplicaClient is the client API of the replica service.
type ReplicaClient struct {
	cc grpc.ClientConnInterface
}

func NewReplicaClient(cc grpc.ClientConnInterface) *ReplicaClient {
	return &ReplicaClient{cc: cc}
}

func (c *ReplicaClient) Push(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodPush, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ReplicaClient) PullAll(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, MethodPullAll, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ReplicaClient) Ping(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, MethodPing, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ReplicaClient) Authenticate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, MethodAuthenticate, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// SubscribeClient is the client side of the Subscribe stream.
type SubscribeClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type subscribeClient struct {
	grpc.ClientStream
}

func (x *subscribeClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *ReplicaClient) Subscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], MethodSubscribe, opts...)
	if err != nil {
		return nil, err
	}
	x := &subscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
