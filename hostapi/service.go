// Package hostapi serves the machine's host query surface over gRPC.
//
// The service uses only the well-known protobuf types so that any gRPC client
// can talk to it without generated stubs:
//
//	GetPosition     Empty       -> ListValue   (future position)
//	SetPosition     ListValue   -> Empty       (null leaves a component unchanged)
//	SetSpindleSpeed DoubleValue -> Empty
//	SetVelocity     DoubleValue -> Empty
//	Move            ListValue   -> Empty       (absolute target)
//	Jog             ListValue   -> Empty       (relative delta)
//	GetState        Empty       -> StringValue
//	Reset           Empty       -> Empty
package hostapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "drawbot.v1.Machine"

// MachineServer is the server side of drawbot.v1.Machine.
type MachineServer interface {
	GetPosition(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	SetPosition(context.Context, *structpb.ListValue) (*emptypb.Empty, error)
	SetSpindleSpeed(context.Context, *wrapperspb.DoubleValue) (*emptypb.Empty, error)
	SetVelocity(context.Context, *wrapperspb.DoubleValue) (*emptypb.Empty, error)
	Move(context.Context, *structpb.ListValue) (*emptypb.Empty, error)
	Jog(context.Context, *structpb.ListValue) (*emptypb.Empty, error)
	GetState(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	Reset(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// ServiceDesc describes drawbot.v1.Machine for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MachineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetPosition", newEmpty, MachineServer.GetPosition),
		unary("SetPosition", newList, MachineServer.SetPosition),
		unary("SetSpindleSpeed", newDouble, MachineServer.SetSpindleSpeed),
		unary("SetVelocity", newDouble, MachineServer.SetVelocity),
		unary("Move", newList, MachineServer.Move),
		unary("Jog", newList, MachineServer.Jog),
		unary("GetState", newEmpty, MachineServer.GetState),
		unary("Reset", newEmpty, MachineServer.Reset),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "drawbot/v1/machine.proto",
}

// Register adds srv to s.
func Register(s grpc.ServiceRegistrar, srv MachineServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }

func newList() *structpb.ListValue { return new(structpb.ListValue) }

func newDouble() *wrapperspb.DoubleValue { return new(wrapperspb.DoubleValue) }

func unary[Req, Resp proto.Message](name string, newReq func() Req, call func(MachineServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(MachineServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(Req))
			})
		},
	}
}
