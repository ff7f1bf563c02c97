// Package grpcapi exposes the control operations as the gRPC service
// roiwatch.v1.Control. Messages are well-known protobuf types, so neither
// side needs generated code.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "roiwatch.v1.Control"

// ControlServer is the server API for the Control service.
type ControlServer interface {
	GetStats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListROIs(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	AddROI(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteROI(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	ClearROIs(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SaveROIs(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	LoadROIs(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetConfig(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	UpdateConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStats", ControlServer.GetStats),
		unary("ListROIs", ControlServer.ListROIs),
		unary("AddROI", ControlServer.AddROI),
		unary("DeleteROI", ControlServer.DeleteROI),
		unary("ClearROIs", ControlServer.ClearROIs),
		unary("SaveROIs", ControlServer.SaveROIs),
		unary("LoadROIs", ControlServer.LoadROIs),
		unary("GetConfig", ControlServer.GetConfig),
		unary("UpdateConfig", ControlServer.UpdateConfig),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "roiwatch/v1/control",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the method descriptor that decodes a Req, runs it through the
// server interceptor chain and calls fn.
func unary[Req any, PReq interface {
	*Req
	proto.Message
}, Resp any](name string, fn func(ControlServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(ControlServer), ctx, req.(PReq))
			})
		},
	}
}
