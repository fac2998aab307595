package signal

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName   = "obsidian.alerts.v1.SignalService"
	FireMethod    = "/" + ServiceName + "/Fire"
	ResolveMethod = "/" + ServiceName + "/Resolve"
)

// Server is implemented by the alert server.
type Server interface {
	Fire(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Resolve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes SignalService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Fire", Handler: fireHandler},
		{MethodName: "Resolve", Handler: resolveHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "obsidian/alerts/v1/signal.proto",
}

// RegisterServer registers srv on s.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

func fireHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Fire(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FireMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).Fire(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func resolveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Resolve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ResolveMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).Resolve(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
