package nauthz

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName              = "nauthz.Authorization"
	EventAdmitFullMethodName = "/nauthz.Authorization/EventAdmit"
)

// AuthorizationServer is the server API for the Authorization service.
type AuthorizationServer interface {
	EventAdmit(context.Context, *EventRequest) (*EventReply, error)
}

func RegisterAuthorizationServer(s grpc.ServiceRegistrar, srv AuthorizationServer) {
	s.RegisterService(&AuthorizationServiceDesc, srv)
}

func eventAdmitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(EventRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthorizationServer).EventAdmit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: EventAdmitFullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthorizationServer).EventAdmit(ctx, req.(*EventRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var AuthorizationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthorizationServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "EventAdmit",
			Handler:    eventAdmitHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nauthz.proto",
}

// AuthorizationClient is the client API for the Authorization service.
type AuthorizationClient interface {
	EventAdmit(ctx context.Context, in *EventRequest, opts ...grpc.CallOption) (*EventReply, error)
}

type authorizationClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthorizationClient(cc grpc.ClientConnInterface) AuthorizationClient {
	return &authorizationClient{cc: cc}
}

func (c *authorizationClient) EventAdmit(ctx context.Context, in *EventRequest, opts ...grpc.CallOption) (*EventReply, error) {
	out := new(EventReply)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	if err := c.cc.Invoke(ctx, EventAdmitFullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
