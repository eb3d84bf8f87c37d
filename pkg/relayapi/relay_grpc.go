// Package relayapi describes the relay's gRPC streaming service.
//
// The service has a single server-streaming method. The request is
// google.protobuf.Empty and every streamed message is a
// google.protobuf.BytesValue holding the same JSON frame the WebSocket
// endpoint writes, so both transports share one payload format.
package relayapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified service name
	ServiceName = "relay.v1.Relay"

	// SubscribeFullMethodName is the method path of Subscribe
	SubscribeFullMethodName = "/relay.v1.Relay/Subscribe"
)

// RelayServer is the server API for the relay service
type RelayServer interface {
	Subscribe(*emptypb.Empty, RelaySubscribeServer) error
}

// RelaySubscribeServer is the server side of a Subscribe stream
type RelaySubscribeServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type relaySubscribeServer struct {
	grpc.ServerStream
}

func (x *relaySubscribeServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RelayServer).Subscribe(in, &relaySubscribeServer{stream})
}

// ServiceDesc is the grpc.ServiceDesc for the relay service
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "relay/v1/relay.proto",
}

// RegisterRelayServer registers srv on s
func RegisterRelayServer(s grpc.ServiceRegistrar, srv RelayServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// RelayClient is the client API for the relay service
type RelayClient interface {
	Subscribe(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (RelaySubscribeClient, error)
}

// RelaySubscribeClient is the client side of a Subscribe stream
type RelaySubscribeClient interface {
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ClientStream
}

type relayClient struct {
	cc grpc.ClientConnInterface
}

// NewRelayClient creates a client bound to cc
func NewRelayClient(cc grpc.ClientConnInterface) RelayClient {
	return &relayClient{cc}
}

func (c *relayClient) Subscribe(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (RelaySubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], SubscribeFullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &relaySubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type relaySubscribeClient struct {
	grpc.ClientStream
}

func (x *relaySubscribeClient) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
