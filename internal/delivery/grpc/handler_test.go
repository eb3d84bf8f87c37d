package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
	"github.com/moroshma/AssetRelay/internal/hub"
	"github.com/moroshma/AssetRelay/internal/metrics"
	"github.com/moroshma/AssetRelay/pkg/logger"
	"github.com/moroshma/AssetRelay/pkg/relayapi"
)

type testEnv struct {
	hub    *hub.Hub
	server *Server
	conn   *grpc.ClientConn
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "debug", Format: "json", OutputPath: "stdout"})
	require.NoError(t, err)

	m := metrics.New()
	h := hub.New(hub.Config{QueueSize: 16}, log, m)
	srv := NewServer(NewRelayHandler(h, m, log), log)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		h.Close()
		srv.Stop()
	})
	return &testEnv{hub: h, server: srv, conn: conn}
}

func message(requestID string) *entity.RelayMessage {
	return &entity.RelayMessage{
		Event: entity.DefaultEventName,
		Data:  json.RawMessage(fmt.Sprintf(`{"payload":{"RequestId":%q,"HasErrors":true}}`, requestID)),
	}
}

func TestRelayHandler_StreamsFramesInOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := relayapi.NewRelayClient(env.conn).Subscribe(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	for _, id := range []string{"req-1", "req-2"} {
		env.hub.Broadcast(message(id))
	}

	for _, want := range []string{"req-1", "req-2"} {
		frame, err := stream.Recv()
		require.NoError(t, err)

		var f entity.Frame
		require.NoError(t, json.Unmarshal(frame.GetValue(), &f))
		assert.Equal(t, entity.DefaultEventName, f.Event)

		p, err := entity.DecodePayload(f.Data)
		require.NoError(t, err)
		assert.Equal(t, want, p.Payload.RequestID)
		assert.True(t, p.Payload.HasErrors)
	}
}

func TestRelayHandler_ClientCancelDetaches(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := relayapi.NewRelayClient(env.conn).Subscribe(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return env.hub.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestRelayHandler_HubCloseEndsStream(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := relayapi.NewRelayClient(env.conn).Subscribe(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, 2*time.Second, 5*time.Millisecond)

	env.hub.Close()

	_, err = stream.Recv()
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestServer_HealthMirrorsUpstream(t *testing.T) {
	env := newTestEnv(t)
	client := healthpb.NewHealthClient(env.conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: relayapi.ServiceName})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	env.server.SetUpstreamState(entity.StateSubscribed)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	env.server.SetUpstreamState(entity.StateReconnecting)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}
