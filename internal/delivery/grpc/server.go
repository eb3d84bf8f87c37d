package grpc

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
	"github.com/moroshma/AssetRelay/pkg/logger"
	"github.com/moroshma/AssetRelay/pkg/relayapi"
)

// Server hosts the relay stream, health and reflection services
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *logger.Logger
}

// NewServer registers handler on a new gRPC server
func NewServer(handler relayapi.RelayServer, log *logger.Logger) *Server {
	grpcServer := grpc.NewServer()
	relayapi.RegisterRelayServer(grpcServer, handler)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus(relayapi.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Register reflection for grpcurl
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     hs,
		logger:     log,
	}
}

// SetUpstreamState mirrors the upstream subscription in the health service.
// The relay service is SERVING only while subscribed.
func (s *Server) SetUpstreamState(state entity.SubscriptionState) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if state == entity.StateSubscribed {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(relayapi.ServiceName, st)
}

// Serve accepts connections on lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server listening", logger.String("address", lis.Addr().String()))
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("grpc server failed: %w", err)
	}
	return nil
}

// ListenAndServe listens on port
func (s *Server) ListenAndServe(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return s.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server. Open
// Subscribe streams end when the hub closes.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
