package grpc

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
	"github.com/moroshma/AssetRelay/internal/hub"
	"github.com/moroshma/AssetRelay/internal/metrics"
	"github.com/moroshma/AssetRelay/pkg/logger"
	"github.com/moroshma/AssetRelay/pkg/relayapi"
)

const transportName = "grpc"

// Subscriptions is the part of the hub a stream attaches to
type Subscriptions interface {
	Subscribe(id string) (*hub.Subscriber, error)
	Unsubscribe(id string)
}

// RelayHandler implements relayapi.RelayServer
type RelayHandler struct {
	hub     Subscriptions
	metrics *metrics.Metrics
	logger  *logger.Logger
}

var _ relayapi.RelayServer = (*RelayHandler)(nil)

// NewRelayHandler creates a new gRPC handler
func NewRelayHandler(subs Subscriptions, m *metrics.Metrics, log *logger.Logger) *RelayHandler {
	return &RelayHandler{
		hub:     subs,
		metrics: m,
		logger:  log,
	}
}

// Subscribe streams every relayed message until the client goes away
func (h *RelayHandler) Subscribe(_ *emptypb.Empty, stream relayapi.RelaySubscribeServer) error {
	client := entity.ClientConnection{
		ID:          uuid.NewString(),
		Transport:   transportName,
		State:       entity.Connected,
		ConnectedAt: time.Now(),
	}
	if p, ok := peer.FromContext(stream.Context()); ok {
		client.RemoteAddr = p.Addr.String()
	}

	sub, err := h.hub.Subscribe(client.ID)
	if err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	defer h.hub.Unsubscribe(client.ID)

	// Flush headers so the client knows the stream is attached.
	if err := stream.SendHeader(metadata.Pairs("relay-connection-id", client.ID)); err != nil {
		return err
	}

	if h.metrics != nil {
		h.metrics.ClientsConnected.WithLabelValues(transportName).Inc()
		h.metrics.ConnectionsTotal.WithLabelValues(transportName).Inc()
		defer h.metrics.ClientsConnected.WithLabelValues(transportName).Dec()
	}

	h.logger.Info("Client connected",
		logger.String("connection_id", client.ID),
		logger.String("transport", transportName),
		logger.String("remote_addr", client.RemoteAddr),
	)
	defer func() {
		h.logger.Info("Client disconnected",
			logger.String("connection_id", client.ID),
			logger.String("transport", transportName),
			logger.Duration("duration", time.Since(client.ConnectedAt)),
			logger.Uint64("dropped", sub.Dropped()),
		)
	}()

	for {
		select {
		case <-stream.Context().Done():
			return nil

		case msg, ok := <-sub.Messages():
			if !ok {
				return status.Error(codes.Unavailable, "relay detached")
			}

			frame, err := msg.Encode()
			if err != nil {
				h.logger.Error("Failed to encode frame", logger.Error(err))
				continue
			}
			if err := stream.Send(wrapperspb.Bytes(frame)); err != nil {
				return fmt.Errorf("failed to send frame: %w", err)
			}
		}
	}
}
