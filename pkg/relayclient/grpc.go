package relayclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/moroshma/AssetRelay/pkg/logger"
	"github.com/moroshma/AssetRelay/pkg/relayapi"
)

type grpcClient struct {
	cfg       Config
	logger    *logger.Logger
	dialOpts  []grpc.DialOption
	ready     chan struct{}
	readyOnce sync.Once
}

func newGRPCClient(cfg Config, log *logger.Logger) *grpcClient {
	return &grpcClient{
		cfg:      cfg,
		logger:   log,
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		ready:    make(chan struct{}),
	}
}

func (c *grpcClient) Ready() <-chan struct{} {
	return c.ready
}

func (c *grpcClient) Run(ctx context.Context, h Handler) error {
	conn, err := grpc.NewClient(c.cfg.URL, c.dialOpts...)
	if err != nil {
		return fmt.Errorf("failed to create relay client: %w", err)
	}
	defer conn.Close()

	stream, err := relayapi.NewRelayClient(conn).Subscribe(ctx, &emptypb.Empty{})
	if err != nil {
		return fmt.Errorf("failed to subscribe to relay: %w", err)
	}

	// Headers arrive once the server attached the stream to its hub.
	md, err := stream.Header()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to open relay stream: %w", err)
	}

	connID := ""
	if v := md.Get("relay-connection-id"); len(v) > 0 {
		connID = v[0]
	}
	c.logger.Info("Connected to relay",
		logger.String("target", c.cfg.URL),
		logger.String("connection_id", connID),
	)
	c.readyOnce.Do(func() { close(c.ready) })

	for {
		frame, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled {
				return nil
			}
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Unavailable {
				return fmt.Errorf("%w: %v", ErrClosedByRelay, err)
			}
			return fmt.Errorf("relay stream failed: %w", err)
		}
		dispatch(frame.GetValue(), c.cfg.EventName, h, c.logger)
	}
}
