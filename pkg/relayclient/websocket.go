package relayclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/moroshma/AssetRelay/pkg/logger"
)

type wsClient struct {
	cfg       Config
	logger    *logger.Logger
	ready     chan struct{}
	readyOnce sync.Once
}

func newWSClient(cfg Config, log *logger.Logger) *wsClient {
	return &wsClient{cfg: cfg, logger: log, ready: make(chan struct{})}
}

func (c *wsClient) Ready() <-chan struct{} {
	return c.ready
}

func (c *wsClient) Run(ctx context.Context, h Handler) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer conn.Close()

	c.logger.Info("Connected to relay", logger.String("url", c.cfg.URL))
	c.readyOnce.Do(func() { close(c.ready) })

	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseTryAgainLater) {
				return fmt.Errorf("%w: %v", ErrClosedByRelay, err)
			}
			return fmt.Errorf("relay connection lost: %w", err)
		}
		dispatch(data, c.cfg.EventName, h, c.logger)
	}
}
