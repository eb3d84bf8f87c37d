// Package relayclient consumes the relay's broadcast stream over
// WebSocket or gRPC and hands each frame to a Handler.
package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/moroshma/AssetRelay/pkg/logger"
)

// Transports
const (
	TransportWebSocket = "ws"
	TransportGRPC      = "grpc"
)

// ErrClosedByRelay is returned when the relay ends the stream
var ErrClosedByRelay = errors.New("relay closed the stream")

// Frame is one relayed event as written by the relay
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler receives frames in arrival order
type Handler interface {
	HandleFrame(f Frame)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(f Frame)

// HandleFrame calls fn(f)
func (fn HandlerFunc) HandleFrame(f Frame) {
	fn(f)
}

// Config represents relay client configuration
type Config struct {
	URL         string
	Transport   string
	EventName   string
	DialTimeout time.Duration
}

// Client is a connection to the relay
type Client interface {
	// Run delivers frames to h until ctx is cancelled (returns nil) or the
	// connection fails.
	Run(ctx context.Context, h Handler) error

	// Ready is closed once the stream is established
	Ready() <-chan struct{}
}

// New creates a client for cfg.Transport
func New(cfg Config, log *logger.Logger) (Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("relay url cannot be empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	switch cfg.Transport {
	case "", TransportWebSocket:
		return newWSClient(cfg, log), nil
	case TransportGRPC:
		return newGRPCClient(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown relay transport %q", cfg.Transport)
	}
}

// dispatch decodes raw and forwards it when the event name matches
func dispatch(raw []byte, eventName string, h Handler, log *logger.Logger) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warn("Discarding malformed frame", logger.Error(err))
		return
	}
	if eventName != "" && f.Event != eventName {
		return
	}
	h.HandleFrame(f)
}
